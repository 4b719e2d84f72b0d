package vastai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/vastai-client/vastai-go/internal/logging"
	"github.com/vastai-client/vastai-go/internal/metrics"
)

// maxErrorBody caps how much of an error response body is carried in an
// APIError message.
const maxErrorBody = 512

// gateway owns the API key, base URL and HTTP transport. Every call
// attaches the key as the api_key query parameter, performs exactly one
// round trip, and maps non-2xx responses onto the error taxonomy. The
// gateway never retries.
type gateway struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *slog.Logger
}

func (g *gateway) get(ctx context.Context, op, path string, query url.Values) (json.RawMessage, error) {
	return g.do(ctx, op, http.MethodGet, path, query, nil)
}

func (g *gateway) put(ctx context.Context, op, path string, body any) (json.RawMessage, error) {
	return g.do(ctx, op, http.MethodPut, path, nil, body)
}

func (g *gateway) delete(ctx context.Context, op, path string) (json.RawMessage, error) {
	return g.do(ctx, op, http.MethodDelete, path, nil, struct{}{})
}

// do performs one authenticated round trip and returns the raw JSON body.
func (g *gateway) do(ctx context.Context, op, method, path string, query url.Values, body any) (json.RawMessage, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, newAPIError(op, 0, err.Error(), ErrTransport)
	}

	reqURL, err := g.buildURL(path, query)
	if err != nil {
		return nil, newAPIError(op, 0, err.Error(), ErrTransport)
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return nil, newAPIError(op, 0, fmt.Sprintf("encode request body: %v", err), ErrTransport)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reqBody)
	if err != nil {
		return nil, newAPIError(op, 0, err.Error(), ErrTransport)
	}
	req.Header.Set("Accept", "application/json")
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	ctx = logging.WithRequestID(ctx, uuid.NewString())
	// The API key travels in the query string; log the path only.
	g.logger.DebugContext(ctx, "marketplace request",
		slog.String("operation", op),
		slog.String("method", method),
		slog.String("path", path))

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		metrics.RecordAPICall(op, "transport", time.Since(start))
		g.logger.DebugContext(ctx, "marketplace request failed",
			slog.String("operation", op),
			slog.String("error", err.Error()))
		return nil, newAPIError(op, 0, err.Error(), ErrTransport)
	}
	defer resp.Body.Close()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordAPICall(op, "transport", time.Since(start))
		return nil, newAPIError(op, 0, fmt.Sprintf("read response body: %v", err), ErrTransport)
	}

	metrics.RecordAPICall(op, strconv.Itoa(resp.StatusCode), time.Since(start))
	g.logger.DebugContext(ctx, "marketplace response",
		slog.String("operation", op),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, g.statusError(op, resp.StatusCode, payload)
	}
	return payload, nil
}

// buildURL joins the base URL, path and query, attaching the API key
// exactly once.
func (g *gateway) buildURL(path string, query url.Values) (string, error) {
	u, err := url.Parse(g.baseURL + path)
	if err != nil {
		return "", fmt.Errorf("invalid request URL: %w", err)
	}
	q := u.Query()
	for key, values := range query {
		for _, v := range values {
			q.Add(key, v)
		}
	}
	q.Set("api_key", g.apiKey)
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// statusError maps a non-2xx response onto the error taxonomy, carrying a
// snippet of the response body for diagnostics.
func (g *gateway) statusError(op string, statusCode int, body []byte) error {
	message := strings.TrimSpace(string(body))
	if len(message) > maxErrorBody {
		message = message[:maxErrorBody]
	}
	if message == "" {
		message = http.StatusText(statusCode)
	}

	var base error
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		base = ErrAuthentication
	case http.StatusNotFound:
		base = ErrNotFound
	case http.StatusTooManyRequests:
		base = ErrRateLimited
	default:
		base = ErrRemoteService
	}
	return newAPIError(op, statusCode, message, base)
}
