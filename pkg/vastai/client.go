// Package vastai is a client for the Vast.ai GPU rental marketplace REST
// API. It covers offer search, instance creation and teardown, and the
// instance lifecycle operations the console exposes.
//
// The client is stateless: it holds only credentials and transport
// configuration, and every operation is one independent remote
// interaction. A single Client is safe for concurrent use.
package vastai

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/time/rate"

	"github.com/vastai-client/vastai-go/pkg/query"
)

const (
	// DefaultBaseURL is the production marketplace endpoint.
	DefaultBaseURL = "https://console.vast.ai/api/v0"

	defaultTimeout     = 30 * time.Second
	defaultMinInterval = time.Second
	defaultDiskGB      = 10
)

// Client is the marketplace client facade.
type Client struct {
	gw       *gateway
	validate *validator.Validate
}

// Option configures the client.
type Option func(*Client)

// WithBaseURL overrides the marketplace endpoint (for testing or proxies).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.gw.baseURL = baseURL
	}
}

// WithHTTPClient sets a custom HTTP transport. Timeouts and deadlines are
// the transport's responsibility; the client adds none of its own.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.gw.httpClient = httpClient
	}
}

// WithMinInterval sets the minimum interval between requests. Zero
// disables client-side pacing.
func WithMinInterval(d time.Duration) Option {
	return func(c *Client) {
		if d <= 0 {
			c.gw.limiter = rate.NewLimiter(rate.Inf, 1)
		} else {
			c.gw.limiter = rate.NewLimiter(rate.Every(d), 1)
		}
	}
}

// WithLogger sets the logger used for request/response debug logging.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.gw.logger = logger
	}
}

// NewClient creates a marketplace client. The API key is required; it is
// attached to every request and never logged.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		gw: &gateway{
			apiKey:     apiKey,
			baseURL:    DefaultBaseURL,
			httpClient: &http.Client{Timeout: defaultTimeout},
			limiter:    rate.NewLimiter(rate.Every(defaultMinInterval), 1),
			logger:     slog.Default(),
		},
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SearchOption adjusts a single SearchOffers call.
type SearchOption func(*searchConfig)

type searchConfig struct {
	offerType       string
	noDefaults      bool
	disableBundling bool
	storageGB       float64
}

// WithOfferType selects "on-demand" (default), "bid" (interruptible) or
// "reserved" offers.
func WithOfferType(offerType string) SearchOption {
	return func(sc *searchConfig) {
		sc.offerType = offerType
	}
}

// WithoutDefaults drops the implicit verified/external/rentable
// constraints.
func WithoutDefaults() SearchOption {
	return func(sc *searchConfig) {
		sc.noDefaults = true
	}
}

// WithBundlingDisabled shows identical offers individually. The
// marketplace rate limits this variant more heavily.
func WithBundlingDisabled() SearchOption {
	return func(sc *searchConfig) {
		sc.disableBundling = true
	}
}

// WithStorage sets the disk allocation, in GB, that offer prices are
// quoted against. The marketplace default is 5 GB.
func WithStorage(gb float64) SearchOption {
	return func(sc *searchConfig) {
		sc.storageGB = gb
	}
}

// SearchOffers queries the marketplace for rentable machine offers.
//
// The filter expression combines `field op value` comparisons with
// implicit AND, e.g. "reliability > 0.98 num_gpus=1 gpu_name=RTX_3090".
// sortOrder is a comma-separated field list, each suffixed with '-' for
// descending, e.g. "dph-" or "num_gpus,total_flops-". Offers are returned
// in the order the marketplace ranked them.
func (c *Client) SearchOffers(ctx context.Context, expr, sortOrder string, opts ...SearchOption) ([]Offer, error) {
	q, err := query.Parse(expr)
	if err != nil {
		return nil, err
	}
	if q.Order, err = query.ParseSort(sortOrder); err != nil {
		return nil, err
	}

	sc := searchConfig{offerType: "on-demand", storageGB: 5}
	for _, opt := range opts {
		opt(&sc)
	}

	body := q.Params(sc.offerType, !sc.noDefaults, sc.disableBundling)
	body["allocated_storage"] = sc.storageGB

	params, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("vastai: encode search query: %w", err)
	}

	raw, err := c.gw.get(ctx, "SearchOffers", "/bundles/", url.Values{"q": {string(params)}})
	if err != nil {
		return nil, err
	}
	return c.mapOffers(raw)
}

// ListInstances returns the caller's instances, running or not.
func (c *Client) ListInstances(ctx context.Context) ([]Instance, error) {
	raw, err := c.gw.get(ctx, "ListInstances", "/instances/", url.Values{"owner": {"me"}})
	if err != nil {
		return nil, err
	}
	return c.mapInstances(raw)
}

// ShowInstance fetches the current state of one instance.
func (c *Client) ShowInstance(ctx context.Context, instanceID int) (*Instance, error) {
	raw, err := c.gw.get(ctx, "ShowInstance", fmt.Sprintf("/instances/%d/", instanceID), nil)
	if err != nil {
		return nil, err
	}
	return c.mapInstance(raw)
}

// CreateInstance rents the machine behind an offer and launches the
// configured image on it. The returned instance is freshly fetched and
// typically still in the loading state. An invalid or expired offer ID
// fails with ErrNotFound.
func (c *Client) CreateInstance(ctx context.Context, offerID int, opts LaunchOptions) (*Instance, error) {
	if err := c.validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("vastai: invalid launch options: %w", err)
	}
	runtype, err := opts.runtype()
	if err != nil {
		return nil, err
	}

	disk := opts.DiskGB
	if disk == 0 {
		disk = defaultDiskGB
	}

	env := make(map[string]string, len(opts.Env)+len(opts.PortMappings))
	for k, v := range opts.Env {
		env[k] = v
	}
	// Port mappings ride in the env map with a "-p" prefix, the
	// convention the marketplace inherited from its CLI.
	for _, pm := range opts.PortMappings {
		env["-p "+pm] = "1"
	}
	if len(env) == 0 {
		env = nil
	}

	req := createInstanceRequest{
		ClientID:      "me",
		Image:         opts.Image,
		Args:          opts.Args,
		Env:           env,
		Disk:          disk,
		Label:         opts.Label,
		OnStart:       opts.OnStart,
		RunType:       runtype,
		ImageLogin:    opts.ImageLogin,
		PythonUTF8:    opts.PythonUTF8,
		LangUTF8:      opts.LangUTF8,
		UseJupyterLab: opts.JupyterLab,
		JupyterDir:    opts.JupyterDir,
		CreateFrom:    opts.CreateFrom,
		Force:         opts.Force,
	}
	if opts.Bid > 0 {
		bid := opts.Bid
		req.Price = &bid
	}

	raw, err := c.gw.put(ctx, "CreateInstance", fmt.Sprintf("/asks/%d/", offerID), req)
	if err != nil {
		return nil, err
	}

	var result createInstanceResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, schemaError("instance", err)
	}
	if !result.Success {
		msg := result.Error
		if msg == "" {
			msg = result.Msg
		}
		return nil, newAPIError("CreateInstance", 0, msg, ErrRemoteService)
	}

	return c.ShowInstance(ctx, result.NewContract)
}

// DestroyInstance tears down an instance. This is irreversible and deletes
// the instance's data. Destroying an unknown instance fails with
// ErrNotFound.
func (c *Client) DestroyInstance(ctx context.Context, instanceID int) error {
	raw, err := c.gw.delete(ctx, "DestroyInstance", fmt.Sprintf("/instances/%d/", instanceID))
	if err != nil {
		return err
	}
	return checkSuccess("DestroyInstance", raw)
}

// StartInstance starts a stopped instance.
func (c *Client) StartInstance(ctx context.Context, instanceID int) error {
	return c.setInstanceState(ctx, "StartInstance", instanceID, "running")
}

// StopInstance stops a running instance without destroying its data.
func (c *Client) StopInstance(ctx context.Context, instanceID int) error {
	return c.setInstanceState(ctx, "StopInstance", instanceID, "stopped")
}

func (c *Client) setInstanceState(ctx context.Context, op string, instanceID int, state string) error {
	raw, err := c.gw.put(ctx, op, fmt.Sprintf("/instances/%d/", instanceID), map[string]string{"state": state})
	if err != nil {
		return err
	}
	return checkSuccess(op, raw)
}

// RebootInstance stops and restarts an instance.
func (c *Client) RebootInstance(ctx context.Context, instanceID int) error {
	raw, err := c.gw.put(ctx, "RebootInstance", fmt.Sprintf("/instances/reboot/%d/", instanceID), struct{}{})
	if err != nil {
		return err
	}
	return checkSuccess("RebootInstance", raw)
}

// LabelInstance assigns a label to an instance.
func (c *Client) LabelInstance(ctx context.Context, instanceID int, label string) error {
	raw, err := c.gw.put(ctx, "LabelInstance", fmt.Sprintf("/instances/%d/", instanceID), map[string]string{"label": label})
	if err != nil {
		return err
	}
	return checkSuccess("LabelInstance", raw)
}

// ChangeBid updates the bid price of an interruptible instance.
func (c *Client) ChangeBid(ctx context.Context, instanceID int, price float64) error {
	body := map[string]any{"client_id": "me", "price": price}
	raw, err := c.gw.put(ctx, "ChangeBid", fmt.Sprintf("/instances/bid_price/%d/", instanceID), body)
	if err != nil {
		return err
	}
	return checkSuccess("ChangeBid", raw)
}

// Execute runs a constrained remote command on an instance.
func (c *Client) Execute(ctx context.Context, instanceID int, command string) error {
	body := map[string]string{"command": command}
	raw, err := c.gw.put(ctx, "Execute", fmt.Sprintf("/instances/command/%d/", instanceID), body)
	if err != nil {
		return err
	}
	return checkSuccess("Execute", raw)
}

// SSHURL returns the ssh:// URL for an instance.
func (c *Client) SSHURL(ctx context.Context, instanceID int) (string, error) {
	return c.connectionURL(ctx, instanceID, "ssh")
}

// SCPURL returns the scp:// URL for an instance.
func (c *Client) SCPURL(ctx context.Context, instanceID int) (string, error) {
	return c.connectionURL(ctx, instanceID, "scp")
}

func (c *Client) connectionURL(ctx context.Context, instanceID int, scheme string) (string, error) {
	inst, err := c.ShowInstance(ctx, instanceID)
	if err != nil {
		return "", err
	}
	if inst.SSHHost == "" || inst.SSHPort == 0 {
		return "", fmt.Errorf("vastai: instance %d has no ssh endpoint yet (status %s)", instanceID, inst.ActualStatus)
	}
	return fmt.Sprintf("%s://root@%s:%d", scheme, inst.SSHHost, inst.SSHPort), nil
}

// CopyRemote starts a marketplace-side rsync between two instance paths.
// src and dst use the instance_id:path locator form.
func (c *Client) CopyRemote(ctx context.Context, src, dst string) error {
	srcID, srcPath, err := ParseLocator(src)
	if err != nil {
		return err
	}
	dstID, dstPath, err := ParseLocator(dst)
	if err != nil {
		return err
	}

	body := map[string]any{
		"client_id": "me",
		"src_id":    srcID,
		"dst_id":    dstID,
		"src_path":  srcPath,
		"dst_path":  dstPath,
	}
	raw, err := c.gw.put(ctx, "CopyRemote", "/commands/rsync/", body)
	if err != nil {
		return err
	}
	return checkSuccess("CopyRemote", raw)
}

// checkSuccess parses the {success, msg} envelope mutation endpoints
// return with HTTP 200 and surfaces success=false as an error.
func checkSuccess(op string, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var result commandResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return schemaError("command", err)
	}
	if !result.Success {
		return newAPIError(op, 0, result.message(), ErrRemoteService)
	}
	return nil
}
