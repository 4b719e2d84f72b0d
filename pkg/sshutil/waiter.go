package sshutil

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
)

const (
	// DefaultWaitTimeout bounds how long WaitReady polls before giving
	// up. Marketplace instances usually publish sshd within a couple of
	// minutes of launch.
	DefaultWaitTimeout = 5 * time.Minute

	// DefaultPollInterval is the pause between connection attempts.
	DefaultPollInterval = 15 * time.Second

	// DefaultConnectTimeout bounds each individual attempt.
	DefaultConnectTimeout = 30 * time.Second

	// probeCommand is executed to prove the session is usable, not just
	// that the port accepts connections.
	probeCommand = "echo ok"
)

// WaitResult describes how a WaitReady call ended.
type WaitResult struct {
	Ready    bool
	Duration time.Duration
	Attempts int
	LastErr  string
}

// Waiter polls an instance's ssh endpoint until it accepts a session.
type Waiter struct {
	waitTimeout    time.Duration
	pollInterval   time.Duration
	connectTimeout time.Duration
}

// WaiterOption configures a Waiter.
type WaiterOption func(*Waiter)

// WithWaitTimeout sets the total polling budget.
func WithWaitTimeout(d time.Duration) WaiterOption {
	return func(w *Waiter) {
		w.waitTimeout = d
	}
}

// WithPollInterval sets the pause between attempts.
func WithPollInterval(d time.Duration) WaiterOption {
	return func(w *Waiter) {
		w.pollInterval = d
	}
}

// WithConnectTimeout sets the per-attempt timeout.
func WithConnectTimeout(d time.Duration) WaiterOption {
	return func(w *Waiter) {
		w.connectTimeout = d
	}
}

// NewWaiter creates a Waiter with the default timing.
func NewWaiter(opts ...WaiterOption) *Waiter {
	w := &Waiter{
		waitTimeout:    DefaultWaitTimeout,
		pollInterval:   DefaultPollInterval,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// WaitReady polls the endpoint until an SSH session succeeds, the timeout
// elapses, or the context is cancelled.
func (w *Waiter) WaitReady(ctx context.Context, endpoint Endpoint) (*WaitResult, error) {
	if err := endpoint.validate(); err != nil {
		return nil, err
	}
	signer, err := endpoint.signer()
	if err != nil {
		return nil, err
	}

	start := time.Now()
	deadline := start.Add(w.waitTimeout)
	result := &WaitResult{}

	for {
		result.Attempts++

		if time.Now().After(deadline) {
			result.Duration = time.Since(start)
			return result, fmt.Errorf("sshutil: not reachable after %d attempts: %s", result.Attempts, result.LastErr)
		}
		if err := ctx.Err(); err != nil {
			result.Duration = time.Since(start)
			result.LastErr = err.Error()
			return result, err
		}

		if err := w.probe(ctx, endpoint, signer); err == nil {
			result.Ready = true
			result.Duration = time.Since(start)
			return result, nil
		} else {
			result.LastErr = err.Error()
		}

		sleep := w.pollInterval
		if remaining := time.Until(deadline); sleep > remaining {
			sleep = remaining
		}
		select {
		case <-ctx.Done():
			result.Duration = time.Since(start)
			result.LastErr = ctx.Err().Error()
			return result, ctx.Err()
		case <-time.After(sleep):
		}
	}
}

// probe runs one connection attempt and executes the probe command.
func (w *Waiter) probe(ctx context.Context, endpoint Endpoint, signer ssh.Signer) error {
	config := &ssh.ClientConfig{
		User:    endpoint.User,
		Auth:    []ssh.AuthMethod{ssh.PublicKeys(signer)},
		Timeout: w.connectTimeout,
		// Instances get fresh host keys on every launch.
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	dialer := net.Dialer{Timeout: w.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", endpoint.addr())
	if err != nil {
		return fmt.Errorf("connect %s: %w", endpoint.addr(), err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, endpoint.addr(), config)
	if err != nil {
		conn.Close()
		return fmt.Errorf("ssh handshake: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var out bytes.Buffer
	session.Stdout = &out
	if err := session.Run(probeCommand); err != nil {
		return fmt.Errorf("run probe: %w", err)
	}
	if strings.TrimSpace(out.String()) != "ok" {
		return fmt.Errorf("unexpected probe output %q", out.String())
	}
	return nil
}
