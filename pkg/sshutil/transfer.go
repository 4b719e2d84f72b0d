package sshutil

import (
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// Transfer moves files between the local machine and one instance over
// SFTP. Each Upload/Download opens its own connection; Transfer itself
// holds no state beyond the endpoint.
type Transfer struct {
	endpoint       Endpoint
	connectTimeout time.Duration
}

// TransferOption configures a Transfer.
type TransferOption func(*Transfer)

// WithTransferConnectTimeout sets the connection timeout.
func WithTransferConnectTimeout(d time.Duration) TransferOption {
	return func(t *Transfer) {
		t.connectTimeout = d
	}
}

// NewTransfer creates a Transfer for one instance endpoint.
func NewTransfer(endpoint Endpoint, opts ...TransferOption) *Transfer {
	t := &Transfer{
		endpoint:       endpoint,
		connectTimeout: DefaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Upload copies a local file onto the instance, creating remote parent
// directories as needed.
func (t *Transfer) Upload(ctx context.Context, localPath, remotePath string) error {
	if localPath == "" || remotePath == "" {
		return fmt.Errorf("sshutil: both local and remote paths are required")
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return fmt.Errorf("sshutil: stat local file: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("sshutil: %s is a directory; uploads move single files", localPath)
	}

	client, sftpClient, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	defer sftpClient.Close()

	local, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("sshutil: open local file: %w", err)
	}
	defer local.Close()

	if dir := path.Dir(remotePath); dir != "" && dir != "." && dir != "/" {
		// Parent may already exist; creation failures surface on Create.
		_ = sftpClient.MkdirAll(dir)
	}

	remote, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("sshutil: create remote file: %w", err)
	}
	defer remote.Close()

	return t.copy(ctx, remote, local, "upload")
}

// Download copies a file from the instance to the local filesystem. A
// partially written local file is removed on failure.
func (t *Transfer) Download(ctx context.Context, remotePath, localPath string) error {
	if localPath == "" || remotePath == "" {
		return fmt.Errorf("sshutil: both local and remote paths are required")
	}

	client, sftpClient, err := t.connect(ctx)
	if err != nil {
		return err
	}
	defer client.Close()
	defer sftpClient.Close()

	remote, err := sftpClient.Open(remotePath)
	if err != nil {
		return fmt.Errorf("sshutil: open remote file: %w", err)
	}
	defer remote.Close()

	if dir := filepath.Dir(localPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("sshutil: create local directory: %w", err)
		}
	}

	local, err := os.Create(localPath)
	if err != nil {
		return fmt.Errorf("sshutil: create local file: %w", err)
	}

	if err := t.copy(ctx, local, remote, "download"); err != nil {
		local.Close()
		os.Remove(localPath)
		return err
	}
	return local.Close()
}

// copy streams src to dst, honoring context cancellation.
func (t *Transfer) copy(ctx context.Context, dst io.Writer, src io.Reader, op string) error {
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(dst, src)
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("sshutil: %s: %w", op, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sshutil: %s cancelled: %w", op, ctx.Err())
	}
}

func (t *Transfer) connect(ctx context.Context) (*ssh.Client, *sftp.Client, error) {
	if err := t.endpoint.validate(); err != nil {
		return nil, nil, err
	}
	signer, err := t.endpoint.signer()
	if err != nil {
		return nil, nil, err
	}

	config := &ssh.ClientConfig{
		User:            t.endpoint.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		Timeout:         t.connectTimeout,
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
	}

	dialer := net.Dialer{Timeout: t.connectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", t.endpoint.addr())
	if err != nil {
		return nil, nil, fmt.Errorf("sshutil: connect %s: %w", t.endpoint.addr(), err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, t.endpoint.addr(), config)
	if err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("sshutil: ssh handshake: %w", err)
	}
	client := ssh.NewClient(sshConn, chans, reqs)

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("sshutil: sftp session: %w", err)
	}
	return client, sftpClient, nil
}
