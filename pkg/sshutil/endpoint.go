// Package sshutil provides SSH-level helpers for rented instances: waiting
// for an instance's ssh daemon to come up after launch, and moving files on
// and off an instance over SFTP. The marketplace's rsync command covers
// instance-to-instance copies; this package covers the local side.
package sshutil

import (
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/vastai-client/vastai-go/pkg/vastai"
)

// Endpoint is the SSH address and credentials for one instance. Instances
// run sshd as root; the key must match a key registered with the
// marketplace account.
type Endpoint struct {
	Host       string
	Port       int
	User       string
	PrivateKey []byte // PEM encoded
}

// EndpointFor derives an Endpoint from an instance. The instance must have
// finished loading far enough for the marketplace to publish its ssh
// address.
func EndpointFor(inst *vastai.Instance, privateKey []byte) (Endpoint, error) {
	if inst.SSHHost == "" || inst.SSHPort == 0 {
		return Endpoint{}, fmt.Errorf("sshutil: instance %d has no ssh endpoint (status %s)", inst.ID, inst.ActualStatus)
	}
	return Endpoint{
		Host:       inst.SSHHost,
		Port:       inst.SSHPort,
		User:       "root",
		PrivateKey: privateKey,
	}, nil
}

func (e Endpoint) validate() error {
	if e.Host == "" {
		return fmt.Errorf("sshutil: host cannot be empty")
	}
	if e.Port <= 0 || e.Port > 65535 {
		return fmt.Errorf("sshutil: port must be between 1 and 65535")
	}
	if e.User == "" {
		return fmt.Errorf("sshutil: user cannot be empty")
	}
	if len(e.PrivateKey) == 0 {
		return fmt.Errorf("sshutil: private key cannot be empty")
	}
	return nil
}

func (e Endpoint) addr() string {
	return fmt.Sprintf("%s:%d", e.Host, e.Port)
}

func (e Endpoint) signer() (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(e.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("sshutil: parse private key: %w", err)
	}
	return signer, nil
}
