// Package sshexec runs single commands on remote nodes over SSH.
package sshexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/steadyops/steward/pkg/models"
)

const (
	dialTimeout = 15 * time.Second
	execTimeout = 180 * time.Second
)

// Result holds the outcome of a remote command. Output carries stdout and
// stderr joined, with a failure's message when the command could not run.
type Result struct {
	Success bool
	Output  string
}

// Executor opens a fresh SSH connection per command. Nodes are few and
// commands sparse, so pooling connections buys nothing here.
type Executor struct {
	logger *slog.Logger
}

// NewExecutor creates a new Executor.
func NewExecutor() *Executor {
	return &Executor{logger: slog.With("component", "sshexec")}
}

// Run executes command on the node and returns its combined output.
// Success reflects the remote exit status; connection and authentication
// problems are returned as errors instead.
func (e *Executor) Run(ctx context.Context, node *models.SSHNode, command string) (*Result, error) {
	cfg, err := clientConfig(node)
	if err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", node.SSHHost, node.SSHPort)
	client, err := ssh.Dial("tcp", addr, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", addr, err)
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("open session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	runCtx, cancel := context.WithTimeout(ctx, execTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- session.Run(command) }()

	select {
	case err = <-done:
	case <-runCtx.Done():
		// Closing the connection unblocks the Run goroutine.
		_ = client.Close()
		<-done
		return nil, fmt.Errorf("command timed out after %s", execTimeout)
	}

	success := err == nil
	if err != nil {
		var exitErr *ssh.ExitError
		var missingErr *ssh.ExitMissingError
		if !errors.As(err, &exitErr) && !errors.As(err, &missingErr) {
			return nil, fmt.Errorf("run command: %w", err)
		}
	}

	return &Result{Success: success, Output: joinOutput(stdout.String(), stderr.String())}, nil
}

// clientConfig builds the auth method from the node's credentials.
func clientConfig(node *models.SSHNode) (*ssh.ClientConfig, error) {
	var auth ssh.AuthMethod
	switch node.SSHAuthType {
	case models.SSHAuthPassword:
		auth = ssh.Password(node.SSHPassword)
	case models.SSHAuthPrivateKey:
		if node.SSHPrivateKey == "" {
			return nil, errors.New("private key is empty")
		}
		signer, err := parsePrivateKey(node.SSHPrivateKey, node.SSHPassphrase)
		if err != nil {
			return nil, err
		}
		auth = ssh.PublicKeys(signer)
	default:
		return nil, fmt.Errorf("unsupported auth type %q", node.SSHAuthType)
	}

	return &ssh.ClientConfig{
		User:            node.SSHUsername,
		Auth:            []ssh.AuthMethod{auth},
		HostKeyCallback: ssh.InsecureIgnoreHostKey(),
		Timeout:         dialTimeout,
	}, nil
}

// parsePrivateKey accepts any key format the ssh package understands
// (RSA, Ed25519, ECDSA, DSA) with or without a passphrase.
func parsePrivateKey(pemKey, passphrase string) (ssh.Signer, error) {
	var (
		signer ssh.Signer
		err    error
	)
	if passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase([]byte(pemKey), []byte(passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey([]byte(pemKey))
	}
	if err != nil {
		return nil, errors.New("unsupported or invalid private key")
	}
	return signer, nil
}

// joinOutput merges stdout and stderr the way an interactive shell would
// show them, replacing invalid UTF-8 so the result is always encodable.
func joinOutput(stdout, stderr string) string {
	out := stdout
	if out != "" && stderr != "" {
		out += "\n"
	}
	out += stderr
	out = strings.TrimSpace(strings.ToValidUTF8(out, "�"))
	if out == "" {
		out = "(empty output)"
	}
	return out
}
