// Package ssh runs provisio's commands and file operations on a remote host.
package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net"
	"os"
	"path"
	"strings"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/provisio/provisio/pkg/transports"
)

// Client is a transports.Runner backed by one SSH connection and one SFTP
// session, opened lazily and shared by concurrent callers.
type Client struct {
	config *Config
	logger zerolog.Logger

	mu         sync.Mutex
	client     *ssh.Client
	sftp       *sftp.Client
	closeAgent func() error
}

var _ transports.Runner = (*Client)(nil)

// NewClient validates cfg and returns an unconnected client.
func NewClient(cfg *Config, logger zerolog.Logger) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid ssh config: %w", err)
	}
	return &Client{
		config: cfg,
		logger: logger.With().Str("component", "ssh_runner").Str("host", cfg.Address()).Logger(),
	}, nil
}

// Connect dials the host if no connection is open.
func (c *Client) Connect(ctx context.Context) error {
	_, err := c.conn(ctx)
	return err
}

func (c *Client) conn(ctx context.Context) (*ssh.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		return c.client, nil
	}

	clientConfig, closeAgent, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return nil, err
	}

	address := c.config.Address()
	c.logger.Debug().Msg("Establishing SSH connection")

	dialer := net.Dialer{Timeout: c.config.ConnectionTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		_ = closeAgent()
		return nil, fmt.Errorf("failed to dial %s: %w", address, err)
	}
	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, clientConfig)
	if err != nil {
		_ = netConn.Close()
		_ = closeAgent()
		return nil, fmt.Errorf("ssh handshake with %s failed: %w", address, err)
	}

	c.client = ssh.NewClient(sshConn, chans, reqs)
	c.closeAgent = closeAgent
	c.logger.Info().Msg("SSH connection established")
	return c.client, nil
}

func (c *Client) sftpClient(ctx context.Context) (*sftp.Client, error) {
	client, err := c.conn(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sftp != nil {
		return c.sftp, nil
	}
	s, err := sftp.NewClient(client)
	if err != nil {
		return nil, fmt.Errorf("failed to start sftp session: %w", err)
	}
	c.sftp = s
	return s, nil
}

// commandLine renders cmd for the remote shell.
func commandLine(cmd transports.Command, sudo bool) string {
	var parts []string
	if sudo {
		parts = append(parts, "sudo", "-n")
	}
	if len(cmd.Env) > 0 {
		parts = append(parts, "env")
		parts = append(parts, cmd.Env...)
	}
	parts = append(parts, cmd.Name)
	parts = append(parts, cmd.Args...)
	return shellquote.Join(parts...)
}

// Run executes cmd in a new session. Cancelling ctx kills the remote process.
func (c *Client) Run(ctx context.Context, cmd transports.Command) (transports.Result, error) {
	client, err := c.conn(ctx)
	if err != nil {
		return transports.Result{ExitCode: -1}, err
	}

	session, err := client.NewSession()
	if err != nil {
		return transports.Result{ExitCode: -1}, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	line := commandLine(cmd, c.config.Sudo)
	c.logger.Debug().Str("command", line).Msg("Running command")

	done := make(chan error, 1)
	go func() {
		done <- session.Run(line)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return transports.Result{ExitCode: -1}, fmt.Errorf("%s: %w", cmd.Name, ctx.Err())
	case runErr = <-done:
	}

	res := transports.Result{Stdout: stdout.String(), Stderr: stderr.String()}
	if runErr == nil {
		return res, nil
	}

	var exitErr *ssh.ExitError
	if !errors.As(runErr, &exitErr) {
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", cmd.Name, runErr)
	}
	res.ExitCode = exitErr.ExitStatus()
	if isCommandNotFound(res.ExitCode, res.Stderr) {
		return res, &transports.ToolMissingError{Tool: cmd.Name, Err: runErr}
	}
	return res, &transports.ExitError{Command: cmd.String(), ExitCode: res.ExitCode, Stderr: res.Stderr}
}

// isCommandNotFound recognises the shell's 127 and sudo's own message.
func isCommandNotFound(code int, stderr string) bool {
	return code == 127 || strings.Contains(stderr, "command not found")
}

// ReadFile reads a remote file over SFTP.
func (c *Client) ReadFile(ctx context.Context, name string) ([]byte, error) {
	s, err := c.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	f, err := s.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// Stat describes a remote file over SFTP. It needs only search permission
// on the parent directory.
func (c *Client) Stat(ctx context.Context, name string) (fs.FileInfo, error) {
	s, err := c.sftpClient(ctx)
	if err != nil {
		return nil, err
	}
	return s.Stat(name)
}

// WriteFile uploads to a temporary sibling and renames it over name.
func (c *Client) WriteFile(ctx context.Context, name string, data []byte, mode fs.FileMode) error {
	s, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}
	if err := s.MkdirAll(path.Dir(name)); err != nil {
		return fmt.Errorf("failed to create %s: %w", path.Dir(name), err)
	}

	tmp := path.Join(path.Dir(name), "."+path.Base(name)+".provisio-tmp")
	f, err := s.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.Remove(tmp)
		return err
	}
	if err := f.Chmod(mode); err != nil {
		_ = f.Close()
		_ = s.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = s.Remove(tmp)
		return err
	}
	return s.PosixRename(tmp, name)
}

// Rename moves a remote file, replacing newpath.
func (c *Client) Rename(ctx context.Context, oldpath, newpath string) error {
	s, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}
	return s.PosixRename(oldpath, newpath)
}

// MkdirAll creates remote directories. The mode is left to the remote umask.
func (c *Client) MkdirAll(ctx context.Context, name string, _ fs.FileMode) error {
	s, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}
	return s.MkdirAll(name)
}

// Remove deletes a remote file, ignoring missing files.
func (c *Client) Remove(ctx context.Context, name string) error {
	s, err := c.sftpClient(ctx)
	if err != nil {
		return err
	}
	if err := s.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// Close closes the SFTP session, the connection and the agent socket.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var result *multierror.Error
	if c.sftp != nil {
		if err := c.sftp.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		c.sftp = nil
	}
	if c.client != nil {
		if err := c.client.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		c.client = nil
	}
	if c.closeAgent != nil {
		if err := c.closeAgent(); err != nil {
			result = multierror.Append(result, err)
		}
		c.closeAgent = nil
	}
	return result.ErrorOrNil()
}

func (c *Client) String() string {
	return "ssh://" + c.config.User + "@" + c.config.Address()
}
