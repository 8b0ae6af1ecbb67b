package ssh

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"

	// AuthMethodAgent uses the agent listening on SSH_AUTH_SOCK
	AuthMethodAgent AuthMethod = "agent"
)

// Config holds SSH connection configuration.
type Config struct {
	// Host is the remote hostname or IP address
	Host string

	// Port is the SSH port (default: 22)
	Port int

	// User is the SSH username
	User string

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string

	// KnownHostsPath is the path to the known_hosts file.
	// If empty, host key verification is disabled.
	KnownHostsPath string

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration

	// Sudo runs every command through "sudo -n"
	Sudo bool
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig(host string, user string) *Config {
	return &Config{
		Host:              host,
		Port:              22,
		User:              user,
		AuthMethod:        AuthMethodKey,
		KnownHostsPath:    filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		ConnectionTimeout: 30 * time.Second,
	}
}

// ParseTarget builds a config from "user@host[:port]". The user defaults to
// $USER and the port to 22.
func ParseTarget(target string) (*Config, error) {
	user, hostport, ok := strings.Cut(target, "@")
	if !ok {
		hostport = user
		user = os.Getenv("USER")
	}
	if user == "" {
		return nil, fmt.Errorf("ssh target %q has no user", target)
	}

	host, port := hostport, 22
	if h, p, err := net.SplitHostPort(hostport); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("ssh target %q has invalid port %q", target, p)
		}
		host, port = h, n
	}
	host = strings.Trim(host, "[]")

	cfg := DefaultConfig(host, user)
	cfg.Port = port
	return cfg, cfg.validateAddress()
}

func (c *Config) validateAddress() error {
	if c.Host == "" {
		return errors.New("host is required")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return errors.New("user is required")
	}
	return nil
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if err := c.validateAddress(); err != nil {
		return err
	}

	switch c.AuthMethod {
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			homeDir := os.Getenv("HOME")
			defaultKeys := []string{
				filepath.Join(homeDir, ".ssh", "id_ed25519"),
				filepath.Join(homeDir, ".ssh", "id_rsa"),
				filepath.Join(homeDir, ".ssh", "id_ecdsa"),
			}
			for _, keyPath := range defaultKeys {
				if _, err := os.Stat(keyPath); err == nil {
					c.PrivateKeyPath = keyPath
					break
				}
			}
			if c.PrivateKeyPath == "" {
				return errors.New("private key path is required for key authentication and no default key found")
			}
		}
		if _, err := os.Stat(c.PrivateKeyPath); os.IsNotExist(err) {
			return fmt.Errorf("private key file not found: %s", c.PrivateKeyPath)
		}
	case AuthMethodAgent:
		if os.Getenv("SSH_AUTH_SOCK") == "" {
			return errors.New("agent authentication requires SSH_AUTH_SOCK")
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectionTimeout <= 0 {
		return errors.New("connection timeout must be positive")
	}
	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the Config. The
// returned closer releases the agent connection, if one was opened.
func (c *Config) BuildSSHClientConfig() (*ssh.ClientConfig, func() error, error) {
	var (
		authMethods []ssh.AuthMethod
		closer      = func() error { return nil }
	)

	switch c.AuthMethod {
	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read private key: %w", err)
		}
		signer, err := ssh.ParsePrivateKey(keyBytes)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeys(signer))

	case AuthMethodAgent:
		conn, err := net.Dial("unix", os.Getenv("SSH_AUTH_SOCK"))
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to ssh agent: %w", err)
		}
		authMethods = append(authMethods, ssh.PublicKeysCallback(agent.NewClient(conn).Signers))
		closer = conn.Close

	default:
		return nil, nil, fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if c.KnownHostsPath != "" {
		cb, err := knownhosts.New(c.KnownHostsPath)
		if err != nil {
			_ = closer()
			return nil, nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, closer, nil
}

// Address returns the formatted SSH address (host:port).
func (c *Config) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
