package ssh

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/sftp"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/ssh"
)

// TransportError describes a failed SSH or SFTP operation.
type TransportError struct {
	// Op is the operation that failed, e.g. "connect" or "upload".
	Op string

	Err error

	// IsTemporary reports a failure that may succeed on retry.
	IsTemporary bool

	// IsAuthError reports an authentication failure.
	IsAuthError bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("ssh %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// Client is a single SSH connection shared by command sessions and SFTP.
type Client struct {
	config *Config

	mu          sync.RWMutex
	client      *ssh.Client
	connectedAt time.Time
	stopKeep    chan struct{}
}

// NewClient creates a new SSH client. It does not connect.
func NewClient(config *Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Client{config: config}, nil
}

// Connect establishes the SSH connection if it is not already up.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.client != nil {
		if _, _, err := c.client.SendRequest("keepalive@openssh.com", true, nil); err == nil {
			return nil
		}
		log.Warn().Str("host", c.config.Host).Msg("existing connection is dead, reconnecting")
		c.closeLocked()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	address := c.config.Address()
	log.Debug().Str("address", address).Msg("establishing SSH connection")

	connChan := make(chan *ssh.Client, 1)
	errChan := make(chan error, 1)

	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		if err != nil {
			errChan <- err
			return
		}
		connChan <- client
	}()

	select {
	case <-ctx.Done():
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case err := <-errChan:
		return &TransportError{Op: "connect", Err: err, IsTemporary: true}
	case client := <-connChan:
		c.client = client
		c.connectedAt = time.Now()
		if c.config.KeepAliveInterval > 0 {
			c.stopKeep = make(chan struct{})
			go c.keepAlive(client, c.stopKeep)
		}
		log.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

func (c *Client) closeLocked() error {
	if c.client == nil {
		return nil
	}
	if c.stopKeep != nil {
		close(c.stopKeep)
		c.stopKeep = nil
	}
	err := c.client.Close()
	c.client = nil
	if err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

// IsConnected returns true if the client has an open connection.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.client != nil
}

func (c *Client) getClient() (*ssh.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, &TransportError{Op: "get-client", Err: fmt.Errorf("not connected")}
	}
	return c.client, nil
}

// keepAlive sends periodic keep-alive requests while a solver runs.
func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			log.Warn().Err(err).Int("retries", retries).Msg("keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				log.Error().Msg("keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
	}
}

// Run executes cmd on the remote host, streaming its combined output to
// out. It returns the exit status of the command; a non-zero status is
// not an error.
func (c *Client) Run(ctx context.Context, cmd string, out io.Writer) (int, error) {
	client, err := c.getClient()
	if err != nil {
		return 0, err
	}

	session, err := client.NewSession()
	if err != nil {
		return 0, &TransportError{Op: "execute", Err: fmt.Errorf("failed to create session: %w", err), IsTemporary: true}
	}
	defer session.Close()

	session.Stdout = out
	session.Stderr = out

	log.Debug().Str("command", cmd).Msg("executing remote command")

	doneChan := make(chan error, 1)
	go func() {
		doneChan <- session.Run(cmd)
	}()

	var execErr error
	select {
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGTERM)
		time.Sleep(100 * time.Millisecond)
		_ = session.Signal(ssh.SIGKILL)
		return 0, &TransportError{Op: "execute", Err: ctx.Err()}
	case execErr = <-doneChan:
	}

	if execErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(execErr, &exitErr) {
			return exitErr.ExitStatus(), nil
		}
		return 0, &TransportError{Op: "execute", Err: execErr, IsTemporary: true}
	}
	return 0, nil
}

// SFTP opens an SFTP session on the connection. The caller closes it.
func (c *Client) SFTP() (*sftp.Client, error) {
	client, err := c.getClient()
	if err != nil {
		return nil, err
	}
	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return nil, &TransportError{
			Op:          "sftp-init",
			Err:         fmt.Errorf("failed to create SFTP client: %w", err),
			IsTemporary: true,
		}
	}
	return sftpClient, nil
}
