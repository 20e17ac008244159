package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/fsiopt/fsiopt/pkg/engine"
)

// ErrServerExited is returned once the server has sent EXIT.
var ErrServerExited = errors.New("server exited")

// Transport starts a bridge server and returns its stdin and stdout.
type Transport interface {
	// Open starts the server.
	Open(ctx context.Context) (stdin io.WriteCloser, stdout io.ReadCloser, err error)
	// Close stops the server and releases its resources.
	Close() error
}

// ProcessTransport runs the server as a child process, typically
// "fsiopt serve".
type ProcessTransport struct {
	Path   string
	Args   []string
	Dir    string
	Stderr io.Writer

	cmd *exec.Cmd
}

// Open starts the process.
func (t *ProcessTransport) Open(ctx context.Context) (io.WriteCloser, io.ReadCloser, error) {
	if t.Path == "" {
		return nil, nil, fmt.Errorf("server path is required")
	}
	cmd := exec.CommandContext(ctx, t.Path, t.Args...)
	cmd.Dir = t.Dir
	cmd.Stderr = t.Stderr
	if cmd.Stderr == nil {
		cmd.Stderr = os.Stderr
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, nil, fmt.Errorf("failed to start %s: %w", t.Path, err)
	}
	t.cmd = cmd
	return stdin, stdout, nil
}

// Close waits for the process to exit.
func (t *ProcessTransport) Close() error {
	if t.cmd == nil {
		return nil
	}
	err := t.cmd.Wait()
	t.cmd = nil
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return fmt.Errorf("server exited with code %d", exitErr.ExitCode())
	}
	return err
}

// StreamTransport connects to a server over existing streams, such as
// an in-process server on io.Pipe.
type StreamTransport struct {
	Stdin  io.WriteCloser
	Stdout io.ReadCloser
}

// Open returns the streams.
func (t *StreamTransport) Open(context.Context) (io.WriteCloser, io.ReadCloser, error) {
	if t.Stdin == nil || t.Stdout == nil {
		return nil, nil, fmt.Errorf("both streams are required")
	}
	return t.Stdin, t.Stdout, nil
}

// Close closes the read side.
func (t *StreamTransport) Close() error {
	if t.Stdout == nil {
		return nil
	}
	return t.Stdout.Close()
}

// RemoteError is an ERROR message received from the server.
type RemoteError struct {
	ErrorMessage
}

// Error implements the error interface.
func (e *RemoteError) Error() string {
	if e.Class != "" {
		return fmt.Sprintf("%s (%s): %s", e.Code, e.Class, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ClientConfig contains client configuration options.
type ClientConfig struct {
	Transport      Transport
	StartupTimeout time.Duration
}

// Client sends queries to a bridge server. Queries are serialized.
type Client struct {
	transport Transport
	timeout   time.Duration
	encoder   *Encoder
	decoder   *Decoder
	stdin     io.WriteCloser
	ready     *ReadyMessage
	exit      *ExitMessage
	mu        sync.Mutex
	nextID    int
	closed    bool
}

// NewClient creates a new bridge client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.Transport == nil {
		return nil, fmt.Errorf("transport is required")
	}
	if cfg.StartupTimeout == 0 {
		cfg.StartupTimeout = 30 * time.Second
	}
	return &Client{
		transport: cfg.Transport,
		timeout:   cfg.StartupTimeout,
	}, nil
}

// Start opens the transport and waits for READY.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return fmt.Errorf("client is closed")
	}

	stdin, stdout, err := c.transport.Open(ctx)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	c.stdin = stdin
	c.encoder = NewEncoder(stdin)
	c.decoder = NewDecoder(stdout)

	readyCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	readyCh := make(chan *ReadyMessage, 1)
	errCh := make(chan error, 1)

	go func() {
		msg, err := c.decoder.Decode()
		if err != nil {
			errCh <- err
			return
		}
		if msg.Type != MessageTypeReady {
			errCh <- fmt.Errorf("expected READY, got %s", msg.Type)
			return
		}
		var ready ReadyMessage
		if err := ParseData(msg.Data, &ready); err != nil {
			errCh <- err
			return
		}
		readyCh <- &ready
	}()

	select {
	case <-readyCtx.Done():
		return fmt.Errorf("timeout waiting for READY message")
	case err := <-errCh:
		return fmt.Errorf("failed to receive READY: %w", err)
	case ready := <-readyCh:
		c.ready = ready
		return nil
	}
}

// Ready returns the READY message, or nil before Start.
func (c *Client) Ready() *ReadyMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// Exit returns the EXIT message once the server has exited.
func (c *Client) Exit() *ExitMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.exit
}

// Query sends one query and waits for its answer. A failed query returns
// a *RemoteError. After a fatal error the server exits, and every later
// call returns ErrServerExited.
func (c *Client) Query(ctx context.Context, q engine.Query, x []float64) (*ResultMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}
	if c.encoder == nil {
		return nil, fmt.Errorf("client is not started")
	}
	if c.exit != nil {
		return nil, ErrServerExited
	}

	c.nextID++
	req := &QueryMessage{ID: "q" + strconv.Itoa(c.nextID), Query: string(q), X: x}
	if err := c.encoder.EncodeQuery(req); err != nil {
		return nil, fmt.Errorf("failed to send query: %w", err)
	}

	type reply struct {
		res *ResultMessage
		err error
	}
	replyCh := make(chan reply, 1)
	go func() {
		res, err := c.await(req.ID)
		replyCh <- reply{res, err}
	}()

	select {
	case <-ctx.Done():
		// The reply would arrive out of order; the session is unusable.
		c.closed = true
		_ = c.stdin.Close()
		return nil, ctx.Err()
	case r := <-replyCh:
		return r.res, r.err
	}
}

// await reads messages until the reply to id.
func (c *Client) await(id string) (*ResultMessage, error) {
	for {
		msg, err := c.decoder.Decode()
		if err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}

		switch msg.Type {
		case MessageTypeResult:
			var res ResultMessage
			if err := ParseData(msg.Data, &res); err != nil {
				return nil, fmt.Errorf("failed to parse result: %w", err)
			}
			if res.ID != id {
				return nil, fmt.Errorf("query ID mismatch: expected %s, got %s", id, res.ID)
			}
			return &res, nil

		case MessageTypeError:
			var errMsg ErrorMessage
			if err := ParseData(msg.Data, &errMsg); err != nil {
				return nil, fmt.Errorf("failed to parse error: %w", err)
			}
			if errMsg.ID != "" && errMsg.ID != id {
				return nil, fmt.Errorf("query ID mismatch: expected %s, got %s", id, errMsg.ID)
			}
			if errMsg.Fatal {
				// EXIT follows a fatal error.
				c.readExit()
			}
			return nil, &RemoteError{ErrorMessage: errMsg}

		case MessageTypeExit:
			var exit ExitMessage
			if err := ParseData(msg.Data, &exit); err != nil {
				return nil, fmt.Errorf("failed to parse exit: %w", err)
			}
			c.exit = &exit
			return nil, ErrServerExited

		default:
			return nil, fmt.Errorf("unexpected message type: %s", msg.Type)
		}
	}
}

func (c *Client) readExit() {
	msg, err := c.decoder.Decode()
	if err != nil || msg.Type != MessageTypeExit {
		c.exit = &ExitMessage{Reason: ReasonFatal, ExitCode: ExitFatal}
		return
	}
	var exit ExitMessage
	if err := ParseData(msg.Data, &exit); err != nil {
		exit = ExitMessage{Reason: ReasonFatal, ExitCode: ExitFatal}
	}
	c.exit = &exit
}

// Objective returns the scaled objective at x.
func (c *Client) Objective(ctx context.Context, x []float64) (float64, error) {
	res, err := c.Query(ctx, engine.QueryObjective, x)
	if err != nil {
		return 0, err
	}
	if res.Value == nil {
		return 0, fmt.Errorf("objective reply carries no value")
	}
	return *res.Value, nil
}

// ObjectiveGradient returns the scaled objective gradient at x.
func (c *Client) ObjectiveGradient(ctx context.Context, x []float64) ([]float64, error) {
	res, err := c.Query(ctx, engine.QueryObjectiveGradient, x)
	if err != nil {
		return nil, err
	}
	return res.Vector, nil
}

// ConstraintEq returns the scaled equality constraint values at x.
func (c *Client) ConstraintEq(ctx context.Context, x []float64) ([]float64, error) {
	res, err := c.Query(ctx, engine.QueryConstraintEq, x)
	if err != nil {
		return nil, err
	}
	return res.Vector, nil
}

// ConstraintEqGradient returns the equality constraint jacobian at x.
func (c *Client) ConstraintEqGradient(ctx context.Context, x []float64) ([][]float64, error) {
	res, err := c.Query(ctx, engine.QueryConstraintEqGradient, x)
	if err != nil {
		return nil, err
	}
	return res.Matrix, nil
}

// ConstraintIneq returns the scaled inequality constraint values at x.
func (c *Client) ConstraintIneq(ctx context.Context, x []float64) ([]float64, error) {
	res, err := c.Query(ctx, engine.QueryConstraintIneq, x)
	if err != nil {
		return nil, err
	}
	return res.Vector, nil
}

// ConstraintIneqGradient returns the inequality constraint jacobian at x.
func (c *Client) ConstraintIneqGradient(ctx context.Context, x []float64) ([][]float64, error) {
	res, err := c.Query(ctx, engine.QueryConstraintIneqGradient, x)
	if err != nil {
		return nil, err
	}
	return res.Matrix, nil
}

// Close closes the server's input, which ends the session, and releases
// the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	var errs []error
	if c.stdin != nil {
		if err := c.stdin.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close stdin: %w", err))
		}
	}
	if err := c.transport.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close transport: %w", err))
	}
	return errors.Join(errs...)
}
