package bridge

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/fsiopt/fsiopt/pkg/engine"
	"github.com/fsiopt/fsiopt/pkg/telemetry"
)

// Exit codes reported in EXIT messages.
const (
	ExitOK    = 0
	ExitFatal = 1
)

// Exit reasons.
const (
	ReasonInputClosed = "input_closed"
	ReasonCanceled    = "canceled"
	ReasonFatal       = "fatal_error"
	ReasonStreamError = "stream_error"
)

// ErrCodeMalformed is the ERROR code for a line that could not be decoded.
const ErrCodeMalformed = "MALFORMED_MESSAGE"

// Evaluator answers optimizer queries. *engine.Workflow implements it.
type Evaluator interface {
	Evaluate(ctx context.Context, q engine.Query, x []float64) (*engine.Answer, error)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	Evaluator Evaluator
	Version   string
	// Designs is the number of designs known at startup, reported in READY.
	Designs int
	Logger  *telemetry.Logger
}

// Server answers queries read from r and writes replies to w. It serves
// one query at a time.
type Server struct {
	eval    Evaluator
	encoder *Encoder
	decoder *Decoder
	version string
	designs int
	log     *telemetry.Logger
	queries int
}

// NewServer creates a server reading queries from r and writing to w.
func NewServer(cfg ServerConfig, r io.Reader, w io.Writer) (*Server, error) {
	if cfg.Evaluator == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if cfg.Version == "" {
		cfg.Version = "dev"
	}
	if cfg.Logger == nil {
		cfg.Logger = telemetry.NopLogger()
	}
	return &Server{
		eval:    cfg.Evaluator,
		encoder: NewEncoder(w),
		decoder: NewDecoder(r),
		version: cfg.Version,
		designs: cfg.Designs,
		log:     cfg.Logger.NewComponentLogger("bridge"),
	}, nil
}

// Serve sends READY and answers queries until the input closes, the
// context is canceled or a fatal error occurs. It returns the exit code
// it reported in the EXIT message.
func (s *Server) Serve(ctx context.Context) (int, error) {
	if err := s.sendReady(); err != nil {
		return ExitFatal, fmt.Errorf("failed to send READY: %w", err)
	}

	for {
		if ctx.Err() != nil {
			return s.exit(ReasonCanceled, ExitOK)
		}

		done, code, reason, err := s.processNext(ctx)
		if err != nil {
			return ExitFatal, err
		}
		if done {
			return s.exit(reason, code)
		}
	}
}

// Queries returns the number of queries answered or failed so far.
func (s *Server) Queries() int {
	return s.queries
}

func (s *Server) sendReady() error {
	names := make([]string, len(engine.Queries))
	for i, q := range engine.Queries {
		names[i] = string(q)
	}
	return s.encoder.EncodeReady(&ReadyMessage{
		Version: s.version,
		PID:     os.Getpid(),
		Queries: names,
		Designs: s.designs,
	})
}

// processNext handles one input line. done reports whether the session
// is over, with code and reason for the EXIT message.
func (s *Server) processNext(ctx context.Context) (done bool, code int, reason string, err error) {
	q, err := s.decoder.DecodeQuery()
	switch {
	case err == nil:
	case errors.Is(err, io.EOF):
		return true, ExitOK, ReasonInputClosed, nil
	case errors.Is(err, ErrMalformed):
		id := ""
		if q != nil {
			id = q.ID
		}
		s.log.WithError(err).Warn("Discarding malformed message")
		if sendErr := s.encoder.EncodeError(&ErrorMessage{
			ID:      id,
			Code:    ErrCodeMalformed,
			Message: err.Error(),
		}); sendErr != nil {
			return false, 0, "", fmt.Errorf("failed to send error: %w", sendErr)
		}
		return false, 0, "", nil
	default:
		s.log.WithError(err).Error("Failed to read input")
		return true, ExitFatal, ReasonStreamError, nil
	}

	s.queries++
	start := time.Now()
	log := s.log.WithQuery(q.Query).WithField("id", q.ID)

	query, err := engine.ParseQuery(q.Query)
	if err != nil {
		// An unknown query name is the caller's mistake, not the run's.
		log.WithError(err).Warn("Unknown query")
		if sendErr := s.encoder.EncodeError(errorMessage(q.ID, err, false)); sendErr != nil {
			return false, 0, "", fmt.Errorf("failed to send error: %w", sendErr)
		}
		return false, 0, "", nil
	}

	ans, err := s.eval.Evaluate(ctx, query, q.X)
	if err == nil {
		log.WithDesign(ans.Design).Debug("Query answered")
		if sendErr := s.encoder.EncodeResult(&ResultMessage{
			ID:       q.ID,
			Query:    string(ans.Query),
			Design:   ans.Design,
			Value:    ans.Value,
			Vector:   ans.Vector,
			Matrix:   ans.Matrix,
			Duration: time.Since(start).Seconds(),
		}); sendErr != nil {
			return false, 0, "", fmt.Errorf("failed to send result: %w", sendErr)
		}
		return false, 0, "", nil
	}

	fatal := engine.IsFatal(err)
	log.WithError(err).WithField("fatal", fatal).Error("Query failed")
	if sendErr := s.encoder.EncodeError(errorMessage(q.ID, err, fatal)); sendErr != nil {
		return false, 0, "", fmt.Errorf("failed to send error: %w", sendErr)
	}
	if fatal {
		return true, ExitFatal, ReasonFatal, nil
	}
	return false, 0, "", nil
}

func (s *Server) exit(reason string, code int) (int, error) {
	s.log.WithField("reason", reason).WithField("queries", s.queries).Info("Bridge exiting")
	if err := s.encoder.EncodeExit(&ExitMessage{
		Reason:   reason,
		ExitCode: code,
		Queries:  s.queries,
	}); err != nil {
		return code, fmt.Errorf("failed to send EXIT: %w", err)
	}
	return code, nil
}

func errorMessage(id string, err error, fatal bool) *ErrorMessage {
	msg := &ErrorMessage{
		ID:      id,
		Code:    engine.ErrCodeInternal,
		Message: err.Error(),
		Fatal:   fatal,
	}
	var ee *engine.EngineError
	if errors.As(err, &ee) {
		msg.Class = string(ee.Class)
		if ee.Code != "" {
			msg.Code = ee.Code
		}
	}
	return msg
}
