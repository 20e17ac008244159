package bridge

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fsiopt/fsiopt/pkg/design"
	"github.com/fsiopt/fsiopt/pkg/engine"
)

// fakeEvaluator answers from fixed tables.
type fakeEvaluator struct {
	mu      sync.Mutex
	answers map[engine.Query]*engine.Answer
	errs    map[engine.Query]error
	calls   []engine.Query
}

func (f *fakeEvaluator) Evaluate(_ context.Context, q engine.Query, _ []float64) (*engine.Answer, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, q)
	if err, ok := f.errs[q]; ok {
		return nil, err
	}
	if ans, ok := f.answers[q]; ok {
		return ans, nil
	}
	return &engine.Answer{Query: q}, nil
}

func (f *fakeEvaluator) Calls() []engine.Query {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]engine.Query(nil), f.calls...)
}

func newFakeEvaluator() *fakeEvaluator {
	v := 0.25
	return &fakeEvaluator{
		answers: map[engine.Query]*engine.Answer{
			engine.QueryObjective:         {Query: engine.QueryObjective, Design: 0, Value: &v},
			engine.QueryObjectiveGradient: {Query: engine.QueryObjectiveGradient, Design: 0, Vector: []float64{0, 2, 3}},
			engine.QueryConstraintIneqGradient: {
				Query:  engine.QueryConstraintIneqGradient,
				Design: 1,
				Matrix: [][]float64{{0, 1, 2}, {0, 3, 4}},
			},
		},
		errs: map[engine.Query]error{},
	}
}

// queries encodes a client-side input stream.
func queries(t *testing.T, qs ...*QueryMessage) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	enc := NewEncoder(&buf)
	for _, q := range qs {
		require.NoError(t, enc.EncodeQuery(q))
	}
	return &buf
}

// drain decodes every message the server wrote.
func drain(t *testing.T, out *bytes.Buffer) []*Message {
	t.Helper()
	dec := NewDecoder(out)
	var msgs []*Message
	for {
		msg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return msgs
		}
		require.NoError(t, err)
		msgs = append(msgs, msg)
	}
}

func types(msgs []*Message) []MessageType {
	out := make([]MessageType, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func serve(t *testing.T, eval Evaluator, in io.Reader) (int, []*Message) {
	t.Helper()
	var out bytes.Buffer
	srv, err := NewServer(ServerConfig{Evaluator: eval, Version: "test", Designs: 2}, in, &out)
	require.NoError(t, err)
	code, err := srv.Serve(context.Background())
	require.NoError(t, err)
	return code, drain(t, &out)
}

func TestNewServerRequiresEvaluator(t *testing.T) {
	_, err := NewServer(ServerConfig{}, strings.NewReader(""), io.Discard)
	assert.Error(t, err)
}

func TestServeReadyAndExitOnEOF(t *testing.T) {
	code, msgs := serve(t, newFakeEvaluator(), strings.NewReader(""))

	assert.Equal(t, ExitOK, code)
	require.Equal(t, []MessageType{MessageTypeReady, MessageTypeExit}, types(msgs))

	var ready ReadyMessage
	require.NoError(t, ParseData(msgs[0].Data, &ready))
	assert.Equal(t, "test", ready.Version)
	assert.Equal(t, 2, ready.Designs)
	assert.NotZero(t, ready.PID)
	assert.Len(t, ready.Queries, len(engine.Queries))
	assert.Contains(t, ready.Queries, "constraint_ineq_gradient")

	var exit ExitMessage
	require.NoError(t, ParseData(msgs[1].Data, &exit))
	assert.Equal(t, ReasonInputClosed, exit.Reason)
	assert.Equal(t, 0, exit.Queries)
}

func TestServeAnswersQueries(t *testing.T) {
	eval := newFakeEvaluator()
	in := queries(t,
		&QueryMessage{ID: "q1", Query: "objective", X: []float64{0, 0, 0}},
		&QueryMessage{ID: "q2", Query: "OBJECTIVE_GRADIENT", X: []float64{0, 0, 0}},
		&QueryMessage{ID: "q3", Query: "constraint_ineq_gradient", X: []float64{1, 0, 0}},
	)

	code, msgs := serve(t, eval, in)
	assert.Equal(t, ExitOK, code)
	require.Equal(t, []MessageType{
		MessageTypeReady, MessageTypeResult, MessageTypeResult, MessageTypeResult, MessageTypeExit,
	}, types(msgs))

	var r1, r2, r3 ResultMessage
	require.NoError(t, ParseData(msgs[1].Data, &r1))
	require.NoError(t, ParseData(msgs[2].Data, &r2))
	require.NoError(t, ParseData(msgs[3].Data, &r3))

	assert.Equal(t, "q1", r1.ID)
	require.NotNil(t, r1.Value)
	assert.InDelta(t, 0.25, *r1.Value, 1e-12)

	assert.Equal(t, "objective_gradient", r2.Query)
	assert.Equal(t, []float64{0, 2, 3}, r2.Vector)

	assert.Equal(t, 1, r3.Design)
	assert.Equal(t, [][]float64{{0, 1, 2}, {0, 3, 4}}, r3.Matrix)

	var exit ExitMessage
	require.NoError(t, ParseData(msgs[4].Data, &exit))
	assert.Equal(t, 3, exit.Queries)

	assert.Equal(t, []engine.Query{
		engine.QueryObjective, engine.QueryObjectiveGradient, engine.QueryConstraintIneqGradient,
	}, eval.Calls())
}

func TestServeRecoverableErrors(t *testing.T) {
	eval := newFakeEvaluator()
	eval.errs[engine.QueryObjective] = engine.NewSolverError("primal solver failed", nil).
		WithCode(engine.ErrCodeSolverFailed).WithStage(design.StagePrimal).WithDesign(0)

	var in bytes.Buffer
	in.WriteString("this is not json\n")
	in.Write(queries(t,
		&QueryMessage{ID: "q1", Query: "volume", X: []float64{0}},
		&QueryMessage{ID: "q2", Query: "objective", X: []float64{0}},
		&QueryMessage{ID: "q3", Query: "objective_gradient", X: []float64{0}},
	).Bytes())

	code, msgs := serve(t, eval, &in)
	assert.Equal(t, ExitOK, code)
	require.Equal(t, []MessageType{
		MessageTypeReady, MessageTypeError, MessageTypeError, MessageTypeError, MessageTypeResult, MessageTypeExit,
	}, types(msgs))

	var malformed, unknown, solver ErrorMessage
	require.NoError(t, ParseData(msgs[1].Data, &malformed))
	require.NoError(t, ParseData(msgs[2].Data, &unknown))
	require.NoError(t, ParseData(msgs[3].Data, &solver))

	assert.Equal(t, ErrCodeMalformed, malformed.Code)
	assert.False(t, malformed.Fatal)

	assert.Equal(t, "q1", unknown.ID)
	assert.Equal(t, engine.ErrCodeUnknownQuery, unknown.Code)
	assert.False(t, unknown.Fatal)

	assert.Equal(t, "q2", solver.ID)
	assert.Equal(t, engine.ErrCodeSolverFailed, solver.Code)
	assert.Equal(t, "solver", solver.Class)
	assert.False(t, solver.Fatal)

	// The unknown query never reaches the evaluator.
	assert.Equal(t, []engine.Query{engine.QueryObjective, engine.QueryObjectiveGradient}, eval.Calls())
}

func TestServeFatalErrorEndsSession(t *testing.T) {
	eval := newFakeEvaluator()
	eval.errs[engine.QueryObjectiveGradient] = engine.NewSequencingError("primal results not available", nil).
		WithCode(engine.ErrCodePrimalNotAvailable)

	in := queries(t,
		&QueryMessage{ID: "q1", Query: "objective_gradient", X: []float64{0}},
		&QueryMessage{ID: "q2", Query: "objective", X: []float64{0}},
	)

	code, msgs := serve(t, eval, in)
	assert.Equal(t, ExitFatal, code)
	require.Equal(t, []MessageType{MessageTypeReady, MessageTypeError, MessageTypeExit}, types(msgs))

	var errMsg ErrorMessage
	require.NoError(t, ParseData(msgs[1].Data, &errMsg))
	assert.True(t, errMsg.Fatal)
	assert.Equal(t, "sequencing", errMsg.Class)
	assert.Equal(t, engine.ErrCodePrimalNotAvailable, errMsg.Code)

	var exit ExitMessage
	require.NoError(t, ParseData(msgs[2].Data, &exit))
	assert.Equal(t, ReasonFatal, exit.Reason)
	assert.Equal(t, ExitFatal, exit.ExitCode)
	assert.Equal(t, 1, exit.Queries)

	assert.Len(t, eval.Calls(), 1)
}

func TestServeCanceledContext(t *testing.T) {
	var out bytes.Buffer
	srv, err := NewServer(ServerConfig{Evaluator: newFakeEvaluator()}, strings.NewReader(""), &out)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	code, err := srv.Serve(ctx)
	require.NoError(t, err)
	assert.Equal(t, ExitOK, code)

	msgs := drain(t, &out)
	require.Len(t, msgs, 2)
	var exit ExitMessage
	require.NoError(t, ParseData(msgs[1].Data, &exit))
	assert.Equal(t, ReasonCanceled, exit.Reason)
}
