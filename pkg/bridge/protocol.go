// Package bridge exposes the optimizer queries over a newline-delimited
// JSON protocol on stdio, and provides the matching Go client.
//
// The server announces itself with READY, then answers every QUERY with
// a RESULT or an ERROR. A fatal error is followed by EXIT and the end of
// the session:
//
//	← {"type":"READY","timestamp":"...","data":{"version":"1.0.0","pid":42,"queries":["objective",...]}}
//	→ {"type":"QUERY","timestamp":"...","data":{"id":"q1","query":"objective","x":[0,0,0]}}
//	← {"type":"RESULT","timestamp":"...","data":{"id":"q1","query":"objective","design":0,"value":0.25,"duration":12.5}}
package bridge

import (
	"encoding/json"
	"fmt"
	"time"
)

// MessageType represents the type of message in the protocol.
type MessageType string

const (
	// MessageTypeReady indicates the server is ready to receive queries
	MessageTypeReady MessageType = "READY"
	// MessageTypeQuery is a query from the optimizer
	MessageTypeQuery MessageType = "QUERY"
	// MessageTypeResult answers a query
	MessageTypeResult MessageType = "RESULT"
	// MessageTypeError indicates a query failed
	MessageTypeError MessageType = "ERROR"
	// MessageTypeExit indicates the server is exiting
	MessageTypeExit MessageType = "EXIT"
)

// Message is the base message structure for all protocol messages.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// ReadyMessage is sent when the server is ready to receive queries.
type ReadyMessage struct {
	Version string   `json:"version"`
	PID     int      `json:"pid"`
	Queries []string `json:"queries"`
	// Designs is the number of designs restored at startup.
	Designs int `json:"designs"`
}

// QueryMessage asks for one optimizer query at a design vector.
type QueryMessage struct {
	ID    string    `json:"id"`
	Query string    `json:"query"`
	X     []float64 `json:"x"`
}

// ResultMessage answers a query. Exactly one of Value, Vector and Matrix
// is set, except for constraint queries with no constraints, which carry
// an empty Vector or Matrix.
type ResultMessage struct {
	ID       string      `json:"id"`
	Query    string      `json:"query"`
	Design   int         `json:"design"`
	Value    *float64    `json:"value,omitempty"`
	Vector   []float64   `json:"vector,omitempty"`
	Matrix   [][]float64 `json:"matrix,omitempty"`
	Duration float64     `json:"duration"` // seconds
}

// ErrorMessage indicates a query failed.
type ErrorMessage struct {
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Class   string `json:"class,omitempty"`
	Message string `json:"message"`
	// Fatal errors end the session.
	Fatal bool `json:"fatal"`
}

// ExitMessage is sent before the server terminates.
type ExitMessage struct {
	Reason   string `json:"reason"`
	ExitCode int    `json:"exit_code"`
	Queries  int    `json:"queries"`
}

// Validate checks if the message type is valid.
func (mt MessageType) Validate() error {
	switch mt {
	case MessageTypeReady, MessageTypeQuery, MessageTypeResult,
		MessageTypeError, MessageTypeExit:
		return nil
	default:
		return fmt.Errorf("invalid message type: %s", mt)
	}
}

// Validate checks if the query message is valid.
func (q *QueryMessage) Validate() error {
	if q.ID == "" {
		return fmt.Errorf("query ID is required")
	}
	if q.Query == "" {
		return fmt.Errorf("query name is required")
	}
	if len(q.X) == 0 {
		return fmt.Errorf("design vector is required")
	}
	return nil
}
