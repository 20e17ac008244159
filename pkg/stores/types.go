package stores

import (
	"context"
	"database/sql"
	"time"

	"github.com/fsiopt/fsiopt/pkg/design"
	"github.com/fsiopt/fsiopt/pkg/telemetry"
)

// EventLevel represents the severity level of an event
type EventLevel string

const (
	EventLevelInfo    EventLevel = "info"
	EventLevelWarning EventLevel = "warning"
	EventLevelError   EventLevel = "error"
)

// Run represents one invocation of the orchestrator against a folder
type Run struct {
	ID         string    `json:"id"`
	RootConfig string    `json:"root_config"`
	Folder     string    `json:"folder"`
	StartedAt  time.Time `json:"started_at"`
	Resumed    bool      `json:"resumed"`
}

// Event represents an append-only log event
type Event struct {
	ID        int64      `json:"id"`
	EventID   string     `json:"event_id"`
	RunID     *string    `json:"run_id,omitempty"`
	Design    *int       `json:"design,omitempty"`
	Stage     *string    `json:"stage,omitempty"`
	Type      string     `json:"type"`
	Level     EventLevel `json:"level"`
	Message   string     `json:"message"`
	Details   *string    `json:"details,omitempty"` // JSON blob
	Timestamp time.Time  `json:"timestamp"`
}

// EventQuery filters GetEvents. Zero values match everything.
type EventQuery struct {
	Design *int
	Level  *EventLevel
	Limit  int
	Offset int
}

// Store defines the interface for the persistence layer
type Store interface {
	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Transaction support
	BeginTx(ctx context.Context) (*sql.Tx, error)

	// Run operations
	CreateRun(ctx context.Context, run *Run) error
	ListRuns(ctx context.Context) ([]*Run, error)

	// Design operations
	SaveDesign(ctx context.Context, rec *design.Record) error
	GetDesign(ctx context.Context, index int) (*design.Record, error)
	ListDesigns(ctx context.Context) ([]*design.Record, error)

	// Stage run operations
	RecordStageRun(ctx context.Context, run *design.StageRun) error
	ListStageRuns(ctx context.Context, index *int) ([]*design.StageRun, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	RecordEvent(ctx context.Context, event telemetry.Event) error
	GetEvents(ctx context.Context, q EventQuery) ([]*Event, error)

	// Utility
	Reset(ctx context.Context) error
	HealthCheck(ctx context.Context) error
}
