package design

import "time"

// StageStatus is the outcome of a stage run.
type StageStatus string

const (
	StageRunning   StageStatus = "running"
	StageSucceeded StageStatus = "succeeded"
	StageFailed    StageStatus = "failed"
)

// StageRun is one attempt at running a stage for a design.
type StageRun struct {
	ID          string      `json:"id"`
	Design      int         `json:"design"`
	Stage       Stage       `json:"stage"`
	Status      StageStatus `json:"status"`
	StartedAt   time.Time   `json:"started_at"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	Error       *string     `json:"error,omitempty"`
}

// Finish marks the run completed with err, or succeeded when err is nil.
func (r *StageRun) Finish(err error) {
	now := time.Now().UTC()
	r.CompletedAt = &now
	if err != nil {
		msg := err.Error()
		r.Error = &msg
		r.Status = StageFailed
		return
	}
	r.Status = StageSucceeded
}
