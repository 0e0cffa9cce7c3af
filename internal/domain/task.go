package domain

import "time"

// TaskStatus is the AutonomyTask lifecycle state.
type TaskStatus string

const (
	TaskIdle    TaskStatus = "IDLE"
	TaskRunning TaskStatus = "RUNNING"
	TaskBackoff TaskStatus = "BACKOFF"
)

// AutonomyTask is one recurring, schedulable work item mapped to a premium
// endpoint.
type AutonomyTask struct {
	Endpoint          EndpointTag // unique key
	ValueScore        float64
	Cost              float64
	FreshnessWindow   time.Duration
	BaseBackoff       time.Duration
	Status            TaskStatus
	LastRunAt         *time.Time
	LastSuccessAt     *time.Time
	FailureCount      int
	NextEligibleAt    time.Time
	LockedAt          *time.Time
	LastError         string
	LastScore         float64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Runnable reports whether the task is eligible for selection this tick
//: not RUNNING, no lock held, and past its
// next-eligible time.
func (t *AutonomyTask) Runnable(now time.Time) bool {
	if t.Status == TaskRunning {
		return false
	}
	if t.LockedAt != nil {
		return false
	}
	return !t.NextEligibleAt.After(now)
}
