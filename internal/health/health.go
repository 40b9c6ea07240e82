// Package health reports process health and exposes Prometheus
// metrics, generalized from the teacher's per-chain Monitor/Server
// (internal/indexing/health) to this system's single lock+store
// reachability check plus a scheduler status snapshot.
package health

import "time"

// Status is the overall health state.
type Status string

const (
	StatusHealthy  Status = "healthy"
	StatusDegraded Status = "degraded"
	StatusCritical Status = "critical"
)

// SchedulerSnapshot is a point-in-time view of the two drivers.
type SchedulerSnapshot struct {
	SweeperFloor       uint64    `json:"sweeper_floor"`
	SweeperLastCycle   time.Time `json:"sweeper_last_cycle"`
	TipLastRun         time.Time `json:"tip_last_run"`
	ConsecutiveFailure int       `json:"consecutive_failures"`
}

// Report is the full health response body.
type Report struct {
	Status    Status            `json:"status"`
	Store     Status            `json:"store"`
	Lock      Status            `json:"lock"`
	Scheduler SchedulerSnapshot `json:"scheduler"`
}
