package agent

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by stores for unknown agent IDs.
var ErrNotFound = errors.New("agent not found")

// Status is the lifecycle state of a simulated trading agent.
type Status string

const (
	StatusActive  Status = "active"
	StatusPaused  Status = "paused"
	StatusDeleted Status = "deleted"
)

// Agent is one simulated trader. CurrentCash mirrors the cash balance of
// its portfolio and is updated together with it on every fill.
type Agent struct {
	ID          string
	Name        string
	Status      Status
	InitialCash decimal.Decimal
	CurrentCash decimal.Decimal
	TemplateID  string
	ProviderID  string
	Model       string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Eligible reports whether the agent should be picked up by scheduled
// decision runs.
func (a *Agent) Eligible() bool {
	return a != nil && a.Status == StatusActive
}
