// Package cover models motorized window coverings driven over a
// feedback-free RF link. Positions are dead-reckoned from configured
// travel times; they are a best-effort estimate, not ground truth.
package cover

import (
	"context"
)

const (
	StateOpen    = "open"
	StateClosed  = "closed"
	StateOpening = "opening"
	StateClosing = "closing"
)

const (
	FullOpen   = 100.0
	FullClosed = 0.0
)

// A cover reporting at or below this is considered closed.
const closedThreshold = 2.0

type UpdateHandler func(state string, position int)

type Cover interface {
	Name() string
	Channel() int
	Facade() string
	Floor() string

	Position() float64
	State() string
	IsMoving() bool

	OnUpdate(h UpdateHandler)

	Open(ctx context.Context) error
	Close(ctx context.Context) error
	Stop(ctx context.Context) error
	SetPosition(ctx context.Context, position float64) error
	ShortUp(ctx context.Context) error
	ShortDown(ctx context.Context) error
}

// StatelessCover is a cover whose position estimate can be reseeded from
// the outside, typically restored from a retained MQTT topic on startup.
type StatelessCover interface {
	Cover

	ResetPosition(position float64) error
}
