package cover

import (
	"math"
	"time"
)

type Direction int

const (
	DirectionNone Direction = iota
	DirectionUp
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	}
	return "none"
}

// Plan is one concrete motion: run in Direction for Duration. Target is
// where the cover ends up if the plan runs to completion.
type Plan struct {
	Direction Direction
	Duration  time.Duration
	Target    float64
	HasTarget bool
}

// IsNoop reports whether the plan requires no RF command and no motion.
func (p Plan) IsNoop() bool {
	return p.Direction == DirectionNone || p.Duration <= 0
}

// Estimator converts position directives into motion plans and keeps the
// estimated position truthful between them. While a plan is running the
// stored position stays at the motion origin; At interpolates live values
// and Interrupt/Complete commit the final one.
type Estimator struct {
	travel time.Duration
	pos    float64
}

func NewEstimator(travel time.Duration, initial float64) *Estimator {
	return &Estimator{travel: travel, pos: clamp(initial)}
}

func (e *Estimator) Position() float64 {
	return e.pos
}

func (e *Estimator) SetPosition(p float64) {
	e.pos = clamp(p)
}

func (e *Estimator) PlanOpen() Plan {
	return e.PlanTo(FullOpen)
}

func (e *Estimator) PlanClose() Plan {
	return e.PlanTo(FullClosed)
}

// PlanTo yields the directional run that covers the distance to target at
// the full-travel rate. A zero distance yields a no-op plan.
func (e *Estimator) PlanTo(target float64) Plan {
	target = clamp(target)
	dist := target - e.pos
	if math.Abs(dist) < 1e-9 {
		return Plan{}
	}

	dir := DirectionUp
	if dist < 0 {
		dir = DirectionDown
	}

	return Plan{
		Direction: dir,
		Duration:  e.durationFor(math.Abs(dist)),
		Target:    target,
		HasTarget: true,
	}
}

// PlanShort is a fixed-length nudge of the given fraction of full travel.
// The gateway runs the pulse on its own; the plan only accounts for the
// resulting position change. At a boundary the nudge degenerates to a
// no-op.
func (e *Estimator) PlanShort(dir Direction, fraction float64) Plan {
	delta := fraction * 100
	target := e.pos + delta
	if dir == DirectionDown {
		target = e.pos - delta
	}
	target = clamp(target)

	dist := math.Abs(target - e.pos)
	if dist < 1e-9 {
		return Plan{}
	}

	return Plan{
		Direction: dir,
		Duration:  e.durationFor(dist),
		Target:    target,
		HasTarget: true,
	}
}

// At returns the interpolated position elapsed into plan p, measured from
// the position captured when the plan was made. The result is clamped to
// [0,100] and never overshoots the plan target.
func (e *Estimator) At(p Plan, elapsed time.Duration) float64 {
	if p.IsNoop() || elapsed < 0 {
		return e.pos
	}

	moved := float64(elapsed) / float64(e.travel) * 100
	pos := e.pos
	if p.Direction == DirectionUp {
		pos += moved
	} else {
		pos -= moved
	}
	pos = clamp(pos)

	if p.HasTarget {
		if p.Direction == DirectionUp && pos > p.Target {
			pos = p.Target
		}
		if p.Direction == DirectionDown && pos < p.Target {
			pos = p.Target
		}
	}

	return pos
}

// Interrupt commits the interpolated position of a plan cut short after
// elapsed time.
func (e *Estimator) Interrupt(p Plan, elapsed time.Duration) {
	e.pos = e.At(p, elapsed)
}

// Complete snaps to the plan end, correcting any float drift accumulated
// during interpolation.
func (e *Estimator) Complete(p Plan) {
	switch {
	case p.IsNoop():
	case p.HasTarget:
		e.pos = p.Target
	case p.Direction == DirectionUp:
		e.pos = FullOpen
	default:
		e.pos = FullClosed
	}
}

func (e *Estimator) durationFor(distance float64) time.Duration {
	return time.Duration(distance / 100 * float64(e.travel))
}

func clamp(p float64) float64 {
	if p < FullClosed {
		return FullClosed
	}
	if p > FullOpen {
		return FullOpen
	}
	return p
}
