package cover

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/mcalin/inelnet2mqtt/internal/inelnet"
	"github.com/mcalin/inelnet2mqtt/internal/observability"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Sender delivers one RF command. *inelnet.Client satisfies it.
type Sender interface {
	Send(ctx context.Context, cmd inelnet.Command) error
}

const DefaultShortPulseFraction = 0.05

// Config is the static per-channel setup, validated once at startup.
type Config struct {
	Channel    int
	Name       string
	TravelTime time.Duration
	Facade     string
	Floor      string
	Shaded     bool

	// ShortPulseFraction is the position change attributed to a short
	// up/down nudge, as a fraction of full travel. Zero selects the default.
	ShortPulseFraction float64

	// InitialPosition seeds the estimate on a fresh setup. The gateway
	// gives no feedback, so fully closed is assumed unless a retained
	// position is restored later.
	InitialPosition float64
}

func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("cover: name must not be empty")
	}
	if c.Channel < inelnet.MinChannel || c.Channel > inelnet.MaxChannel {
		return errors.Errorf("%s: channel %d is out of range (%d-%d)", c.Name, c.Channel, inelnet.MinChannel, inelnet.MaxChannel)
	}
	if c.TravelTime <= 0 {
		return errors.Errorf("%s: travel time %s must be positive", c.Name, c.TravelTime)
	}
	if c.ShortPulseFraction < 0 || c.ShortPulseFraction > 1 {
		return errors.Errorf("%s: short pulse fraction %f must be within [0,1]", c.Name, c.ShortPulseFraction)
	}
	return nil
}

// Controller is the single entry point for one channel's intents. It owns
// the channel's dynamic state; the mutex serializes the whole
// preempt-plan-dispatch-timer sequence because MQTT handlers, HTTP
// handlers and motion goroutines all call in concurrently.
type Controller struct {
	cfg     Config
	sender  Sender
	metrics *observability.Metrics

	mu        sync.Mutex
	est       *Estimator
	plan      Plan
	direction Direction
	startedAt time.Time
	cancel    context.CancelFunc

	updateHandler UpdateHandler
}

func NewController(cfg Config, sender Sender) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.ShortPulseFraction == 0 {
		cfg.ShortPulseFraction = DefaultShortPulseFraction
	}

	return &Controller{
		cfg:    cfg,
		sender: sender,
		est:    NewEstimator(cfg.TravelTime, cfg.InitialPosition),
	}, nil
}

func (c *Controller) SetMetrics(m *observability.Metrics) {
	c.metrics = m
}

func (c *Controller) Name() string   { return c.cfg.Name }
func (c *Controller) Channel() int   { return c.cfg.Channel }
func (c *Controller) Facade() string { return c.cfg.Facade }
func (c *Controller) Floor() string  { return c.cfg.Floor }
func (c *Controller) Shaded() bool   { return c.cfg.Shaded }

func (c *Controller) TravelTime() time.Duration { return c.cfg.TravelTime }

func (c *Controller) Position() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.positionLocked()
}

func (c *Controller) State() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked()
}

func (c *Controller) IsMoving() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.direction != DirectionNone
}

func (c *Controller) OnUpdate(h UpdateHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.updateHandler = h
}

func (c *Controller) Open(ctx context.Context) error {
	logrus.Infof("%s: open", c.cfg.Name)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.preemptLocked()
	return c.startLocked(ctx, c.est.PlanOpen(), inelnet.ActionUp, false)
}

func (c *Controller) Close(ctx context.Context) error {
	logrus.Infof("%s: close", c.cfg.Name)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.preemptLocked()
	return c.startLocked(ctx, c.est.PlanClose(), inelnet.ActionDown, false)
}

// SetPosition moves to target percent. Targets strictly inside (0,100)
// need a scheduled STOP at the computed instant because the gateway has no
// timed-run primitive; full-travel runs terminate at the limit switch.
func (c *Controller) SetPosition(ctx context.Context, target float64) error {
	logrus.Infof("%s: set position to %.1f", c.cfg.Name, target)

	if target < FullClosed || target > FullOpen {
		return errors.Errorf("%s: position %.1f is out of range (%.0f-%.0f)", c.cfg.Name, target, FullClosed, FullOpen)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.preemptLocked()

	plan := c.est.PlanTo(target)
	action := inelnet.ActionUp
	if plan.Direction == DirectionDown {
		action = inelnet.ActionDown
	}
	stopAtEnd := target > FullClosed && target < FullOpen

	return c.startLocked(ctx, plan, action, stopAtEnd)
}

// Stop halts the cover where it is and commits the interpolated position.
func (c *Controller) Stop(ctx context.Context) error {
	logrus.Infof("%s: stop", c.cfg.Name)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.preemptLocked()
	c.dispatch(ctx, inelnet.ActionStop)
	c.notifyLocked()
	return nil
}

func (c *Controller) ShortUp(ctx context.Context) error {
	logrus.Infof("%s: short up", c.cfg.Name)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.preemptLocked()
	return c.startLocked(ctx, c.est.PlanShort(DirectionUp, c.cfg.ShortPulseFraction), inelnet.ActionUpShort, false)
}

func (c *Controller) ShortDown(ctx context.Context) error {
	logrus.Infof("%s: short down", c.cfg.Name)
	c.mu.Lock()
	defer c.mu.Unlock()

	c.preemptLocked()
	return c.startLocked(ctx, c.est.PlanShort(DirectionDown, c.cfg.ShortPulseFraction), inelnet.ActionDownShort, false)
}

// ResetPosition reseeds the estimate, typically from a retained MQTT
// position on startup.
func (c *Controller) ResetPosition(position float64) error {
	if position < FullClosed || position > FullOpen {
		return errors.Errorf("%s: position %.1f is out of range (%.0f-%.0f)", c.cfg.Name, position, FullClosed, FullOpen)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.direction != DirectionNone {
		return errors.Errorf("%s: cannot reset position while moving", c.cfg.Name)
	}

	c.est.SetPosition(position)
	c.notifyLocked()
	return nil
}

// startLocked dispatches the plan's command and begins motion tracking.
// No-op plans send nothing and cause no transition.
func (c *Controller) startLocked(ctx context.Context, p Plan, action inelnet.Action, stopAtEnd bool) error {
	if p.IsNoop() {
		logrus.Debugf("%s: already at position %.1f", c.cfg.Name, c.est.Position())
		return nil
	}

	mctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.plan = p
	c.direction = p.Direction
	c.startedAt = time.Now()

	// Delivery is independent of the motion timer: a preempted or finished
	// motion must not abort in-flight retries of its own command.
	c.dispatch(ctx, action)
	c.notifyLocked()

	logrus.Debugf("%s: moving %s for %s (target %.1f)", c.cfg.Name, p.Direction, p.Duration, p.Target)

	go c.runMotion(mctx, p, stopAtEnd)
	return nil
}

// preemptLocked cancels any outstanding motion and commits the position
// travelled so far. It must run before a new plan is evaluated so a stale
// completion can never apply after the new motion starts.
func (c *Controller) preemptLocked() {
	if c.direction != DirectionNone {
		elapsed := time.Since(c.startedAt)
		c.est.Interrupt(c.plan, elapsed)
		c.metrics.CoverRan(c.cfg.Name, elapsed)
		logrus.Debugf("%s: motion interrupted at position %.1f", c.cfg.Name, c.est.Position())
	}
	c.clearMotionLocked()
}

func (c *Controller) clearMotionLocked() {
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	c.direction = DirectionNone
	c.plan = Plan{}
}

// runMotion waits out the plan duration, publishing interpolated positions
// along the way. A cancelled context means the motion was preempted and
// the preempting intent already owns the state.
func (c *Controller) runMotion(ctx context.Context, p Plan, stopAtEnd bool) {
	timer := time.NewTimer(p.Duration)
	defer timer.Stop()

	tick := c.cfg.TravelTime / 100
	if tick < 50*time.Millisecond {
		tick = 50 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-timer.C:
			c.finishMotion(ctx, p, stopAtEnd)
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			if ctx.Err() == nil {
				c.notifyLocked()
			}
			c.mu.Unlock()
		}
	}
}

func (c *Controller) finishMotion(ctx context.Context, p Plan, stopAtEnd bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// Preemption cancels under the same mutex before touching state, so
	// this check is the race-free completion guard.
	if ctx.Err() != nil {
		return
	}

	c.est.Complete(p)
	c.clearMotionLocked()
	c.metrics.CoverRan(c.cfg.Name, p.Duration)

	if stopAtEnd {
		c.dispatch(context.Background(), inelnet.ActionStop)
	}

	c.notifyLocked()
	logrus.Infof("%s: reached position %.1f", c.cfg.Name, c.est.Position())
}

// dispatch delivers asynchronously: there is no way to confirm RF arrival,
// so motion tracking never blocks on delivery and failures only degrade
// the connectivity signal.
func (c *Controller) dispatch(ctx context.Context, action inelnet.Action) {
	cmd, err := inelnet.NewCommand(c.cfg.Channel, action)
	if err != nil {
		logrus.Errorf("%s: %s", c.cfg.Name, err)
		return
	}

	go func() {
		if err := c.sender.Send(ctx, cmd); err != nil {
			logrus.Warnf("%s: %s delivery failed, keeping optimistic estimate: %s", c.cfg.Name, action, err)
		}
	}()
}

func (c *Controller) positionLocked() float64 {
	if c.direction == DirectionNone {
		return c.est.Position()
	}
	return c.est.At(c.plan, time.Since(c.startedAt))
}

func (c *Controller) stateLocked() string {
	switch c.direction {
	case DirectionUp:
		return StateOpening
	case DirectionDown:
		return StateClosing
	}
	if c.est.Position() <= closedThreshold {
		return StateClosed
	}
	return StateOpen
}

func (c *Controller) notifyLocked() {
	if c.updateHandler == nil {
		return
	}
	c.updateHandler(c.stateLocked(), int(math.Round(c.positionLocked())))
}
