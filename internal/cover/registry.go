package cover

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Registry holds all configured covers and answers facade/floor group
// queries over them. Groups carry no state of their own. The registry is
// built at startup and read-only afterwards.
type Registry struct {
	covers    []*Controller
	byChannel map[int]*Controller
}

func NewRegistry() *Registry {
	return &Registry{byChannel: map[int]*Controller{}}
}

func (r *Registry) Add(c *Controller) error {
	if _, exists := r.byChannel[c.Channel()]; exists {
		return errors.Errorf("cover: channel %d configured twice", c.Channel())
	}
	r.covers = append(r.covers, c)
	r.byChannel[c.Channel()] = c
	return nil
}

func (r *Registry) All() []*Controller {
	return r.covers
}

func (r *Registry) ByChannel(channel int) (*Controller, bool) {
	c, ok := r.byChannel[channel]
	return c, ok
}

func (r *Registry) Facade(facade string) []*Controller {
	var out []*Controller
	for _, c := range r.covers {
		if c.Facade() == facade {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) Floor(floor string) []*Controller {
	var out []*Controller
	for _, c := range r.covers {
		if c.Floor() == floor {
			out = append(out, c)
		}
	}
	return out
}

func (r *Registry) OpenFacade(ctx context.Context, facade string) {
	fanOut(r.Facade(facade), func(c *Controller) error { return c.Open(ctx) })
}

// CloseFacade closes every cover of a facade; a positive target moves them
// to that position instead of fully closed.
func (r *Registry) CloseFacade(ctx context.Context, facade string, target float64) {
	fanOut(r.Facade(facade), closeIntent(ctx, target))
}

func (r *Registry) StopFacade(ctx context.Context, facade string) {
	fanOut(r.Facade(facade), func(c *Controller) error { return c.Stop(ctx) })
}

func (r *Registry) OpenFloor(ctx context.Context, floor string) {
	fanOut(r.Floor(floor), func(c *Controller) error { return c.Open(ctx) })
}

func (r *Registry) CloseFloor(ctx context.Context, floor string, target float64) {
	fanOut(r.Floor(floor), closeIntent(ctx, target))
}

func (r *Registry) StopFloor(ctx context.Context, floor string) {
	fanOut(r.Floor(floor), func(c *Controller) error { return c.Stop(ctx) })
}

func closeIntent(ctx context.Context, target float64) func(*Controller) error {
	return func(c *Controller) error {
		if target <= FullClosed {
			return c.Close(ctx)
		}
		return c.SetPosition(ctx, target)
	}
}

// fanOut applies the intent to every cover independently; one channel's
// failure never blocks or rolls back the others.
func fanOut(covers []*Controller, intent func(*Controller) error) {
	for _, c := range covers {
		if err := intent(c); err != nil {
			logrus.Errorf("%s: group intent failed: %s", c.Name(), err)
		}
	}
}
