// Package inelnet talks to an InelNET RF gateway. The gateway accepts
// fire-and-forget HTTP commands and reports nothing back, so everything
// here is best-effort delivery.
package inelnet

import (
	"fmt"

	"github.com/pkg/errors"
)

// Action is a numeric InelNET action code.
type Action int

const (
	ActionUp        Action = 160
	ActionUpShort   Action = 176
	ActionStop      Action = 144
	ActionDown      Action = 192
	ActionDownShort Action = 208
	ActionProgram   Action = 224
)

const (
	MinChannel = 1
	MaxChannel = 32
)

func (a Action) String() string {
	switch a {
	case ActionUp:
		return "up"
	case ActionUpShort:
		return "short up"
	case ActionStop:
		return "stop"
	case ActionDown:
		return "down"
	case ActionDownShort:
		return "short down"
	case ActionProgram:
		return "program"
	}
	return fmt.Sprintf("unknown (%d)", int(a))
}

func (a Action) Valid() bool {
	switch a {
	case ActionUp, ActionUpShort, ActionStop, ActionDown, ActionDownShort, ActionProgram:
		return true
	}
	return false
}

// Command addresses one RF channel with one action.
type Command struct {
	Channel int
	Action  Action
}

func NewCommand(channel int, action Action) (Command, error) {
	if channel < MinChannel || channel > MaxChannel {
		return Command{}, errors.Errorf("inelnet: channel %d is out of range (%d-%d)", channel, MinChannel, MaxChannel)
	}
	if !action.Valid() {
		return Command{}, errors.Errorf("inelnet: %d is not a valid action code", int(action))
	}
	return Command{Channel: channel, Action: action}, nil
}

// Encode renders the form-encoded request body the gateway expects.
// Field order matters to the firmware, so this is built by hand rather
// than with url.Values (which sorts keys).
func (c Command) Encode() string {
	return fmt.Sprintf("send_ch=%d&send_act=%d", c.Channel, int(c.Action))
}
