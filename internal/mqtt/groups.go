package mqtt

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mcalin/inelnet2mqtt/internal/cover"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// GroupBridge accepts facade- and floor-wide commands:
//
//	inelnet2mqtt/facade/{facade}/set  open | close | stop | <position>
//	inelnet2mqtt/floor/{floor}/set    open | close | stop | <position>
//
// A numeric payload moves every matching cover to that position.
type GroupBridge struct {
	mqtt     mqtt.Client
	registry *cover.Registry

	FacadeTopic string
	FloorTopic  string
}

func NewGroupBridge(client mqtt.Client, registry *cover.Registry) *GroupBridge {
	return &GroupBridge{
		mqtt:        client,
		registry:    registry,
		FacadeTopic: fmt.Sprintf("%s/facade/+/set", topicPrefix),
		FloorTopic:  fmt.Sprintf("%s/floor/+/set", topicPrefix),
	}
}

func (g *GroupBridge) Subscribe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if token := g.mqtt.Unsubscribe(g.FacadeTopic, g.FloorTopic); token.Wait() && token.Error() != nil {
			logrus.Errorf("MQTT group topics unsubscribe failed: %s", token.Error())
		}
	}()

	if token := g.mqtt.Subscribe(g.FacadeTopic, 0, g.onGroupCommand(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "MQTT facade topic subscription failed")
	}
	if token := g.mqtt.Subscribe(g.FloorTopic, 0, g.onGroupCommand(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrap(token.Error(), "MQTT floor topic subscription failed")
	}
	logrus.Info("MQTT group topics subscribed")

	return nil
}

func (g *GroupBridge) onGroupCommand(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		parts := strings.Split(msg.Topic(), "/")
		if len(parts) != 4 {
			logrus.Errorf("MQTT unexpected group topic %s", msg.Topic())
			return
		}
		kind, name := parts[1], parts[2]
		payload := string(msg.Payload())

		logrus.Infof("MQTT group command: %s %s %s", kind, name, payload)

		facade := kind == "facade"
		switch payload {
		case openCmd:
			if facade {
				g.registry.OpenFacade(ctx, name)
			} else {
				g.registry.OpenFloor(ctx, name)
			}
		case closeCmd:
			if facade {
				g.registry.CloseFacade(ctx, name, cover.FullClosed)
			} else {
				g.registry.CloseFloor(ctx, name, cover.FullClosed)
			}
		case stopCmd:
			if facade {
				g.registry.StopFacade(ctx, name)
			} else {
				g.registry.StopFloor(ctx, name)
			}
		default:
			target, err := strconv.ParseFloat(payload, 64)
			if err != nil {
				logrus.Errorf("MQTT unsupported group command %s", payload)
				return
			}
			if facade {
				g.registry.CloseFacade(ctx, name, target)
			} else {
				g.registry.CloseFloor(ctx, name, target)
			}
		}
	}
}
