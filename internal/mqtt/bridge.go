// Package mqtt exposes the covers to the home automation platform over
// MQTT, one bridge per cover plus facade/floor group topics and a gateway
// availability publisher.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/mcalin/inelnet2mqtt/internal/cover"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const topicPrefix = "inelnet2mqtt"

const (
	openCmd      = "open"
	closeCmd     = "close"
	stopCmd      = "stop"
	shortUpCmd   = "short_up"
	shortDownCmd = "short_down"
)

type Bridge struct {
	mqtt  mqtt.Client
	cover cover.Cover

	StateTopic    string
	PositionTopic string
	MetadataTopic string

	CommandTopic        string
	PositionChangeTopic string
}

func NewBridge(client mqtt.Client, c cover.Cover) *Bridge {
	b := &Bridge{mqtt: client, cover: c}
	b.StateTopic = fmt.Sprintf("%s/%s/state", topicPrefix, c.Name())
	b.PositionTopic = fmt.Sprintf("%s/%s/position", topicPrefix, c.Name())
	b.MetadataTopic = fmt.Sprintf("%s/%s/metadata", topicPrefix, c.Name())
	b.CommandTopic = fmt.Sprintf("%s/%s/set", topicPrefix, c.Name())
	b.PositionChangeTopic = fmt.Sprintf("%s/%s/position/set", topicPrefix, c.Name())
	b.restorePosition()

	c.OnUpdate(b.onCoverUpdateHandler())

	return b
}

func (b *Bridge) SetMetadata(value interface{}) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}

	if token := b.mqtt.Publish(b.MetadataTopic, 0, true, payload); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT metadata publish failed", b.cover.Name())
	}

	return nil
}

func (b *Bridge) Subscribe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		if token := b.mqtt.Unsubscribe(b.PositionChangeTopic, b.CommandTopic); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT topics unsubscribe failed: %s", b.cover.Name(), token.Error())
		}
	}()

	if token := b.mqtt.Subscribe(b.CommandTopic, 0, b.onCommandHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT command topic subscription failed", b.cover.Name())
	}
	logrus.Infof("%s: MQTT command topic subscribed", b.cover.Name())

	if token := b.mqtt.Subscribe(b.PositionChangeTopic, 0, b.onPositionChangeHandler(ctx)); token.Wait() && token.Error() != nil {
		return errors.Wrapf(token.Error(), "%s: MQTT position change topic subscription failed", b.cover.Name())
	}
	logrus.Infof("%s: MQTT position change topic subscribed", b.cover.Name())

	return nil
}

func (b *Bridge) onCoverUpdateHandler() cover.UpdateHandler {
	return func(state string, position int) {
		if token := b.mqtt.Publish(b.StateTopic, 0, true, state); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT state publish failed: %s", b.cover.Name(), token.Error())
		}
		if token := b.mqtt.Publish(b.PositionTopic, 0, true, strconv.Itoa(position)); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT position publish failed: %s", b.cover.Name(), token.Error())
		}
	}
}

func (b *Bridge) onCommandHandler(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		var err error
		cmd := string(msg.Payload())
		switch cmd {
		case openCmd:
			err = b.cover.Open(ctx)
		case closeCmd:
			err = b.cover.Close(ctx)
		case stopCmd:
			err = b.cover.Stop(ctx)
		case shortUpCmd:
			err = b.cover.ShortUp(ctx)
		case shortDownCmd:
			err = b.cover.ShortDown(ctx)
		default:
			logrus.Errorf("%s: MQTT unsupported %s command received", b.cover.Name(), cmd)
			return
		}
		if err != nil {
			logrus.Error(err)
		}
	}
}

func (b *Bridge) onPositionChangeHandler(ctx context.Context) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		pos, err := strconv.ParseFloat(string(msg.Payload()), 64)
		if err != nil {
			logrus.Errorf("%s: MQTT position payload invalid: %s", b.cover.Name(), err)
			return
		}
		if err := b.cover.SetPosition(ctx, pos); err != nil {
			logrus.Error(err)
		}
	}
}

// restorePosition reseeds the estimate from the retained position topic,
// so a restart keeps the last known estimate instead of the configured
// default.
func (b *Bridge) restorePosition() {
	c, ok := b.cover.(cover.StatelessCover)
	if !ok {
		logrus.Warnf("%s: MQTT position restore: cover cannot be reseeded", b.cover.Name())
		return
	}

	restoreHandler := func(_ mqtt.Client, msg mqtt.Message) {
		if !msg.Retained() {
			return
		}

		pos, err := strconv.ParseFloat(string(msg.Payload()), 64)
		if err != nil {
			logrus.Errorf("%s: MQTT position restore payload invalid: %s", b.cover.Name(), err)
			return
		}
		if err := c.ResetPosition(pos); err != nil {
			logrus.Errorf("%s: MQTT position restore failed: %s", b.cover.Name(), err)
			return
		}

		logrus.Infof("%s: MQTT position restored to %.0f", b.cover.Name(), pos)

		if token := b.mqtt.Unsubscribe(b.PositionTopic); token.Wait() && token.Error() != nil {
			logrus.Errorf("%s: MQTT position restore topic unsubscribe failed: %s", b.cover.Name(), token.Error())
			return
		}

		logrus.Debugf("%s: MQTT position restore topic unsubscribed", b.cover.Name())
	}

	if token := b.mqtt.Subscribe(b.PositionTopic, 0, restoreHandler); token.Wait() && token.Error() != nil {
		logrus.Errorf("%s: MQTT position restore topic subscription failed: %s", b.cover.Name(), token.Error())
	}
}
