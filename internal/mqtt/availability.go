package mqtt

import (
	"context"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"

	pingFailureThreshold = 3
)

// GatewayAvailabilityTopic carries the retained online/offline payload.
const GatewayAvailabilityTopic = topicPrefix + "/gateway/availability"

// Pinger is the gateway reachability view. *inelnet.Client satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
	Online() bool
}

// AvailabilityPublisher periodically probes the gateway and publishes an
// online/offline payload to a retained topic. The signal reflects recent
// transport success only: the RF link is unidirectional, so "online" never
// means a blind physically moved.
type AvailabilityPublisher struct {
	mqtt   mqtt.Client
	pinger Pinger

	Topic    string
	Interval time.Duration

	failures  int
	published string
}

func NewAvailabilityPublisher(client mqtt.Client, pinger Pinger) *AvailabilityPublisher {
	return &AvailabilityPublisher{
		mqtt:     client,
		pinger:   pinger,
		Topic:    GatewayAvailabilityTopic,
		Interval: time.Minute,
	}
}

// Run blocks until ctx is done, probing on every interval tick. An offline
// payload is published when ctx ends so the platform does not trust stale
// state from a dead adapter.
func (a *AvailabilityPublisher) Run(ctx context.Context) {
	a.check(ctx)

	ticker := time.NewTicker(a.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			a.publish(payloadOffline)
			return
		case <-ticker.C:
			a.check(ctx)
		}
	}
}

func (a *AvailabilityPublisher) check(ctx context.Context) {
	pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.pinger.Ping(pctx); err != nil {
		a.failures++
		logrus.Debugf("gateway ping failed (%d consecutive): %s", a.failures, err)
	} else {
		a.failures = 0
	}

	payload := payloadOnline
	if a.failures >= pingFailureThreshold || !a.pinger.Online() {
		payload = payloadOffline
	}

	if payload != a.published {
		logrus.Infof("gateway availability: %s", payload)
	}
	a.publish(payload)
}

func (a *AvailabilityPublisher) publish(payload string) {
	if token := a.mqtt.Publish(a.Topic, 0, true, payload); token.Wait() && token.Error() != nil {
		logrus.Errorf("MQTT availability publish failed: %s", token.Error())
		return
	}
	a.published = payload
}
