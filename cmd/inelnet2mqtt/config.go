package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cristalhq/aconfig"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/mcalin/inelnet2mqtt/internal/cover"
	"github.com/mcalin/inelnet2mqtt/internal/inelnet"
	"github.com/mcalin/inelnet2mqtt/internal/mqtt"
	"github.com/mcalin/inelnet2mqtt/internal/observability"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"
)

type cfgCover struct {
	Channel int    `yaml:"channel"`
	Name    string `yaml:"name"`
	// TravelTime is the full open-to-closed run in seconds.
	TravelTime int    `yaml:"travel_time"`
	Facade     string `yaml:"facade"`
	Floor      string `yaml:"floor"`
	Shaded     bool   `yaml:"shaded"`
}

const defaultTravelTimeSeconds = 20

type cfgMQTT struct {
	ClientID string `yaml:"client_id" default:"inelnet2mqtt" env:"CLIENT_ID"`
	Broker   string `yaml:"broker" default:"127.0.0.1:1883" env:"BROKER"`
	Username string `yaml:"username" env:"USERNAME"`
	Password string `yaml:"password" env:"PASSWORD"`
}

type cfgHASS struct {
	Enabled     bool   `yaml:"enabled" default:"true" env:"ENABLED"`
	TopicPrefix string `yaml:"topic_prefix" default:"homeassistant" env:"TOPIC_PREFIX"`
}

type cfgInelNet struct {
	Host         string `yaml:"host" default:"192.168.1.66" env:"HOST"`
	Timeout      int    `yaml:"timeout" default:"5" env:"TIMEOUT"`
	RetryCount   int    `yaml:"retry_count" default:"2" env:"RETRY_COUNT"`
	RetryDelayMs int    `yaml:"retry_delay_ms" default:"800" env:"RETRY_DELAY_MS"`
}

type cfgHTTP struct {
	Listen string `yaml:"listen" default:":8080" env:"LISTEN"`
}

var Cfg struct {
	LogLevel string `yaml:"log_level" default:"info" env:"LOG_LEVEL"`

	MQTT    cfgMQTT    `yaml:"mqtt" env:"MQTT"`
	HASS    cfgHASS    `yaml:"hass" env:"HASS"`
	InelNet cfgInelNet `yaml:"inelnet" env:"INELNET"`
	HTTP    cfgHTTP    `yaml:"http" env:"HTTP"`

	// ShortPulsePercent is the position change attributed to a short
	// up/down nudge.
	ShortPulsePercent float64 `yaml:"short_pulse_percent" default:"5" env:"SHORT_PULSE_PERCENT"`

	Covers []cfgCover `yaml:"covers"`
}

var configLoader = aconfig.LoaderFor(&Cfg, aconfig.Config{
	EnvPrefix: "I2M",
})

func loadConfigFromYamlFile(filename string) {
	f, err := os.Open(filename)
	if err != nil {
		logrus.Error(err)
		return
	}
	defer f.Close()

	if err := yaml.NewDecoder(f).Decode(&Cfg); err != nil {
		logrus.Fatal(err)
	}
}

func pahoOptsFromConfig() *paho.ClientOptions {
	return paho.NewClientOptions().
		SetClientID(fmt.Sprintf("%s-%s", Cfg.MQTT.ClientID, uuid.NewString()[:8])).
		AddBroker(Cfg.MQTT.Broker).
		SetUsername(Cfg.MQTT.Username).
		SetPassword(Cfg.MQTT.Password).
		SetConnectTimeout(time.Second).
		SetPingTimeout(time.Second).
		SetWriteTimeout(time.Second).
		SetAutoReconnect(true)
}

func inelnetClientFromConfig(metrics *observability.Metrics) *inelnet.Client {
	client := inelnet.NewClient(
		Cfg.InelNet.Host,
		Cfg.InelNet.RetryCount,
		time.Duration(Cfg.InelNet.RetryDelayMs)*time.Millisecond,
		time.Duration(Cfg.InelNet.Timeout)*time.Second,
	)
	client.SetMetrics(metrics)
	return client
}

// registryFromConfig builds one controller per configured cover. Invalid
// channel numbers or travel times abort startup; they must never be
// reachable at runtime.
func registryFromConfig(client *inelnet.Client, metrics *observability.Metrics) *cover.Registry {
	registry := cover.NewRegistry()

	for _, cfg := range Cfg.Covers {
		travelTime := cfg.TravelTime
		if travelTime == 0 {
			travelTime = defaultTravelTimeSeconds
		}

		c, err := cover.NewController(cover.Config{
			Channel:            cfg.Channel,
			Name:               cfg.Name,
			TravelTime:         time.Duration(travelTime) * time.Second,
			Facade:             cfg.Facade,
			Floor:              cfg.Floor,
			Shaded:             cfg.Shaded,
			ShortPulseFraction: Cfg.ShortPulsePercent / 100,
		}, client)
		if err != nil {
			logrus.Fatal(err)
		}
		c.SetMetrics(metrics)

		if err := registry.Add(c); err != nil {
			logrus.Fatal(err)
		}
	}

	return registry
}

func bridgesFromRegistry(client paho.Client, registry *cover.Registry) (bridges []*mqtt.Bridge) {
	for _, c := range registry.All() {
		bridge := mqtt.NewBridge(client, c)
		if err := bridge.SetMetadata(map[string]interface{}{
			"channel":            c.Channel(),
			"travel_time":        c.TravelTime().String(),
			"facade":             c.Facade(),
			"floor":              c.Floor(),
			"shaded":             c.Shaded(),
			"estimated_position": true,
		}); err != nil {
			logrus.Fatal(err)
		}
		bridges = append(bridges, bridge)
	}

	return bridges
}
