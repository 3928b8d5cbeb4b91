package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/gorilla/handlers"
	"github.com/mcalin/inelnet2mqtt/internal/mqtt"
	"github.com/mcalin/inelnet2mqtt/internal/observability"
	"github.com/mcalin/inelnet2mqtt/internal/web"
	"github.com/sirupsen/logrus"
)

func main() {
	logrus.SetFormatter(&logrus.TextFormatter{
		DisableColors: false,
		FullTimestamp: true,
	})

	configPath := flag.String("config", "config.yaml", "config.yaml file path")
	flag.Parse()

	if err := configLoader.Load(); err != nil {
		logrus.Fatal(err)
	}
	loadConfigFromYamlFile(*configPath)

	level, err := logrus.ParseLevel(Cfg.LogLevel)
	if err != nil {
		logrus.Fatal(err)
	}
	logrus.SetLevel(level)

	if len(Cfg.Covers) == 0 {
		logrus.Fatal("no covers configured")
	}

	ctx, cancel := context.WithCancel(context.Background())

	metrics := observability.NewMetrics()
	client := inelnetClientFromConfig(metrics)
	registry := registryFromConfig(client, metrics)

	if err := client.Ping(ctx); err != nil {
		logrus.Warnf("gateway not reachable at startup, proceeding anyway: %s", err)
	}

	var bridges []*mqtt.Bridge
	var groups *mqtt.GroupBridge

	opts := pahoOptsFromConfig()
	opts.OnConnect = func(m paho.Client) {
		logrus.Info("MQTT broker connected")
		subscribe(ctx, m, bridges, groups)
	}
	opts.OnConnectionLost = func(_ paho.Client, err error) {
		logrus.Errorf("MQTT broker connection lost: %s", err.Error())
	}

	m := paho.NewClient(opts)
	if token := m.Connect(); token.Wait() && token.Error() != nil {
		logrus.Fatal(token.Error())
	}

	bridges = bridgesFromRegistry(m, registry)
	groups = mqtt.NewGroupBridge(m, registry)
	subscribe(ctx, m, bridges, groups)

	availability := mqtt.NewAvailabilityPublisher(m, client)
	go availability.Run(ctx)

	server := web.NewServer(registry, client, metrics)
	go func() {
		handler := handlers.CombinedLoggingHandler(logrus.StandardLogger().Writer(), server.Router())
		logrus.Infof("diagnostics HTTP server listening on %s", Cfg.HTTP.Listen)
		if err := http.ListenAndServe(Cfg.HTTP.Listen, handler); err != nil {
			logrus.Errorf("diagnostics HTTP server failed: %s", err)
			cancel()
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	go func() {
		oscall := <-c
		logrus.Infof("system call: %+v", oscall)
		cancel()
	}()

	<-ctx.Done()

	cleanupTime := time.Second
	logrus.Infof("cleanups for %s...", cleanupTime.String())
	time.Sleep(cleanupTime)
}

func subscribe(ctx context.Context, m paho.Client, bridges []*mqtt.Bridge, groups *mqtt.GroupBridge) {
	for _, bridge := range bridges {
		if Cfg.HASS.Enabled {
			entity := mqtt.NewHACoverFromBridge(bridge, mqtt.GatewayAvailabilityTopic)
			if err := mqtt.PublishHAAutoDiscovery(m, Cfg.HASS.TopicPrefix, entity); err != nil {
				logrus.Fatal(err)
			}
		}

		if err := bridge.Subscribe(ctx); err != nil {
			logrus.Error(err)
		}
	}

	if groups != nil {
		if err := groups.Subscribe(ctx); err != nil {
			logrus.Error(err)
		}
	}
}
