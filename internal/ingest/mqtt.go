package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"sensornet/internal/config"
	"sensornet/internal/metrics"
	"sensornet/internal/model"
)

// StartMQTT subscribes to the configured topic and feeds payloads into the
// pipeline. When a payload carries no sensor id, the last topic segment
// before "readings" is used, so "sensors/s-temp-01/readings" maps to
// "s-temp-01".
func StartMQTT(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.RawReading, m *metrics.Metrics, logger *slog.Logger) error {
	current := cfg.Get().Ingest.MQTT
	if !current.Enabled {
		if logger != nil {
			logger.Info("mqtt ingest disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("mqtt ingest enabled", "broker", current.Broker, "topic", current.Topic)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(current.Broker)
	opts.SetClientID(current.ClientID)
	if current.Username != "" {
		opts.SetUsername(current.Username)
	}
	if current.Password != "" {
		opts.SetPassword(current.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("mqtt connect %s: %w", current.Broker, token.Error())
	}

	handler := func(_ mqtt.Client, msg mqtt.Message) {
		reading, err := parser.ParseLine(string(msg.Payload()))
		if err != nil || reading == nil {
			if err != nil && logger != nil {
				logger.Warn("mqtt payload rejected", "topic", msg.Topic(), "err", err)
			}
			return
		}
		if reading.SensorID == "" {
			reading.SensorID = topicSensorID(msg.Topic())
		}
		reading.Source = "mqtt"
		SendNonBlocking(ctx, out, *reading, m, logger)
	}
	if token := client.Subscribe(current.Topic, byte(current.QoS), handler); token.Wait() && token.Error() != nil {
		client.Disconnect(250)
		return fmt.Errorf("mqtt subscribe %s: %w", current.Topic, token.Error())
	}

	go func() {
		<-ctx.Done()
		client.Disconnect(250)
	}()
	return nil
}

func topicSensorID(topic string) string {
	parts := strings.Split(topic, "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if p := strings.TrimSpace(parts[i]); p != "" && p != "readings" {
			return p
		}
	}
	return ""
}
