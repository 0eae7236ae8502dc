// Package telemetry publishes bridge activity to an MQTT broker.
package telemetry

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"os"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/energizer-project/rconbridge/internal/config"
	"github.com/energizer-project/rconbridge/internal/events"
	"github.com/energizer-project/rconbridge/internal/util"
)

// Topic suffixes, appended to the configured prefix.
const (
	TopicState    = "state"
	TopicCommands = "commands"
	TopicSaves    = "saves"
	TopicAdmin    = "admin"
	TopicStatus   = "status"
)

// MQTTHandler forwards event bus traffic to MQTT topics.
type MQTTHandler struct {
	cfg      config.MQTTConfig
	eventBus *events.EventBus
	client   mqtt.Client
	logger   zerolog.Logger

	// Metadata included in every message
	metadata map[string]interface{}

	// send delivers an encoded message; replaced in tests.
	send func(topic string, data []byte)
}

// NewMQTTHandler creates a new MQTT telemetry handler. It fails when MQTT is
// disabled in cfg.
func NewMQTTHandler(cfg config.MQTTConfig, eventBus *events.EventBus, version string) (*MQTTHandler, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("MQTT is disabled")
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = config.DefaultTopicPrefix
	}

	sysInfo := util.GetSystemInfo()
	h := &MQTTHandler{
		cfg:      cfg,
		eventBus: eventBus,
		logger:   log.With().Str("component", "mqtt").Logger(),
		metadata: map[string]interface{}{
			"hostname":    sysInfo.Hostname,
			"os":          sysInfo.OS,
			"app_version": version,
		},
	}

	opts, err := h.clientOptions(sysInfo.Hostname)
	if err != nil {
		return nil, err
	}
	h.client = mqtt.NewClient(opts)
	h.send = h.publishToBroker

	return h, nil
}

func (h *MQTTHandler) clientOptions(hostname string) (*mqtt.ClientOptions, error) {
	scheme := "tcp"
	if h.cfg.UseTLS {
		scheme = "ssl"
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, h.cfg.BrokerURL, h.cfg.Port))

	if h.cfg.ClientID != "" {
		opts.SetClientID(h.cfg.ClientID)
	} else {
		opts.SetClientID(fmt.Sprintf("%s-%s", util.AppName, hostname))
	}
	if h.cfg.Username != "" {
		opts.SetUsername(h.cfg.Username)
		opts.SetPassword(h.cfg.Password)
	}

	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetCleanSession(false)

	if h.cfg.UseTLS {
		tlsConfig, err := h.tlsConfig()
		if err != nil {
			return nil, err
		}
		opts.SetTLSConfig(tlsConfig)
	}

	opts.SetOnConnectHandler(func(client mqtt.Client) {
		h.logger.Info().Msg("MQTT connected")
	})
	opts.SetConnectionLostHandler(func(client mqtt.Client, err error) {
		h.logger.Warn().Err(err).Msg("MQTT connection lost")
	})

	return opts, nil
}

func (h *MQTTHandler) tlsConfig() (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
	}

	if h.cfg.CAFile != "" {
		pem, err := os.ReadFile(h.cfg.CAFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read MQTT CA file: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("no certificates found in MQTT CA file %s", h.cfg.CAFile)
		}
		tlsConfig.RootCAs = pool
	}

	// mTLS
	if h.cfg.CertFile != "" && h.cfg.KeyFile != "" {
		cert, err := tls.LoadX509KeyPair(h.cfg.CertFile, h.cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to load MQTT TLS certificate: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

// Start connects to the broker, forwards events until ctx is cancelled,
// then publishes a shutdown notice and disconnects.
func (h *MQTTHandler) Start(ctx context.Context) error {
	h.logger.Info().
		Str("broker", h.cfg.BrokerURL).
		Int("port", h.cfg.Port).
		Msg("connecting to MQTT broker")

	token := h.client.Connect()
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("MQTT connect failed: %w", token.Error())
	}

	h.Attach()

	<-ctx.Done()

	h.PublishShutdown()
	h.client.Disconnect(5000)
	h.logger.Info().Msg("MQTT disconnected")

	return nil
}

// Attach subscribes the handler to the events it publishes.
func (h *MQTTHandler) Attach() {
	h.eventBus.Subscribe(events.EventStateChanged, "mqtt.state", h.forward(TopicState))
	h.eventBus.Subscribe(events.EventCommandExecuted, "mqtt.commands", h.forward(TopicCommands))
	h.eventBus.Subscribe(events.EventSaveLoaded, "mqtt.saveLoaded", h.forwardTagged(TopicSaves, "save_loaded"))
	h.eventBus.Subscribe(events.EventSaveUploaded, "mqtt.saveUploaded", h.forwardTagged(TopicSaves, "save_uploaded"))
	h.eventBus.Subscribe(events.EventHeartbeat, "mqtt.heartbeat", h.forward(TopicStatus))
	h.eventBus.Subscribe(events.EventDiskAlert, "mqtt.diskAlert", h.forwardTagged(TopicAdmin, "disk_alert"))
}

func (h *MQTTHandler) forward(suffix string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(suffix, event.Payload)
		return nil
	}
}

func (h *MQTTHandler) forwardTagged(suffix, tag string) events.HandlerFunc {
	return func(ctx context.Context, event events.Event) error {
		h.publish(suffix, map[string]interface{}{
			"event":   tag,
			"payload": event.Payload,
		})
		return nil
	}
}

// Topic returns the full topic name for a suffix.
func (h *MQTTHandler) Topic(suffix string) string {
	return h.cfg.TopicPrefix + "/" + suffix
}

func (h *MQTTHandler) publish(suffix string, payload interface{}) {
	topic := h.Topic(suffix)

	data, err := json.Marshal(h.buildMessage(payload))
	if err != nil {
		h.logger.Warn().Err(err).Str("topic", topic).Msg("failed to marshal MQTT message")
		return
	}
	h.send(topic, data)
}

func (h *MQTTHandler) publishToBroker(topic string, data []byte) {
	if !h.client.IsConnected() {
		return
	}

	token := h.client.Publish(topic, 1, false, data) // QoS 1
	go func() {
		token.Wait()
		if token.Error() != nil {
			h.logger.Warn().Err(token.Error()).Str("topic", topic).Msg("MQTT publish failed")
		}
	}()
}

// buildMessage combines metadata with the event payload.
func (h *MQTTHandler) buildMessage(payload interface{}) map[string]interface{} {
	msg := make(map[string]interface{}, len(h.metadata)+2)
	for k, v := range h.metadata {
		msg[k] = v
	}
	msg["payload"] = payload
	msg["timestamp"] = time.Now().UTC().Format(time.RFC3339)
	return msg
}

// PublishShutdown sends a shutdown message to the admin topic.
func (h *MQTTHandler) PublishShutdown() {
	h.publish(TopicAdmin, map[string]interface{}{
		"event": "shutdown",
	})
}
