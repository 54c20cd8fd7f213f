// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package mqttbridge connects the control panel and the readings mailbox to
// an MQTT broker.
//
// Topics, below the configured prefix:
//
//	status                    online / offline (retained, also the last will)
//	<device>/set/<field>      settings intake, payload is the text value
//	<device>/settings         complete settings after every change (retained)
//	<device>/readings         regulator sensor values as JSON
package mqttbridge

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"github.com/Thermoquad/rff60emu/pkg/config"
	"github.com/Thermoquad/rff60emu/pkg/control"
	"github.com/Thermoquad/rff60emu/pkg/emulator"
)

const (
	connectTimeout    = 10 * time.Second
	publishTimeout    = 5 * time.Second
	disconnectQuiesce = 250 // milliseconds

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// ErrConnectionFailed is returned when the broker cannot be reached
var ErrConnectionFailed = errors.New("mqtt: connection failed")

// Panel is the part of control.Panel the bridge drives
type Panel interface {
	Names() []string
	Set(name, field, value string) error
	Settings(name string) (emulator.ThermoSettings, error)
}

// Bridge relays settings changes from MQTT into the panel and readings from
// the engine to MQTT.
type Bridge struct {
	client mqtt.Client
	panel  Panel
	names  map[byte]string
	prefix string
	qos    byte
	log    zerolog.Logger
}

// Connect builds a paho client from cfg and waits for the first connection.
// The bridge's status topic is registered as the last will.
func Connect(cfg config.MQTTConfig, logger zerolog.Logger) (mqtt.Client, error) {
	if cfg.Broker == "" {
		return nil, fmt.Errorf("%w: broker address is required", ErrConnectionFailed)
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(connectTimeout)
	opts.SetWill(statusTopic(cfg.TopicPrefix), payloadOffline, byte(cfg.QoS), true)

	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn().Err(err).Msg("mqtt: connection lost")
	})
	opts.SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
		logger.Info().Msg("mqtt: reconnecting")
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, connectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	return client, nil
}

// New creates a bridge. names maps device data addresses to panel names.
func New(client mqtt.Client, panel Panel, names map[byte]string, cfg config.MQTTConfig, logger zerolog.Logger) *Bridge {
	return &Bridge{
		client: client,
		panel:  panel,
		names:  names,
		prefix: strings.Trim(cfg.TopicPrefix, "/"),
		qos:    byte(cfg.QoS),
		log:    logger,
	}
}

// Start subscribes to the settings topics and announces the bridge online
func (b *Bridge) Start() error {
	topic := b.topic("+", "set", "+")
	token := b.client.Subscribe(topic, b.qos, b.handleSet)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("mqtt: subscribe %s: timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt: subscribe %s: %w", topic, err)
	}

	b.publish(statusTopic(b.prefix), []byte(payloadOnline), true)
	for _, name := range b.panel.Names() {
		b.publishSettings(name)
	}
	b.log.Info().Str("topic", topic).Msg("mqtt bridge started")
	return nil
}

// Close announces the bridge offline and disconnects
func (b *Bridge) Close() {
	if b.client.IsConnected() {
		b.publish(statusTopic(b.prefix), []byte(payloadOffline), true)
	}
	b.client.Disconnect(disconnectQuiesce)
}

// PublishReadings sends one readings value. It matches the handler
// signature of emulator.PollReadings.
func (b *Bridge) PublishReadings(r emulator.ThermoReadings) {
	name, ok := b.names[r.Address]
	if !ok {
		name = fmt.Sprintf("0x%02x", r.Address)
	}
	payload, err := json.Marshal(r)
	if err != nil {
		b.log.Warn().Err(err).Msg("mqtt: encode readings")
		return
	}
	b.publish(b.topic(name, "readings"), payload, false)
}

func (b *Bridge) handleSet(_ mqtt.Client, msg mqtt.Message) {
	name, field, ok := b.parseSetTopic(msg.Topic())
	if !ok {
		b.log.Debug().Str("topic", msg.Topic()).Msg("mqtt: ignoring topic")
		return
	}

	if err := b.panel.Set(name, field, string(msg.Payload())); err != nil {
		b.log.Warn().Err(err).Str("device", name).Str("field", field).Msg("mqtt: rejected setting")
		return
	}

	switch field {
	case control.FieldRemoteControl, control.FieldVerboseLogging:
		for _, n := range b.panel.Names() {
			b.publishSettings(n)
		}
	default:
		b.publishSettings(name)
	}
}

// parseSetTopic splits <prefix>/<device>/set/<field>
func (b *Bridge) parseSetTopic(topic string) (name, field string, ok bool) {
	rest := topic
	if b.prefix != "" {
		if !strings.HasPrefix(topic, b.prefix+"/") {
			return "", "", false
		}
		rest = strings.TrimPrefix(topic, b.prefix+"/")
	}
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[1] != "set" || parts[0] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[0], parts[2], true
}

// settingsPayload is the retained state of one device, in the same text
// forms accepted on the set topics.
type settingsPayload struct {
	Selector        string  `json:"selector"`
	TempOffset      float64 `json:"temp_offset"`
	TempMeasurement float64 `json:"temp_measurement"`
	UseRoomTemp     bool    `json:"use_room_temp"`
	RemoteControl   string  `json:"remote_control"`
	VerboseLogging  string  `json:"verbose_logging"`
}

func (b *Bridge) publishSettings(name string) {
	s, err := b.panel.Settings(name)
	if err != nil {
		b.log.Warn().Err(err).Str("device", name).Msg("mqtt: settings lookup")
		return
	}
	payload, err := json.Marshal(settingsPayload{
		Selector:        s.Selector.String(),
		TempOffset:      s.TempOffset,
		TempMeasurement: s.TempMeasurement,
		UseRoomTemp:     !s.IgnoreMeasuredTemp,
		RemoteControl:   control.RemoteControlLabel(s.RemoteControl),
		VerboseLogging:  s.VerboseLogging.String(),
	})
	if err != nil {
		b.log.Warn().Err(err).Msg("mqtt: encode settings")
		return
	}
	b.publish(b.topic(name, "settings"), payload, true)
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, b.qos, retained, payload)
	go func() {
		if !token.WaitTimeout(publishTimeout) {
			b.log.Warn().Str("topic", topic).Msg("mqtt: publish timeout")
			return
		}
		if err := token.Error(); err != nil {
			b.log.Warn().Err(err).Str("topic", topic).Msg("mqtt: publish failed")
		}
	}()
}

func (b *Bridge) topic(parts ...string) string {
	if b.prefix == "" {
		return strings.Join(parts, "/")
	}
	return b.prefix + "/" + strings.Join(parts, "/")
}

func statusTopic(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return "status"
	}
	return prefix + "/status"
}
