// Package homeassistant announces sensors over MQTT discovery and publishes
// their states.
package homeassistant

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"codeberg.org/mutker/solo2d/internal/errors"
	"codeberg.org/mutker/solo2d/internal/logger"
	"codeberg.org/mutker/solo2d/internal/poller"
	"codeberg.org/mutker/solo2d/internal/record"
	"codeberg.org/mutker/solo2d/internal/sensor"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	payloadOnline  = "online"
	payloadOffline = "offline"

	defaultTimeout = 10 * time.Second
)

type Config struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string

	// MountPoint is part of every sensor's unique id.
	MountPoint string
}

// AvailabilityTopic carries the online/offline state of the daemon.
func (c Config) AvailabilityTopic() string {
	return c.TopicPrefix + "/status"
}

// ClientOptions returns broker options with an offline last will on the
// availability topic.
func (c Config) ClientOptions(log logger.Logger) *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(c.Broker).
		SetClientID(c.ClientID).
		SetUsername(c.Username).
		SetPassword(c.Password).
		SetAutoReconnect(true).
		SetWill(c.AvailabilityTopic(), payloadOffline, 1, true).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		}).
		SetReconnectingHandler(func(_ mqtt.Client, _ *mqtt.ClientOptions) {
			log.Info().Msg("MQTT reconnecting")
		})
}

// Client publishes sensor discovery and state messages.
type Client struct {
	mqtt    mqtt.Client
	cfg     Config
	sensors []sensor.Sensor
	logger  logger.Logger
	timeout time.Duration
}

func NewClient(client mqtt.Client, cfg Config, sensors []sensor.Sensor, log logger.Logger) *Client {
	return &Client{
		mqtt:    client,
		cfg:     cfg,
		sensors: sensors,
		logger:  log.WithComponent("homeassistant"),
		timeout: defaultTimeout,
	}
}

// Connect connects the underlying client.
func (h *Client) Connect() error {
	t := h.mqtt.Connect()
	if !t.WaitTimeout(h.timeout) {
		return errors.New().WithData(ErrConnectFailed, h.cfg.Broker)
	}
	if err := t.Error(); err != nil {
		return errors.New().Wrap(ErrConnectFailed, err)
	}

	return nil
}

// Disconnect marks the daemon offline and closes the connection.
func (h *Client) Disconnect() {
	if err := h.publish(h.cfg.AvailabilityTopic(), true, payloadOffline); err != nil {
		h.logger.Debug().Err(err).Msg("Failed to publish offline state")
	}
	h.mqtt.Disconnect(uint(h.timeout / time.Millisecond))
}

// StateTopic is where the state of s is published.
func (h *Client) StateTopic(s sensor.Sensor) string {
	return fmt.Sprintf("%v/%v/state", h.cfg.TopicPrefix, s.ObjectID(h.cfg.MountPoint))
}

// ConfigTopic is where the discovery configuration of s is published.
func (h *Client) ConfigTopic(s sensor.Sensor) string {
	return fmt.Sprintf("%v/sensor/%v/config", h.cfg.DiscoveryPrefix, s.ObjectID(h.cfg.MountPoint))
}

// RegisterSensors publishes a retained discovery configuration per sensor and
// marks the daemon online.
func (h *Client) RegisterSensors() error {
	dev := device{
		Identifiers:  []string{"SOLO2-" + h.cfg.MountPoint},
		Name:         "Solo II",
		Manufacturer: "Geo",
		Model:        "Solo II",
	}

	for _, s := range h.sensors {
		precision := 2
		if s.DeviceClass() == "temperature" {
			precision = 1
		}

		payload, err := json.Marshal(sensorConfiguration{
			UniqueID:           s.UniqueID(h.cfg.MountPoint),
			ObjectID:           s.ObjectID(h.cfg.MountPoint),
			Name:               s.Name,
			DeviceClass:        s.DeviceClass(),
			StateClass:         s.StateClass(),
			StateTopic:         h.StateTopic(s),
			UnitOfMeasurement:  string(s.Unit),
			AvailabilityTopic:  h.cfg.AvailabilityTopic(),
			SuggestedPrecision: precision,
			Device:             dev,
		})
		if err != nil {
			return errors.New().Wrap(ErrPublishFailed, err)
		}

		if err := h.publish(h.ConfigTopic(s), true, payload); err != nil {
			return err
		}
		h.logger.Debug().Str("sensor", s.Name).Str("topic", h.ConfigTopic(s)).Msg("Sensor registered")
	}

	return h.MarkOnline()
}

// MarkOnline publishes the retained online state. The broker replaces it with
// the last will when the connection drops, so it is sent again on reconnect.
func (h *Client) MarkOnline() error {
	return h.publish(h.cfg.AvailabilityTopic(), true, payloadOnline)
}

// PublishStates publishes the value of every sensor whose window has data.
// It returns the first error but attempts every sensor.
func (h *Client) PublishStates(records map[int]record.Record) error {
	var firstErr error
	for _, s := range h.sensors {
		r, ok := records[s.Count]
		if !ok {
			h.logger.Debug().Str("sensor", s.Name).Int("window", s.Count).Msg("No data for sensor")
			continue
		}

		value := strconv.FormatFloat(s.Value(r), 'f', -1, 64)
		if err := h.publish(h.StateTopic(s), false, value); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// OnRefresh publishes the states of a successful refresh.
func (h *Client) OnRefresh(res poller.Result) {
	if res.Err != nil {
		return
	}

	if err := h.PublishStates(res.Records); err != nil {
		h.logger.Warn().Err(err).Msg("Failed to publish sensor states")
	}
}

func (h *Client) publish(topic string, retained bool, payload any) error {
	errFactory := errors.New()

	t := h.mqtt.Publish(topic, 0, retained, payload)
	if !t.WaitTimeout(h.timeout) {
		return errFactory.WithData(ErrPublishTimeout, topic)
	}
	if err := t.Error(); err != nil {
		return errFactory.Wrap(ErrPublishFailed, err)
	}

	return nil
}
