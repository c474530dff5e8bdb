// Package mqtt exposes the case light to Home Assistant over MQTT discovery.
package mqtt

import (
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/caselightd/internal/eventbus"
	"github.com/dokzlo13/caselightd/internal/light"
)

// Config holds MQTT bridge configuration.
type Config struct {
	Broker          string
	ClientID        string
	Username        string
	Password        string
	TopicPrefix     string
	DiscoveryPrefix string
	NodeID          string
	ConnectTimeout  time.Duration
}

// Light is the part of the device the bridge drives.
type Light interface {
	State() light.State
	SetBrightness(v uint8)
	SetZone(i int, name string) error
}

// Bridge mirrors the light to MQTT and applies commands from Home Assistant.
type Bridge struct {
	client          pahomqtt.Client
	light           Light
	topics          topics
	nodeID          string
	discoveryPrefix string

	mu     sync.Mutex
	lastOn uint8
}

// NewBridge creates and connects an MQTT bridge.
func NewBridge(l Light, cfg Config) (*Bridge, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker not configured")
	}
	nodeID := sanitizeNodeID(cfg.NodeID)
	if nodeID == "" {
		nodeID = "caselight"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "caselightd-" + nodeID
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}

	b := &Bridge{
		light:           l,
		topics:          newTopics(cfg.TopicPrefix, nodeID),
		nodeID:          nodeID,
		discoveryPrefix: cfg.DiscoveryPrefix,
		lastOn:          light.MaxBrightness,
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5*time.Second).
		SetWill(b.topics.availability, "offline", 1, true).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			log.Info().Str("broker", cfg.Broker).Msg("MQTT connected")
			b.publish(b.topics.availability, []byte("online"), true)
			b.publishDiscovery()
			b.subscribeCommands()
			b.publishState()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			log.Warn().Err(err).Msg("MQTT connection lost")
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	b.client = pahomqtt.NewClient(opts)
	if err := connect(b.client, cfg.ConnectTimeout); err != nil {
		return nil, err
	}
	return b, nil
}

// connect waits for the first connection. On failure the client is
// disconnected so its retry loop stops.
func connect(client pahomqtt.Client, timeout time.Duration) error {
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect timeout after %s", timeout)
	}
	if err := token.Error(); err != nil {
		client.Disconnect(0)
		return fmt.Errorf("mqtt connect: %w", err)
	}
	return nil
}

// Subscribe republishes state whenever the light changes.
func (b *Bridge) Subscribe(bus *eventbus.Bus) {
	bus.Subscribe(eventbus.EventBrightnessCommitted, func(e eventbus.Event) {
		if d, ok := e.Payload.(eventbus.Dispatch); ok {
			b.rememberOn(d.Brightness)
			b.publishBrightness(d.Brightness)
		}
	})
	bus.Subscribe(eventbus.EventZoneChanged, func(e eventbus.Event) {
		if zc, ok := e.Payload.(eventbus.ZoneChange); ok && zc.Zone >= 0 && zc.Zone < light.MaxZones {
			b.publish(b.topics.zoneState[zc.Zone], []byte(zc.Color), true)
		}
	})
}

// Stop publishes offline and disconnects.
func (b *Bridge) Stop() {
	token := b.client.Publish(b.topics.availability, 1, true, []byte("offline"))
	token.WaitTimeout(2 * time.Second)
	b.client.Disconnect(1000)
	log.Info().Msg("MQTT bridge stopped")
}

func (b *Bridge) publishDiscovery() {
	if b.discoveryPrefix == "" {
		return
	}
	for _, msg := range buildDiscovery(b.discoveryPrefix, b.nodeID, b.topics) {
		b.publish(msg.Topic, msg.Payload, true)
	}
	log.Info().Str("node_id", b.nodeID).Msg("Published Home Assistant discovery")
}

func (b *Bridge) publishState() {
	state := b.light.State()
	b.rememberOn(state.Brightness)
	b.publishBrightness(state.Brightness)
	for i, c := range state.Zones {
		b.publish(b.topics.zoneState[i], []byte(c.String()), true)
	}
}

func (b *Bridge) publishBrightness(v uint8) {
	b.publish(b.topics.state, []byte(switchState(v)), true)
	b.publish(b.topics.brightnessState, []byte(strconv.Itoa(int(v))), true)
}

func (b *Bridge) rememberOn(v uint8) {
	if v == 0 {
		return
	}
	b.mu.Lock()
	b.lastOn = v
	b.mu.Unlock()
}

func (b *Bridge) subscribeCommands() {
	b.client.Subscribe(b.topics.command, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		b.mu.Lock()
		lastOn := b.lastOn
		b.mu.Unlock()
		v, err := parseSwitch(msg.Payload(), lastOn)
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Ignoring MQTT command")
			return
		}
		b.light.SetBrightness(v)
	})

	b.client.Subscribe(b.topics.brightnessCommand, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		v, err := parseBrightness(msg.Payload())
		if err != nil {
			log.Warn().Err(err).Str("topic", msg.Topic()).Msg("Ignoring MQTT command")
			return
		}
		b.light.SetBrightness(v)
	})

	for i := 0; i < light.MaxZones; i++ {
		zone := i
		b.client.Subscribe(b.topics.zoneCommand[zone], 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
			if err := b.light.SetZone(zone, string(msg.Payload())); err != nil {
				log.Warn().Err(err).Int("zone", zone).Msg("Ignoring MQTT zone command")
				// put HA's select back to the stored value
				if c := b.light.State().Zones[zone]; c.Valid() {
					b.publish(b.topics.zoneState[zone], []byte(c.String()), true)
				}
			}
		})
	}
}

func (b *Bridge) publish(topic string, payload []byte, retained bool) {
	token := b.client.Publish(topic, 1, retained, payload)
	go func() {
		if !token.WaitTimeout(5 * time.Second) {
			log.Warn().Str("topic", topic).Msg("MQTT publish timeout")
		} else if err := token.Error(); err != nil {
			log.Warn().Err(err).Str("topic", topic).Msg("MQTT publish error")
		}
	}()
}
