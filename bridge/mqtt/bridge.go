// Package mqtt provides an optional MQTT uplink for GATEWAY-role nodes
// (SPEC_FULL.md §3, domain stack): packets are base64-encoded and published
// to "{TopicPrefix}/{MeshID}", and anything another gateway publishes on
// that topic is decoded and handed to the PacketHandler registered with
// SetPacketHandler, letting two otherwise radio-unreachable mesh segments
// bridge over the internet.
//
// Grounded directly on the teacher's transport/mqtt.Transport: same
// Config+New shape, the same paho.NewClientOptions auto-reconnect settings,
// and the same connected/state-handler bookkeeping under a mutex.
package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/aethermesh/aethermesh/codec"
)

// DefaultTopicPrefix is the default MQTT topic prefix for bridged packets.
const DefaultTopicPrefix = "aethermesh"

// PacketHandler receives a packet decoded off the bridge topic. It is
// registered with SetPacketHandler; the engine package does not register
// one itself.
type PacketHandler func(*codec.Packet)

// Config holds the configuration for an MQTT bridge.
type Config struct {
	// Broker is the MQTT broker URL (e.g. "tcp://broker.example.com:1883").
	Broker string
	// Username for MQTT authentication. Leave empty if not required.
	Username string
	// Password for MQTT authentication. Leave empty if not required.
	Password string
	// UseTLS enables TLS for the MQTT connection.
	UseTLS bool
	// ClientID is the MQTT client identifier. If empty, a random one is generated.
	ClientID string
	// TopicPrefix is the MQTT topic prefix (default: DefaultTopicPrefix).
	TopicPrefix string
	// MeshID identifies this mesh network (e.g. "backyard-mesh"). The
	// bridge subscribes to and publishes on "{TopicPrefix}/{MeshID}".
	MeshID string
	// MaxPacketSize bounds frames encoded by Publish (spec.md
	// max_packet_size); 0 means codec.DefaultMaxPacket. Received frames are
	// not size-checked.
	MaxPacketSize int
	// Logger is the logger to use. If nil, slog.Default() is used.
	Logger *slog.Logger
}

// Bridge relays codec.Packet frames between a GATEWAY-role engine and an
// MQTT broker.
type Bridge struct {
	cfg    Config
	client paho.Client
	log    *slog.Logger

	mu        sync.RWMutex
	connected bool
	handler   PacketHandler
}

// New creates an MQTT bridge with the given configuration. SetPacketHandler
// must be called before Start if inbound packets are to be delivered.
func New(cfg Config) *Bridge {
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = DefaultTopicPrefix
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Bridge{
		cfg: cfg,
		log: cfg.Logger.WithGroup("mqtt_bridge"),
	}
}

// SetPacketHandler sets the callback for packets received off the bridge
// topic.
func (b *Bridge) SetPacketHandler(fn PacketHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handler = fn
}

// Start connects to the MQTT broker and subscribes to the mesh topic.
func (b *Bridge) Start(ctx context.Context) error {
	if b.cfg.Broker == "" {
		return errors.New("mqtt bridge: broker URL is required")
	}
	if b.cfg.MeshID == "" {
		return errors.New("mqtt bridge: mesh ID is required")
	}

	clientID := b.cfg.ClientID
	if clientID == "" {
		clientID = "aethermesh-" + randomString(16)
	}

	opts := paho.NewClientOptions().
		AddBroker(b.cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetMaxReconnectInterval(2 * time.Minute).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetCleanSession(true).
		SetOrderMatters(false).
		SetOnConnectHandler(b.onConnected).
		SetConnectionLostHandler(b.onConnectionLost)

	if b.cfg.Username != "" {
		opts.SetUsername(b.cfg.Username)
	}
	if b.cfg.Password != "" {
		opts.SetPassword(b.cfg.Password)
	}
	if b.cfg.UseTLS {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}

	b.client = paho.NewClient(opts)

	token := b.client.Connect()
	if !token.WaitTimeout(30 * time.Second) {
		return errors.New("mqtt bridge: connection timeout")
	}
	if token.Error() != nil {
		return fmt.Errorf("mqtt bridge: connecting to broker: %w", token.Error())
	}
	return nil
}

// Stop gracefully disconnects from the MQTT broker.
func (b *Bridge) Stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.client != nil {
		b.client.Disconnect(1000)
		b.connected = false
	}
	return nil
}

// IsConnected reports whether the bridge is connected to the broker.
func (b *Bridge) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected && b.client != nil && b.client.IsConnected()
}

// Publish encodes p and publishes it to the mesh topic. The engine package
// does not call it itself.
func (b *Bridge) Publish(p *codec.Packet) error {
	if !b.IsConnected() {
		return errors.New("mqtt bridge: not connected")
	}
	maxSize := b.cfg.MaxPacketSize
	if maxSize == 0 {
		maxSize = codec.DefaultMaxPacket
	}
	frame, err := p.Encode(maxSize)
	if err != nil {
		return fmt.Errorf("mqtt bridge: encoding packet: %w", err)
	}
	payload := base64.StdEncoding.EncodeToString(frame)

	token := b.client.Publish(b.topic(), 0, false, payload)
	if !token.WaitTimeout(10 * time.Second) {
		return errors.New("mqtt bridge: timeout publishing")
	}
	return token.Error()
}

func (b *Bridge) topic() string {
	return b.cfg.TopicPrefix + "/" + b.cfg.MeshID
}

func (b *Bridge) subscribe() {
	topic := b.topic()
	b.client.Subscribe(topic, 0, b.handleMessage)
	b.log.Debug("subscribed to mesh topic", "topic", topic)
}

func (b *Bridge) handleMessage(_ paho.Client, message paho.Message) {
	b.mu.RLock()
	handler := b.handler
	b.mu.RUnlock()
	if handler == nil {
		return
	}

	raw, err := base64.StdEncoding.DecodeString(string(message.Payload()))
	if err != nil {
		b.log.Debug("failed to decode base64 payload", "error", err)
		return
	}

	p, err := codec.Decode(raw)
	if err != nil {
		b.log.Debug("failed to parse bridged packet", "error", err)
		return
	}

	handler(p)
}

func (b *Bridge) onConnected(_ paho.Client) {
	b.mu.Lock()
	b.connected = true
	b.mu.Unlock()

	b.subscribe()
	b.log.Info("connected to MQTT broker", "broker", b.cfg.Broker)
}

func (b *Bridge) onConnectionLost(_ paho.Client, err error) {
	b.mu.Lock()
	b.connected = false
	b.mu.Unlock()
	b.log.Error("MQTT connection lost", "error", err)
}

func randomString(n int) string {
	const alphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rand.IntN(len(alphabet))]
	}
	return string(b)
}
