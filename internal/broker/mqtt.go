package broker

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"

	"github.com/eclipse/paho.golang/paho"
)

// MQTT holds one session against an MQTT v5 broker using the bare
// paho client. No autopaho: reconnection is the supervisor's call,
// not the transport's.
type MQTT struct {
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	client *paho.Client
	conn   net.Conn

	alive atomic.Bool
}

// NewMQTT returns an MQTT driver with no session open.
func NewMQTT(cfg Config) *MQTT {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &MQTT{cfg: cfg, logger: cfg.Logger}
}

// Open dials the broker, performs the MQTT connect handshake, and
// publishes a retained birth message when an availability topic is
// configured. The will message covering unexpected death is registered
// during the handshake.
func (m *MQTT) Open(ctx context.Context, endpointURL, clientID string) error {
	m.Close()

	ep, err := parseEndpoint(endpointURL)
	if err != nil {
		return err
	}

	conn, err := dial(ctx, ep)
	if err != nil {
		return fmt.Errorf("dial broker %s: %w", ep.addr, err)
	}

	client := paho.NewClient(paho.ClientConfig{
		ClientID: clientID,
		Conn:     conn,
		OnServerDisconnect: func(d *paho.Disconnect) {
			m.alive.Store(false)
			m.logger.Warn("broker closed the session", "reason_code", d.ReasonCode)
		},
		OnClientError: func(err error) {
			m.alive.Store(false)
			m.logger.Warn("mqtt session error", "error", err)
		},
	})

	cp := &paho.Connect{
		ClientID:   clientID,
		KeepAlive:  uint16(m.cfg.keepAlive().Seconds()),
		CleanStart: true,
	}
	if m.cfg.Username != "" {
		cp.UsernameFlag = true
		cp.Username = m.cfg.Username
	}
	if m.cfg.Password != "" {
		cp.PasswordFlag = true
		cp.Password = []byte(m.cfg.Password)
	}
	if m.cfg.AvailabilityTopic != "" {
		cp.WillMessage = &paho.WillMessage{
			Topic:   m.cfg.AvailabilityTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		}
	}

	ca, err := client.Connect(ctx, cp)
	if err != nil {
		conn.Close()
		return fmt.Errorf("mqtt connect %s: %w", ep.addr, err)
	}
	if ca.ReasonCode != 0 {
		conn.Close()
		return fmt.Errorf("mqtt connect %s: broker refused with reason code %d", ep.addr, ca.ReasonCode)
	}

	m.mu.Lock()
	m.client = client
	m.conn = conn
	m.mu.Unlock()
	m.alive.Store(true)

	m.logger.Info("mqtt session open",
		"broker", ep.addr,
		"client_id", clientID,
		"tls", ep.tls,
	)

	if m.cfg.AvailabilityTopic != "" {
		if err := m.PublishRetained(ctx, m.cfg.AvailabilityTopic, []byte("online")); err != nil {
			m.logger.Warn("birth message publish failed", "error", err)
		}
	}

	return nil
}

// Publish delivers payload to topic at the configured QoS.
func (m *MQTT) Publish(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil {
		return ErrNoSession
	}

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.publishTimeout())
		defer cancel()
	}

	resp, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     m.cfg.QoS,
	})
	if err != nil {
		m.alive.Store(false)
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	if resp != nil && resp.ReasonCode >= 0x80 {
		return fmt.Errorf("publish %s: broker returned reason code %d", topic, resp.ReasonCode)
	}
	return nil
}

// PublishRetained sends a retained QoS 1 message. The availability
// birth message and Home Assistant discovery configs use retention so
// subscribers that arrive later still see them.
func (m *MQTT) PublishRetained(ctx context.Context, topic string, payload []byte) error {
	m.mu.Lock()
	client := m.client
	m.mu.Unlock()

	if client == nil {
		return ErrNoSession
	}

	_, err := client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     1,
		Retain:  true,
	})
	return err
}

// Alive reports whether the session survived since Open. The flag
// drops on server disconnects and transport errors.
func (m *MQTT) Alive() bool {
	m.mu.Lock()
	open := m.client != nil
	m.mu.Unlock()
	return open && m.alive.Load()
}

// Close sends a clean disconnect and releases the connection. The
// broker discards the will message on a clean close, so a final
// retained "offline" is published first.
func (m *MQTT) Close() error {
	m.mu.Lock()
	client := m.client
	conn := m.conn
	m.client = nil
	m.conn = nil
	m.mu.Unlock()

	if client == nil {
		return nil
	}

	if m.cfg.AvailabilityTopic != "" && m.alive.Load() {
		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.publishTimeout())
		client.Publish(ctx, &paho.Publish{
			Topic:   m.cfg.AvailabilityTopic,
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		})
		cancel()
	}

	m.alive.Store(false)
	err := client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	if conn != nil {
		conn.Close()
	}
	if err != nil {
		return fmt.Errorf("mqtt disconnect: %w", err)
	}
	return nil
}

// dial opens the TCP or TLS transport for an MQTT session.
func dial(ctx context.Context, ep endpoint) (net.Conn, error) {
	d := &net.Dialer{}
	if !ep.tls {
		return d.DialContext(ctx, "tcp", ep.addr)
	}
	td := &tls.Dialer{
		NetDialer: d,
		Config:    &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return td.DialContext(ctx, "tcp", ep.addr)
}

var _ Driver = (*MQTT)(nil)
