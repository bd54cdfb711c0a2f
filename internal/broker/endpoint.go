package broker

import (
	"fmt"
	"net"
	"net/url"
	"strings"
)

// endpoint is a parsed broker address.
type endpoint struct {
	addr string // host:port
	tls  bool
}

// parseEndpoint accepts the URL forms brokers are commonly written as:
// tcp://host:port, mqtt://, mqtts://, ssl://, tls://, or a bare
// host[:port]. Missing ports default to 1883 (plain) or 8883 (TLS).
func parseEndpoint(raw string) (endpoint, error) {
	if raw == "" {
		return endpoint{}, fmt.Errorf("empty broker endpoint")
	}

	if !strings.Contains(raw, "://") {
		raw = "tcp://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return endpoint{}, fmt.Errorf("parse broker endpoint %q: %w", raw, err)
	}

	var useTLS bool
	switch u.Scheme {
	case "tcp", "mqtt":
		useTLS = false
	case "ssl", "tls", "mqtts":
		useTLS = true
	default:
		return endpoint{}, fmt.Errorf("unsupported broker scheme %q", u.Scheme)
	}

	host := u.Hostname()
	if host == "" {
		return endpoint{}, fmt.Errorf("broker endpoint %q has no host", raw)
	}

	port := u.Port()
	if port == "" {
		if useTLS {
			port = "8883"
		} else {
			port = "1883"
		}
	}

	return endpoint{addr: net.JoinHostPort(host, port), tls: useTLS}, nil
}

// subjectFromTopic maps an MQTT-style topic to a NATS subject. Slashes
// become dots; characters NATS treats as wildcards are rewritten so a
// topic can never accidentally widen into one.
func subjectFromTopic(topic string) string {
	s := strings.Trim(topic, "/")
	s = strings.ReplaceAll(s, ".", "_")
	s = strings.ReplaceAll(s, "*", "_")
	s = strings.ReplaceAll(s, ">", "_")
	s = strings.ReplaceAll(s, " ", "_")
	return strings.ReplaceAll(s, "/", ".")
}
