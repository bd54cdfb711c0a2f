package discover

import (
	"net"
	"testing"
	"time"

	"github.com/enbility/zeroconf/v3"
)

func TestEndpointFromEntry(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		entry *zeroconf.ServiceEntry
		want  string
		ok    bool
	}{
		{
			name: "ipv4 preferred",
			entry: &zeroconf.ServiceEntry{
				HostName: "broker.local.",
				Port:     1883,
				AddrIPv4: []net.IP{net.ParseIP("192.168.1.100")},
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
			},
			want: "tcp://192.168.1.100:1883",
			ok:   true,
		},
		{
			name: "ipv6 fallback",
			entry: &zeroconf.ServiceEntry{
				Port:     8883,
				AddrIPv6: []net.IP{net.ParseIP("fe80::1")},
			},
			want: "tcp://[fe80::1]:8883",
			ok:   true,
		},
		{
			name: "hostname fallback trims dot",
			entry: &zeroconf.ServiceEntry{
				HostName: "broker.local.",
				Port:     1883,
			},
			want: "tcp://broker.local:1883",
			ok:   true,
		},
		{
			name: "zero port defaults",
			entry: &zeroconf.ServiceEntry{
				AddrIPv4: []net.IP{net.ParseIP("10.0.0.7")},
			},
			want: "tcp://10.0.0.7:1883",
			ok:   true,
		},
		{
			name:  "nothing usable",
			entry: &zeroconf.ServiceEntry{Port: 1883},
			want:  "",
			ok:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, ok := endpointFromEntry(tt.entry)
			if ok != tt.ok || got != tt.want {
				t.Errorf("got (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestNew_Defaults(t *testing.T) {
	t.Parallel()

	b := New(Config{})
	if b.cfg.ServiceType != ServiceMQTT {
		t.Errorf("service type: got %q", b.cfg.ServiceType)
	}
	if b.cfg.Timeout != DefaultTimeout {
		t.Errorf("timeout: got %v", b.cfg.Timeout)
	}
	if b.cfg.Timeout != 10*time.Second {
		t.Errorf("default timeout should be 10s, got %v", b.cfg.Timeout)
	}
}
