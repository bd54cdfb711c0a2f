package opstate

import (
	"fmt"
	"strconv"
	"time"
)

// Namespaces for the typed accessors below.
const (
	nsLink    = "link"
	nsDevice  = "device"
	nsSampler = "sampler"
)

// SaveRememberedSSID stores the SSID of the last successful join so the
// status API can show it across restarts. Secrets never touch the
// store; they live only in config.
func (s *Store) SaveRememberedSSID(ssid string) error {
	return s.Set(nsLink, "remembered_ssid", ssid)
}

// RememberedSSID returns the SSID of the last successful join, or empty
// string if no join has ever succeeded.
func (s *Store) RememberedSSID() (string, error) {
	return s.Get(nsLink, "remembered_ssid")
}

// BumpBootCount increments and returns the persistent boot counter.
func (s *Store) BumpBootCount() (int, error) {
	raw, err := s.Get(nsDevice, "boot_count")
	if err != nil {
		return 0, err
	}
	count := 0
	if raw != "" {
		count, err = strconv.Atoi(raw)
		if err != nil {
			return 0, fmt.Errorf("boot_count %q: %w", raw, err)
		}
	}
	count++
	if err := s.Set(nsDevice, "boot_count", strconv.Itoa(count)); err != nil {
		return 0, err
	}
	return count, nil
}

// SetLastPublish records when a sample was last published.
func (s *Store) SetLastPublish(t time.Time) error {
	return s.Set(nsSampler, "last_publish", t.UTC().Format(time.RFC3339))
}

// LastPublish returns the time of the last published sample. ok is
// false when no sample has ever been published.
func (s *Store) LastPublish() (t time.Time, ok bool, err error) {
	raw, err := s.Get(nsSampler, "last_publish")
	if err != nil || raw == "" {
		return time.Time{}, false, err
	}
	t, err = time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("last_publish %q: %w", raw, err)
	}
	return t, true, nil
}
