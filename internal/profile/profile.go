// Package profile defines wireless network profiles and the remembrance
// record that reconnection targets.
//
// A device is configured with a priority-ordered list of profiles. The
// first profile that produces a successful join becomes the remembered
// profile, and every later reconnection attempt targets it exclusively
// until a different profile succeeds.
package profile

// Profile names a wireless network and the secret required to join it.
// Profiles are immutable once loaded from configuration.
type Profile struct {
	SSID   string
	Secret string
}

// IsZero reports whether p is the zero Profile.
func (p Profile) IsZero() bool {
	return p.SSID == "" && p.Secret == ""
}

// String returns the SSID only. Secrets never appear in logs or status
// output.
func (p Profile) String() string {
	return p.SSID
}
