package netlink

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/nugget/stead/internal/profile"
)

// aliveTimeout caps the nmcli state query so a wedged NetworkManager
// cannot stall the caller's tick.
const aliveTimeout = 800 * time.Millisecond

// nmcli device states we care about. NetworkManager reports these as
// numeric codes in terse output.
const nmStateConnected = 100

// runFunc executes a command and returns its stdout and stderr.
// Swapped out in tests.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)

// NMCLI drives NetworkManager through the nmcli command line tool.
type NMCLI struct {
	iface  string
	logger *slog.Logger
	run    runFunc
}

// NewNMCLI returns a driver managing the named wireless interface.
func NewNMCLI(iface string, logger *slog.Logger) *NMCLI {
	if logger == nil {
		logger = slog.Default()
	}
	return &NMCLI{
		iface:  iface,
		logger: logger,
		run:    runCommand,
	}
}

// Join connects the interface to the profile's network. The nmcli
// --wait flag is derived from ctx's deadline so nmcli gives up in step
// with the caller.
func (n *NMCLI) Join(ctx context.Context, p profile.Profile) error {
	if p.IsZero() {
		return ErrNoProfile
	}

	args := joinArgs(n.iface, p, waitSeconds(ctx))
	n.logger.Debug("nmcli join", "ssid", p.SSID, "interface", n.iface)

	_, stderr, err := n.run(ctx, "nmcli", args...)
	if err != nil {
		if ctx.Err() != nil {
			return fmt.Errorf("join %q: %w", p.SSID, ctx.Err())
		}
		return fmt.Errorf("join %q: %w: %s", p.SSID, err, firstLine(stderr))
	}

	n.logger.Info("nmcli joined network", "ssid", p.SSID, "interface", n.iface)
	return nil
}

// Alive queries the interface state and reports whether NetworkManager
// considers it fully connected.
func (n *NMCLI) Alive(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, aliveTimeout)
	defer cancel()

	stdout, _, err := n.run(ctx, "nmcli", "-t", "-f", "GENERAL.STATE", "device", "show", n.iface)
	if err != nil {
		n.logger.Debug("nmcli state query failed", "interface", n.iface, "error", err)
		return false
	}

	code, ok := parseDeviceState(stdout)
	return ok && code == nmStateConnected
}

// Disconnect detaches the interface from its current network.
func (n *NMCLI) Disconnect(ctx context.Context) error {
	_, stderr, err := n.run(ctx, "nmcli", "device", "disconnect", n.iface)
	if err != nil {
		return fmt.Errorf("disconnect %s: %w: %s", n.iface, err, firstLine(stderr))
	}
	return nil
}

// joinArgs builds the nmcli argument list for a connect attempt. The
// password rides on argv; nmcli offers no stdin path for wifi connect.
func joinArgs(iface string, p profile.Profile, wait int) []string {
	args := []string{
		"--wait", strconv.Itoa(wait),
		"device", "wifi", "connect", p.SSID,
		"ifname", iface,
	}
	if p.Secret != "" {
		args = append(args, "password", p.Secret)
	}
	return args
}

// waitSeconds converts ctx's deadline into whole seconds for nmcli
// --wait, with a floor of one second.
func waitSeconds(ctx context.Context) int {
	dl, ok := ctx.Deadline()
	if !ok {
		return 30
	}
	secs := int(time.Until(dl).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// parseDeviceState extracts the numeric state code from terse nmcli
// output like "GENERAL.STATE:100 (connected)".
func parseDeviceState(out string) (int, bool) {
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		rest, found := strings.CutPrefix(line, "GENERAL.STATE:")
		if !found {
			continue
		}
		if i := strings.IndexByte(rest, ' '); i >= 0 {
			rest = rest[:i]
		}
		code, err := strconv.Atoi(rest)
		if err != nil {
			return 0, false
		}
		return code, true
	}
	return 0, false
}

// firstLine returns the first non-empty line of s, for compact error
// messages from multi-line tool output.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return "(no output)"
}

// runCommand executes name with args and captures both output streams.
func runCommand(ctx context.Context, name string, args ...string) (string, string, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
