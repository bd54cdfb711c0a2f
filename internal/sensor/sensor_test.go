package sensor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestMarshalPayload(t *testing.T) {
	t.Parallel()

	got := MarshalPayload(Reading{CO2: 412, Temp: 23.452, RH: 55.319})
	want := `{"co2":412,"temp":23.45,"rh":55.32}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestMarshalPayload_WholeNumbers(t *testing.T) {
	t.Parallel()

	got := MarshalPayload(Reading{CO2: 600, Temp: 22, RH: 45})
	want := `{"co2":600,"temp":22,"rh":45}`
	if string(got) != want {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestRound2(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   float64
		want float64
	}{
		{23.452, 23.45},
		{55.319, 55.32},
		{-1.005, -1.0},
		{0, 0},
		{19.999, 20},
	}
	for _, tt := range tests {
		if got := round2(tt.in); got != tt.want {
			t.Errorf("round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSim_Warmup(t *testing.T) {
	t.Parallel()

	s := NewSim(30*time.Second, slog.Default())
	base := time.Now()
	s.now = func() time.Time { return base }

	if _, err := s.Read(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady during warmup, got %v", err)
	}

	s.now = func() time.Time { return base.Add(29 * time.Second) }
	if _, err := s.Read(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady at 29s, got %v", err)
	}

	s.now = func() time.Time { return base.Add(31 * time.Second) }
	r, err := s.Read(context.Background())
	if err != nil {
		t.Fatalf("expected reading after warmup, got %v", err)
	}
	if r.CO2 == 0 {
		t.Error("expected a nonzero CO2 reading")
	}
}

func TestSim_ValuesStayInRange(t *testing.T) {
	t.Parallel()

	s := NewSim(0, slog.Default())
	for range 200 {
		r, err := s.Read(context.Background())
		if err != nil {
			t.Fatal(err)
		}
		if r.CO2 < 400 || r.CO2 > 2000 {
			t.Fatalf("co2 out of range: %d", r.CO2)
		}
		if r.Temp < 16 || r.Temp > 30 {
			t.Fatalf("temp out of range: %v", r.Temp)
		}
		if r.RH < 25 || r.RH > 75 {
			t.Fatalf("rh out of range: %v", r.RH)
		}
	}
}

func TestExec_ConsumeLines(t *testing.T) {
	t.Parallel()

	e := NewExec("unused", slog.Default())
	r, w := io.Pipe()
	go e.consumeLines(r)
	defer w.Close()

	if _, err := e.Read(context.Background()); !errors.Is(err, ErrNotReady) {
		t.Fatalf("expected ErrNotReady before any line, got %v", err)
	}

	io.WriteString(w, `{"co2":412.4,"temp":23.45,"rh":55.32}`+"\n")

	reading := waitForReading(t, e)
	if reading.CO2 != 412 {
		t.Errorf("co2: got %d, want 412", reading.CO2)
	}
	if reading.Temp != 23.45 || reading.RH != 55.32 {
		t.Errorf("got %+v", reading)
	}

	// A later line replaces the earlier one.
	io.WriteString(w, `{"co2":900,"temp":24.0,"rh":50.0}`+"\n")
	deadline := time.Now().Add(2 * time.Second)
	for {
		r, err := e.Read(context.Background())
		if err == nil && r.CO2 == 900 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("second reading never arrived, last %+v", r)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestExec_SkipsBadLines(t *testing.T) {
	t.Parallel()

	e := NewExec("unused", slog.Default())
	r, w := io.Pipe()
	go e.consumeLines(r)
	defer w.Close()

	io.WriteString(w, "i2c bus glitch\n")
	io.WriteString(w, "\n")
	io.WriteString(w, `{"co2":550,"temp":20.1,"rh":44.4}`+"\n")

	reading := waitForReading(t, e)
	if reading.CO2 != 550 {
		t.Errorf("co2: got %d, want 550", reading.CO2)
	}
}

func TestExec_RealProcess(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := NewExec(`printf '{"co2":500,"temp":21.5,"rh":40.25}\n'; sleep 3`, slog.Default())
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}

	reading := waitForReading(t, e)
	if reading.CO2 != 500 || reading.Temp != 21.5 || reading.RH != 40.25 {
		t.Errorf("got %+v", reading)
	}
	if e.LastUpdate().IsZero() {
		t.Error("LastUpdate should be set after a reading")
	}
}

func TestExec_ProcessExitBecomesFault(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	e := NewExec("exit 3", slog.Default())
	if err := e.Start(ctx); err != nil {
		t.Fatal(err)
	}

	select {
	case <-e.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("process never exited")
	}

	_, err := e.Read(context.Background())
	if err == nil || errors.Is(err, ErrNotReady) {
		t.Fatalf("expected fault after exit, got %v", err)
	}
	if !strings.Contains(err.Error(), "exited") {
		t.Errorf("error should mention exit: %v", err)
	}
}

// waitForReading polls until the source returns a reading or the
// deadline passes.
func waitForReading(t *testing.T, s Source) Reading {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		r, err := s.Read(context.Background())
		if err == nil {
			return r
		}
		if time.Now().After(deadline) {
			t.Fatalf("no reading before deadline, last error: %v", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
