package supervisor

import (
	"context"
	"errors"
	"time"

	"github.com/nugget/stead/internal/events"
	"github.com/nugget/stead/internal/journal"
	"github.com/nugget/stead/internal/sensor"
)

// tickSample reads the sensor and publishes the sample when one is
// due. Only called while the session is connected. Sensor warm-up is
// not a fault: the path simply tries again next tick until the first
// reading appears.
func (s *Supervisor) tickSample(ctx context.Context, now time.Time) {
	if now.Before(s.nextSampleAt) {
		return
	}

	reading, err := s.sensor.Read(ctx)
	switch {
	case errors.Is(err, sensor.ErrNotReady):
		if !s.firstSampleDone && !s.sensorWaitingSent {
			s.sensorWaitingSent = true
			s.logger.Info("sensor warming up, deferring first sample")
			s.diag.SensorWaiting(ctx)
			s.publishEvent(events.SourceSampler, events.KindSamplePending, nil)
		}
		return
	case err != nil:
		s.setSensorFault(err)
		return
	}
	s.clearSensorFault()

	s.lastReading = reading
	s.haveReading = true
	s.metrics.SetReading(reading.CO2, reading.Temp, reading.RH)

	s.nextSampleAt = now.Add(s.cfg.SampleInterval)

	payload := sensor.MarshalPayload(reading)
	pctx, cancel := context.WithTimeout(ctx, s.cfg.PublishTimeout)
	err = s.session.Publish(pctx, s.cfg.SampleTopic, payload)
	cancel()
	if err != nil {
		s.metrics.IncPublish(false)
		s.logger.Warn("sample publish failed",
			"topic", s.cfg.SampleTopic,
			"error", err,
		)
		e := journal.New(journal.SeverityWarning, journal.KindSessionPublish, "sample publish failed")
		e.Err = err.Error()
		s.journal.Append(e)

		s.setSession(SessionReconnecting, err.Error())
		s.sessionRetryAt = now.Add(s.cfg.SessionRetryInterval)
		return
	}

	s.metrics.IncPublish(true)
	s.firstSampleDone = true
	s.lastPublishAt = now
	s.logger.Info("sample published",
		"co2", reading.CO2,
		"temp", reading.Temp,
		"rh", reading.RH,
	)
	s.publishEvent(events.SourceSampler, events.KindSamplePublished, map[string]any{
		"co2":   reading.CO2,
		"temp":  reading.Temp,
		"rh":    reading.RH,
		"topic": s.cfg.SampleTopic,
	})
}

// setSensorFault latches the sensor fault flag. The journal entry and
// log line are written on the transition into fault, not on every
// failing tick.
func (s *Supervisor) setSensorFault(err error) {
	if s.sensorFault {
		return
	}
	s.sensorFault = true
	s.metrics.SetFault("sensor", true)
	s.logger.Error("sensor read failed", "error", err)

	e := journal.New(journal.SeverityError, journal.KindSensorFault, "sensor read failed")
	e.Err = err.Error()
	s.journal.Append(e)

	s.publishEvent(events.SourceSupervisor, events.KindFault, map[string]any{
		"layer":  "sensor",
		"active": true,
		"error":  err.Error(),
	})
}

// clearSensorFault drops the fault flag after a successful read.
func (s *Supervisor) clearSensorFault() {
	if !s.sensorFault {
		return
	}
	s.sensorFault = false
	s.metrics.SetFault("sensor", false)
	s.logger.Info("sensor recovered")

	s.publishEvent(events.SourceSupervisor, events.KindFault, map[string]any{
		"layer":  "sensor",
		"active": false,
	})
}
