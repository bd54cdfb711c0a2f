package journal

import (
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Filter selects journal events. Nil or zero fields match everything
// for that criterion.
type Filter struct {
	// Kind filters by event kind.
	Kind *Kind

	// MinSeverity filters out events below this severity.
	MinSeverity *Severity

	// Profile filters by exact SSID match.
	Profile string

	// TimeStart keeps events at or after this time.
	TimeStart *time.Time

	// TimeEnd keeps events before this time.
	TimeEnd *time.Time
}

// matches reports whether the event passes all filter criteria.
func (f *Filter) matches(e Event) bool {
	if f.Kind != nil && e.Kind != *f.Kind {
		return false
	}
	if f.MinSeverity != nil && e.Severity < *f.MinSeverity {
		return false
	}
	if f.Profile != "" && e.Profile != f.Profile {
		return false
	}
	if f.TimeStart != nil && e.Timestamp.Before(*f.TimeStart) {
		return false
	}
	if f.TimeEnd != nil && !e.Timestamp.Before(*f.TimeEnd) {
		return false
	}
	return true
}

// Reader streams events out of a journal file.
type Reader struct {
	file    *os.File
	decoder *cbor.Decoder
	filter  Filter
}

// NewReader opens the journal at path for reading all events.
func NewReader(path string) (*Reader, error) {
	return NewFilteredReader(path, Filter{})
}

// NewFilteredReader opens the journal at path and yields only events
// matching the filter.
func NewFilteredReader(path string, filter Filter) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return &Reader{
		file:    f,
		decoder: NewDecoder(f),
		filter:  filter,
	}, nil
}

// Next returns the next matching event, or io.EOF when the journal is
// exhausted.
func (r *Reader) Next() (Event, error) {
	for {
		var e Event
		if err := r.decoder.Decode(&e); err != nil {
			if err == io.EOF {
				return Event{}, io.EOF
			}
			return Event{}, err
		}
		if r.filter.matches(e) {
			return e, nil
		}
	}
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}
