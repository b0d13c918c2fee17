package sink

import (
	"errors"

	"github.com/fako1024/esf37/pkg/scale"
)

// ErrNoHistory is returned if none of the sinks can provide past measurements
var ErrNoHistory = errors.New("no sink providing measurement history")

// Multi denotes a set of sinks, each receiving all measurements
type Multi []scale.Sink

// NewMulti instantiates a new set of sinks
func NewMulti(sinks ...scale.Sink) Multi {
	return Multi(sinks)
}

// Append forwards the measurement to all sinks. A failing sink does not prevent
// the others from receiving it
func (m Multi) Append(measurement scale.Measurement) error {
	var errs []error
	for _, sink := range m {
		if err := sink.Append(measurement); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// History returns the first sink able to provide past measurements (or nil)
func (m Multi) History() scale.History {
	for _, sink := range m {
		if history, ok := sink.(scale.History); ok {
			return history
		}
	}

	return nil
}

// Recent returns up to n of the most recent measurements from the first sink
// providing a history
func (m Multi) Recent(n int) (scale.Measurements, error) {
	history := m.History()
	if history == nil {
		return nil, ErrNoHistory
	}

	return history.Recent(n)
}

// Close closes all sinks
func (m Multi) Close() error {
	var errs []error
	for _, sink := range m {
		if err := sink.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
