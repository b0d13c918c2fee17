package scale

// Sink denotes an append-only destination for stable measurements
type Sink interface {

	// Append persists a single measurement
	Append(m Measurement) error

	// Close releases all resources held by the sink
	Close() error
}

// History denotes a sink that can provide previously persisted measurements
type History interface {

	// Recent returns up to n of the most recent measurements, newest first
	Recent(n int) (Measurements, error)
}

// StatusProvider denotes a component reporting a scanner status
type StatusProvider interface {

	// Status returns the current status
	Status() Status
}
