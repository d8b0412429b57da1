package marker

// Multi fans events out to several sinks. Every sink sees every event; the
// first append error is returned after all sinks have been attempted.
type Multi struct {
	sinks []Sink
}

// NewMulti combines sinks into one.
func NewMulti(sinks ...Sink) *Multi {
	return &Multi{sinks: sinks}
}

// Append delivers ev to all sinks.
func (m *Multi) Append(ev Event) error {
	var first error
	for _, s := range m.sinks {
		if err := s.Append(ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Close closes all sinks.
func (m *Multi) Close() error {
	var first error
	for _, s := range m.sinks {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
