//go:build !linux

package process

// NewTracer returns ErrUnsupportedPlatform on systems without ptrace.
func NewTracer() (Tracer, error) {
	return nil, ErrUnsupportedPlatform
}
