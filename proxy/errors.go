package proxy

import "fmt"

// TransportStatusError wraps a transport-level failure that carries
// its own HTTP status (e.g. a custom RoundTripper reporting an
// upstream-refused status), so Forward propagates that status instead
// of defaulting to 500, per spec §4.8 point 4 / §7.
type TransportStatusError struct {
	Status  int
	Message string
}

func (e *TransportStatusError) Error() string {
	return fmt.Sprintf("upstream status %d: %s", e.Status, e.Message)
}

// StatusCode satisfies the statusError interface in proxy.go.
func (e *TransportStatusError) StatusCode() int { return e.Status }
