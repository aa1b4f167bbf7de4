package core

import "errors"

var (
	// ErrAccessDenied is returned when the peer is not in the access list.
	ErrAccessDenied = errors.New("access denied")
	// ErrMalformedHandshake is returned when the peer closes before the
	// end-of-header marker, or the header is not a valid TARGET command.
	ErrMalformedHandshake = errors.New("malformed handshake")
	// ErrDestinationUnreachable is returned when dialing the destination fails
	// or times out.
	ErrDestinationUnreachable = errors.New("destination unreachable")
	// ErrInitialPayloadWrite is returned when the handshake body cannot be
	// written to the destination.
	ErrInitialPayloadWrite = errors.New("initial payload write failed")
	// ErrRelayIO is returned when a read or write fails mid-relay.
	ErrRelayIO = errors.New("relay i/o error")
	// ErrProbeFailed is returned when the address lookup response cannot be
	// produced or written.
	ErrProbeFailed = errors.New("probe failed")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrAccessDenied, "access_denied"},
	{ErrMalformedHandshake, "malformed_handshake"},
	{ErrDestinationUnreachable, "destination_unreachable"},
	{ErrInitialPayloadWrite, "initial_payload_write_failed"},
	{ErrRelayIO, "relay_io_error"},
	{ErrProbeFailed, "probe_failed"},
}

// KindOf names the error kind of err for logging. Errors outside the
// taxonomy are reported as "internal".
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "internal"
}
