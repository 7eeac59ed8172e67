package wire

// Status is the result code carried in an attach response.
type Status uint8

const (
	// StatusSuccess indicates the request was accepted.
	StatusSuccess Status = 0

	// StatusNoBufs indicates the responder's neighbor table is full.
	StatusNoBufs Status = 1

	// StatusBusy indicates the responder cannot serve the request now.
	StatusBusy Status = 2

	// StatusRefused indicates the request was rejected by policy.
	StatusRefused Status = 3
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "SUCCESS"
	case StatusNoBufs:
		return "NO_BUFS"
	case StatusBusy:
		return "BUSY"
	case StatusRefused:
		return "REFUSED"
	default:
		return "UNKNOWN"
	}
}
