package counters

import "sync"

// FrameKind classifies a transmitted or received MAC frame.
type FrameKind uint8

const (
	// FrameData is a data frame.
	FrameData FrameKind = iota

	// FrameDataPoll is a data poll (rx-off child requesting pending data).
	FrameDataPoll

	// FrameBeacon is a beacon frame.
	FrameBeacon

	// FrameBeaconRequest is a beacon request frame.
	FrameBeaconRequest

	// FrameOther is any other frame type.
	FrameOther
)

// RxError classifies a reception error.
type RxError uint8

const (
	// RxErrNoFrame indicates a reception with no frame contents.
	RxErrNoFrame RxError = iota

	// RxErrUnknownNeighbor indicates a frame from an unknown neighbor.
	RxErrUnknownNeighbor

	// RxErrInvalidSrcAddr indicates a frame with an invalid source address.
	RxErrInvalidSrcAddr

	// RxErrSecurity indicates a frame that failed security processing.
	RxErrSecurity

	// RxErrFcs indicates a frame-check-sequence failure.
	RxErrFcs

	// RxErrOther indicates any other reception error.
	RxErrOther
)

// RxFilter classifies a filtered (dropped but well-formed) reception.
type RxFilter uint8

const (
	// RxFilterWhitelist indicates the frame was dropped by the whitelist.
	RxFilterWhitelist RxFilter = iota

	// RxFilterDestAddr indicates the frame failed the destination
	// address check.
	RxFilterDestAddr
)

// MacCounters is a snapshot of the MAC-layer counters.
type MacCounters struct {
	TxTotal          uint32 // Total transmissions.
	TxAckRequested   uint32 // Transmissions with ack request.
	TxAcked          uint32 // Transmissions that were acked.
	TxNoAckRequested uint32 // Transmissions without ack request.
	TxData           uint32 // Transmitted data frames.
	TxDataPoll       uint32 // Transmitted data polls.
	TxBeacon         uint32 // Transmitted beacons.
	TxBeaconRequest  uint32 // Transmitted beacon requests.
	TxOther          uint32 // Other transmitted frames.
	TxRetry          uint32 // Retransmissions.
	TxErrCca         uint32 // CCA (channel access) failures.

	RxTotal              uint32 // Total receptions.
	RxData               uint32 // Received data frames.
	RxDataPoll           uint32 // Received data polls.
	RxBeacon             uint32 // Received beacons.
	RxBeaconRequest      uint32 // Received beacon requests.
	RxOther              uint32 // Other received frames.
	RxWhitelistFiltered  uint32 // Receptions dropped by the whitelist.
	RxDestAddrFiltered   uint32 // Receptions dropped by the destination check.
	RxErrNoFrame         uint32 // Receptions with no frame contents.
	RxErrUnknownNeighbor uint32 // Receptions from unknown neighbors.
	RxErrInvalidSrcAddr  uint32 // Receptions with invalid source address.
	RxErrSec             uint32 // Receptions with security errors.
	RxErrFcs             uint32 // Receptions with FCS errors.
	RxErrOther           uint32 // Receptions with other errors.
}

// Set accumulates MAC counters. The zero value is ready for use.
type Set struct {
	mu sync.Mutex
	c  MacCounters
}

// RecordTxFrame counts one transmitted frame of the given kind.
func (s *Set) RecordTxFrame(kind FrameKind, ackRequested bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.TxTotal++
	if ackRequested {
		s.c.TxAckRequested++
	} else {
		s.c.TxNoAckRequested++
	}

	switch kind {
	case FrameData:
		s.c.TxData++
	case FrameDataPoll:
		s.c.TxDataPoll++
	case FrameBeacon:
		s.c.TxBeacon++
	case FrameBeaconRequest:
		s.c.TxBeaconRequest++
	default:
		s.c.TxOther++
	}
}

// RecordTxAcked counts one acknowledged transmission.
func (s *Set) RecordTxAcked() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.TxAcked++
}

// RecordTxRetry counts one retransmission.
func (s *Set) RecordTxRetry() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.TxRetry++
}

// RecordTxChannelAccessFailure counts one CCA failure.
func (s *Set) RecordTxChannelAccessFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c.TxErrCca++
}

// RecordRxFrame counts one received frame of the given kind.
func (s *Set) RecordRxFrame(kind FrameKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.RxTotal++
	switch kind {
	case FrameData:
		s.c.RxData++
	case FrameDataPoll:
		s.c.RxDataPoll++
	case FrameBeacon:
		s.c.RxBeacon++
	case FrameBeaconRequest:
		s.c.RxBeaconRequest++
	default:
		s.c.RxOther++
	}
}

// RecordRxFiltered counts one reception dropped by an address filter.
func (s *Set) RecordRxFiltered(filter RxFilter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.RxTotal++
	switch filter {
	case RxFilterWhitelist:
		s.c.RxWhitelistFiltered++
	case RxFilterDestAddr:
		s.c.RxDestAddrFiltered++
	}
}

// RecordRxError counts one reception error.
func (s *Set) RecordRxError(reason RxError) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.c.RxTotal++
	switch reason {
	case RxErrNoFrame:
		s.c.RxErrNoFrame++
	case RxErrUnknownNeighbor:
		s.c.RxErrUnknownNeighbor++
	case RxErrInvalidSrcAddr:
		s.c.RxErrInvalidSrcAddr++
	case RxErrSecurity:
		s.c.RxErrSec++
	case RxErrFcs:
		s.c.RxErrFcs++
	default:
		s.c.RxErrOther++
	}
}

// Snapshot returns a copy of the current counter values.
func (s *Set) Snapshot() MacCounters {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.c
}

// Reset clears all counters to zero.
func (s *Set) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.c = MacCounters{}
}
