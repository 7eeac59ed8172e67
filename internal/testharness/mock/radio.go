// Package mock provides mock radio and transport implementations for
// testing the engine without a simulated network.
package mock

import (
	"sync"
	"time"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/scan"
	"github.com/wisp-protocol/wisp-go/pkg/wire"
)

// ScanRequest records one scan request issued to the radio.
type ScanRequest struct {
	// Mask is the requested channel mask.
	Mask scan.ChannelMask

	// Dwell is the requested per-channel dwell time.
	Dwell time.Duration
}

// Radio is a mock scan.Radio recording every scan request.
type Radio struct {
	mu sync.Mutex

	// Err, when set, is returned from RequestScan.
	Err error

	requests []ScanRequest
}

// RequestScan records the request and returns Err.
func (r *Radio) RequestScan(mask scan.ChannelMask, dwell time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.requests = append(r.requests, ScanRequest{Mask: mask, Dwell: dwell})
	return nil
}

// Requests returns the recorded scan requests.
func (r *Radio) Requests() []ScanRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]ScanRequest, len(r.requests))
	copy(out, r.requests)
	return out
}

// SentFrame records one frame handed to the transport.
type SentFrame struct {
	// DstShort is the short-address destination, or
	// mesh.ShortAddressInvalid for extended-address sends.
	DstShort mesh.ShortAddress

	// DstExt is the extended-address destination, zero for
	// short-address sends.
	DstExt mesh.ExtAddress

	// Payload is the encoded frame.
	Payload []byte
}

// Decode decodes the frame envelope.
func (f *SentFrame) Decode() (*wire.Frame, error) {
	return wire.DecodeFrame(f.Payload)
}

// Transport is a mock node transport recording every sent frame.
type Transport struct {
	mu sync.Mutex

	// Err, when set, is returned from Send and SendExt.
	Err error

	sent []SentFrame
}

// Send records a short-address transmission.
func (t *Transport) Send(dst mesh.ShortAddress, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.sent = append(t.sent, SentFrame{
		DstShort: dst,
		Payload:  append([]byte(nil), frame...),
	})
	return nil
}

// SendExt records an extended-address transmission.
func (t *Transport) SendExt(dst mesh.ExtAddress, frame []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return t.Err
	}
	t.sent = append(t.sent, SentFrame{
		DstShort: mesh.ShortAddressInvalid,
		DstExt:   dst,
		Payload:  append([]byte(nil), frame...),
	})
	return nil
}

// Sent returns the recorded frames.
func (t *Transport) Sent() []SentFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]SentFrame, len(t.sent))
	copy(out, t.sent)
	return out
}

// LastOfType returns the most recent sent frame of the given message
// type, or nil.
func (t *Transport) LastOfType(mt wire.MessageType) *SentFrame {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := len(t.sent) - 1; i >= 0; i-- {
		f, err := wire.DecodeFrame(t.sent[i].Payload)
		if err == nil && f.Type == mt {
			frame := t.sent[i]
			return &frame
		}
	}
	return nil
}

// Reset clears the recorded frames.
func (t *Transport) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = nil
}
