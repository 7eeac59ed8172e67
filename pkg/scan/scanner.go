package scan

import (
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/wire"
)

// Radio is the scan-request primitive consumed from the radio
// collaborator. The radio dwells on each channel in the mask and
// delivers observed beacons to the scanner's HandleBeacon.
type Radio interface {
	// RequestScan starts scanning the channels in mask, dwelling for
	// the given duration per channel. It must not block.
	RequestScan(mask ChannelMask, dwell time.Duration) error
}

// Config holds scanner configuration.
type Config struct {
	// Radio performs the actual channel scanning. Required.
	Radio Radio

	// Dwell is the per-channel dwell time. Zero selects DefaultDwell.
	Dwell time.Duration

	// Slack is added to the computed scan window. Zero selects
	// DefaultSlack.
	Slack time.Duration

	// Clock supplies timers. Nil selects the real clock.
	Clock clock.Clock
}

// Scanner collects beacon observations for one scan cycle at a time.
// The scan-window timer fires on its own goroutine, so the scan state
// carries its own lock.
type Scanner struct {
	radio Radio
	clock clock.Clock
	dwell time.Duration
	slack time.Duration

	// mu guards the in-progress scan state below.
	mu      sync.Mutex
	token   uuid.UUID
	active  bool
	results []Result
	timer   *clock.Timer

	onComplete func(token uuid.UUID, results []Result, err error)
}

// NewScanner creates a scanner.
func NewScanner(cfg Config) (*Scanner, error) {
	if cfg.Radio == nil {
		return nil, fmt.Errorf("%w: radio is required", mesh.ErrInvalidArgs)
	}
	if cfg.Dwell <= 0 {
		cfg.Dwell = DefaultDwell
	}
	if cfg.Slack <= 0 {
		cfg.Slack = DefaultSlack
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	return &Scanner{
		radio: cfg.Radio,
		clock: cfg.Clock,
		dwell: cfg.Dwell,
		slack: cfg.Slack,
	}, nil
}

// OnComplete sets the completion callback. On success err is nil and
// results holds this cycle's observations; on cancellation err is
// mesh.ErrAbort. The callback runs outside the scanner's lock, once
// per cycle, and owns the results slice it receives.
func (s *Scanner) OnComplete(fn func(token uuid.UUID, results []Result, err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onComplete = fn
}

// InProgress reports whether a scan is outstanding.
func (s *Scanner) InProgress() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start begins a scan cycle over the channels in mask and returns its
// pending-operation token. Fails with mesh.ErrBusy while a scan is
// outstanding.
func (s *Scanner) Start(mask ChannelMask) (uuid.UUID, error) {
	if err := mask.Validate(); err != nil {
		return uuid.Nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return uuid.Nil, fmt.Errorf("%w: scan already in progress", mesh.ErrBusy)
	}

	if err := s.radio.RequestScan(mask, s.dwell); err != nil {
		return uuid.Nil, fmt.Errorf("scan request failed: %w", err)
	}

	s.token = uuid.New()
	s.active = true
	s.results = nil

	window := time.Duration(mask.Count())*s.dwell + s.slack
	s.timer = s.clock.AfterFunc(window, s.complete)

	return s.token, nil
}

// HandleBeacon records one beacon observation. Beacons arriving while
// no scan is outstanding are ignored.
func (s *Scanner) HandleBeacon(channel uint8, rssi int8, lqi uint8, b *wire.Beacon) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return
	}
	s.results = append(s.results, Result{
		ExtAddress:    b.ExtAddress,
		NetworkName:   b.NetworkName,
		ExtendedPanID: b.ExtendedPanID,
		PanID:         b.PanID,
		Channel:       channel,
		RSSI:          rssi,
		LQI:           lqi,
		Version:       b.Version,
		Native:        b.Native,
		Joinable:      b.Joinable,
		Partition:     b.Partition,
	})
}

// Cancel aborts the outstanding scan. The completion callback fires
// with mesh.ErrAbort and no results. Cancelling an idle scanner or a
// stale token is a no-op.
func (s *Scanner) Cancel(token uuid.UUID) {
	s.mu.Lock()
	if !s.active || token != s.token {
		s.mu.Unlock()
		return
	}
	s.timer.Stop()
	fn := s.finish()
	s.mu.Unlock()

	if fn != nil {
		fn(token, nil, mesh.ErrAbort)
	}
}

// complete fires on the timer goroutine when the scan window elapses.
func (s *Scanner) complete() {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	token := s.token
	results := s.results
	fn := s.finish()
	s.mu.Unlock()

	if fn != nil {
		fn(token, results, nil)
	}
}

// finish clears the in-progress state and returns the callback to
// invoke. Called with mu held; the callback must run after release so
// it may take the owning node's lock.
func (s *Scanner) finish() func(uuid.UUID, []Result, error) {
	s.active = false
	s.timer = nil
	s.results = nil
	return s.onComplete
}
