// Package simnet provides an in-memory radio network for wiring
// multiple nodes together in tests and the simulator.
//
// Frames and beacons propagate through timers on the shared clock, so
// delivery is asynchronous and, under a mock clock, fully
// deterministic: advancing the clock drives propagation, scan windows,
// and protocol timeouts in one place. Nothing is ever delivered
// synchronously from inside a send, which keeps the nodes'
// single-logical-thread discipline intact.
package simnet

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/node"
	"github.com/wisp-protocol/wisp-go/pkg/scan"
	"github.com/wisp-protocol/wisp-go/pkg/wire"
)

// Defaults.
const (
	// DefaultChannel is the channel every simulated node operates on.
	DefaultChannel = 15

	// DefaultDelay is the frame propagation delay.
	DefaultDelay = time.Millisecond

	// DefaultRSSI is the received signal strength for links without an
	// explicit quality.
	DefaultRSSI = -60

	// DefaultLQI is the link quality for links without an explicit
	// quality.
	DefaultLQI = 3
)

// linkKey identifies a directed link.
type linkKey struct {
	from, to mesh.ExtAddress
}

// linkQuality is the reception metadata for one directed link.
type linkQuality struct {
	rssi int8
	lqi  uint8
}

// Network is one shared radio medium.
type Network struct {
	mu sync.Mutex

	clock   clock.Clock
	channel uint8
	delay   time.Duration

	stations map[mesh.ExtAddress]*station
	links    map[linkKey]linkQuality
}

// station is one joined node and its reachability state.
type station struct {
	ext  mesh.ExtAddress
	node *node.Node
	down bool
}

// New creates an empty network on the given clock.
func New(clk clock.Clock) *Network {
	if clk == nil {
		clk = clock.New()
	}
	return &Network{
		clock:    clk,
		channel:  DefaultChannel,
		delay:    DefaultDelay,
		stations: make(map[mesh.ExtAddress]*station),
		links:    make(map[linkKey]linkQuality),
	}
}

// Port attaches one node to the network. It implements the node's
// radio and transport collaborators.
type Port struct {
	net *Network
	ext mesh.ExtAddress
}

// Port creates the port for a node with the given extended address.
// Call Bind once the node exists; the two-step dance resolves the
// construction cycle between node and transport.
func (s *Network) Port(ext mesh.ExtAddress) *Port {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stations[ext] = &station{ext: ext}
	return &Port{net: s, ext: ext}
}

// Bind registers the node behind a port.
func (p *Port) Bind(n *node.Node) {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	p.net.stations[p.ext].node = n
}

// SetDown marks a node unreachable (or reachable again) without
// touching its state, simulating a crashed or out-of-range device.
func (s *Network) SetDown(ext mesh.ExtAddress, down bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st, ok := s.stations[ext]; ok {
		st.down = down
	}
}

// SetLink overrides the reception quality of the directed link from
// one node to another.
func (s *Network) SetLink(from, to mesh.ExtAddress, rssi int8, lqi uint8) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[linkKey{from: from, to: to}] = linkQuality{rssi: rssi, lqi: lqi}
}

// quality returns the reception metadata for a directed link.
func (s *Network) quality(from, to mesh.ExtAddress) linkQuality {
	if q, ok := s.links[linkKey{from: from, to: to}]; ok {
		return q
	}
	return linkQuality{rssi: DefaultRSSI, lqi: DefaultLQI}
}

// RequestScan implements scan.Radio: every advertising station's
// beacon is delivered to the scanning node after the propagation
// delay.
func (p *Port) RequestScan(mask scan.ChannelMask, dwell time.Duration) error {
	if !mask.Has(p.net.channel) {
		return nil
	}
	p.net.clock.AfterFunc(p.net.delay, func() {
		p.net.deliverBeacons(p.ext)
	})
	return nil
}

// deliverBeacons collects beacons from every live station and hands
// them to the scanner through the receiving node's frame path.
func (s *Network) deliverBeacons(to mesh.ExtAddress) {
	s.mu.Lock()
	dst, ok := s.stations[to]
	if !ok || dst.node == nil || dst.down {
		s.mu.Unlock()
		return
	}
	var sources []*station
	for ext, st := range s.stations {
		if ext == to || st.node == nil || st.down {
			continue
		}
		sources = append(sources, st)
	}
	s.mu.Unlock()

	for _, src := range sources {
		b := src.node.Beacon()
		if b == nil {
			continue
		}
		frame, err := wire.EncodeFrame(wire.MessageTypeBeacon, b)
		if err != nil {
			continue
		}
		q := s.quality(src.ext, to)
		_ = dst.node.HandleFrame(node.RxFrame{
			SrcExt:   src.ext,
			SrcShort: mesh.ShortAddressInvalid,
			Channel:  s.channel,
			RSSI:     q.rssi,
			LQI:      q.lqi,
			Payload:  frame,
		})
	}
}

// Send implements node.Transport for short-address destinations.
// Send is called with the sending node's internal lock held, so the
// sender's short address is resolved at delivery time, never here.
func (p *Port) Send(dst mesh.ShortAddress, frame []byte) error {
	if !p.up() {
		return mesh.ErrChannelAccessFailure
	}
	payload := append([]byte(nil), frame...)
	p.net.clock.AfterFunc(p.net.delay, func() {
		p.net.deliverShort(p.ext, dst, payload)
	})
	return nil
}

// SendExt implements node.Transport for extended-address destinations.
func (p *Port) SendExt(dst mesh.ExtAddress, frame []byte) error {
	if !p.up() {
		return mesh.ErrChannelAccessFailure
	}
	payload := append([]byte(nil), frame...)
	p.net.clock.AfterFunc(p.net.delay, func() {
		p.net.deliverExt(p.ext, dst, payload)
	})
	return nil
}

// up reports whether the port's station is bound and reachable.
func (p *Port) up() bool {
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	st := p.net.stations[p.ext]
	return st != nil && st.node != nil && !st.down
}

func (s *Network) deliverShort(from mesh.ExtAddress, to mesh.ShortAddress, payload []byte) {
	s.mu.Lock()
	src, ok := s.stations[from]
	if !ok || src.node == nil || src.down {
		s.mu.Unlock()
		return
	}
	var targets []*station
	for ext, st := range s.stations {
		if ext == from || st.node == nil || st.down {
			continue
		}
		targets = append(targets, st)
	}
	s.mu.Unlock()

	fromShort := src.node.Identity().ShortAddress
	for _, st := range targets {
		if to != mesh.ShortAddressBroadcast && st.node.Identity().ShortAddress != to {
			continue
		}
		q := s.quality(from, st.ext)
		_ = st.node.HandleFrame(node.RxFrame{
			SrcExt:   from,
			SrcShort: fromShort,
			Channel:  s.channel,
			RSSI:     q.rssi,
			LQI:      q.lqi,
			Payload:  payload,
		})
	}
}

func (s *Network) deliverExt(from, to mesh.ExtAddress, payload []byte) {
	s.mu.Lock()
	src, srcOK := s.stations[from]
	st, ok := s.stations[to]
	s.mu.Unlock()
	if !srcOK || src.node == nil || src.down {
		return
	}
	if !ok || st.node == nil || st.down {
		return
	}
	q := s.quality(from, to)
	_ = st.node.HandleFrame(node.RxFrame{
		SrcExt:   from,
		SrcShort: src.node.Identity().ShortAddress,
		Channel:  s.channel,
		RSSI:     q.rssi,
		LQI:      q.lqi,
		Payload:  payload,
	})
}
