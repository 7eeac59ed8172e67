package node_test

import (
	"errors"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/wisp-protocol/wisp-go/internal/testharness/mock"
	"github.com/wisp-protocol/wisp-go/pkg/config"
	"github.com/wisp-protocol/wisp-go/pkg/mesh"
	"github.com/wisp-protocol/wisp-go/pkg/neighbor"
	"github.com/wisp-protocol/wisp-go/pkg/node"
	"github.com/wisp-protocol/wisp-go/pkg/scan"
	"github.com/wisp-protocol/wisp-go/pkg/wire"
)

// Tests run on a single channel with a short dwell so one scan window is
// dwell (100ms) plus the scanner slack (2s).
const scanWindow = 100*time.Millisecond + scan.DefaultSlack

func extAddr(b byte) mesh.ExtAddress {
	return mesh.ExtAddress{0, 0, 0, 0, 0, 0, 0, b}
}

type testNode struct {
	n     *node.Node
	radio *mock.Radio
	tr    *mock.Transport
	clk   *clock.Mock
	flags []mesh.ChangeFlags
}

func newTestNode(t *testing.T, ext byte, tweak func(*node.Config)) *testNode {
	t.Helper()

	tn := &testNode{
		radio: &mock.Radio{},
		tr:    &mock.Transport{},
		clk:   clock.NewMock(),
	}

	engine := config.Default()
	engine.Scan.Channels = 1 << 15
	engine.Scan.DwellMillis = 100

	cfg := node.Config{
		ExtAddress: extAddr(ext),
		LinkMode:   mesh.LinkMode{RxOnWhenIdle: true, FullFunctionDevice: true, FullNetworkData: true},
		Engine:     engine,
		Radio:      tn.radio,
		Transport:  tn.tr,
		Clock:      tn.clk,
	}
	if tweak != nil {
		tweak(&cfg)
	}

	n, err := node.New(cfg)
	if err != nil {
		t.Fatalf("node.New failed: %v", err)
	}
	tn.n = n
	n.Subscribe(func(f mesh.ChangeFlags) { tn.flags = append(tn.flags, f) })
	return tn
}

// receive injects one encoded frame as if it arrived off the air.
func (tn *testNode) receive(t *testing.T, srcExt mesh.ExtAddress, srcShort mesh.ShortAddress, mt wire.MessageType, payload any) {
	t.Helper()
	data, err := wire.EncodeFrame(mt, payload)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	if err := tn.n.HandleFrame(node.RxFrame{
		SrcExt:   srcExt,
		SrcShort: srcShort,
		Channel:  15,
		RSSI:     -50,
		LQI:      3,
		Payload:  data,
	}); err != nil {
		t.Fatalf("HandleFrame(%s) failed: %v", mt, err)
	}
}

func parentBeacon(parent mesh.ExtAddress) *wire.Beacon {
	return &wire.Beacon{
		ExtAddress:    parent,
		NetworkName:   "wisp-test",
		ExtendedPanID: mesh.ExtendedPanID{1, 2, 3, 4, 5, 6, 7, 8},
		PanID:         0xface,
		Version:       2,
		Partition:     mesh.Partition{ID: 7, Weight: 64},
		Joinable:      true,
	}
}

// attachAsChild drives the full handshake against a simulated parent:
// enable, beacon, scan window, attach response.
func attachAsChild(t *testing.T, tn *testNode, parent mesh.ExtAddress) {
	t.Helper()

	if err := tn.n.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	tn.receive(t, parent, mesh.ShortAddressInvalid, wire.MessageTypeBeacon, parentBeacon(parent))
	tn.clk.Add(scanWindow)

	if tn.tr.LastOfType(wire.MessageTypeAttachRequest) == nil {
		t.Fatal("no attach request sent after scan")
	}

	tn.receive(t, parent, 0x0400, wire.MessageTypeAttachResponse, &wire.AttachResponse{
		Status:       wire.StatusSuccess,
		ShortAddress: 0x0401,
		Partition:    mesh.Partition{ID: 7, Weight: 64},
		KeySequence:  3,
		NetData: &wire.NetDataPush{
			Full:          true,
			Version:       5,
			StableVersion: 2,
			Entries: []wire.NetDataEntry{{
				Key:    wire.NetDataKey{Prefix: mesh.MustParsePrefix("fd00:db8::/64"), Origin: 0x0400},
				Stable: true,
			}},
		},
	})

	if got := tn.n.Role(); got != mesh.RoleChild {
		t.Fatalf("role = %s after handshake, want CHILD", got)
	}
}

func TestEnableDisable(t *testing.T) {
	tn := newTestNode(t, 1, nil)

	if got := tn.n.Role(); got != mesh.RoleDisabled {
		t.Fatalf("initial role = %s, want DISABLED", got)
	}

	if err := tn.n.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	if got := tn.n.Role(); got != mesh.RoleDetached {
		t.Errorf("role = %s after Enable, want DETACHED", got)
	}
	if err := tn.n.Enable(); !errors.Is(err, mesh.ErrInvalidState) {
		t.Errorf("second Enable err = %v, want ErrInvalidState", err)
	}

	// Enabling starts the attach scan and raises one composite event.
	if len(tn.radio.Requests()) != 1 {
		t.Errorf("scan requests = %d, want 1", len(tn.radio.Requests()))
	}
	if len(tn.flags) != 1 || !tn.flags[0].Has(mesh.FlagNetState|mesh.FlagNetRole) {
		t.Errorf("enable events = %v", tn.flags)
	}

	if err := tn.n.Disable(); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}
	if got := tn.n.Role(); got != mesh.RoleDisabled {
		t.Errorf("role = %s after Disable, want DISABLED", got)
	}
	if err := tn.n.Disable(); !errors.Is(err, mesh.ErrInvalidState) {
		t.Errorf("second Disable err = %v, want ErrInvalidState", err)
	}
}

func TestUserScan(t *testing.T) {
	tn := newTestNode(t, 1, nil)
	mask := scan.ChannelMask(0).Set(15)

	t.Run("DisabledRejected", func(t *testing.T) {
		_, err := tn.n.Scan(mask, func([]scan.Result, error) {})
		if !errors.Is(err, mesh.ErrInvalidState) {
			t.Errorf("err = %v, want ErrInvalidState", err)
		}
	})

	if err := tn.n.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	t.Run("BusyDuringAttachScan", func(t *testing.T) {
		_, err := tn.n.Scan(mask, func([]scan.Result, error) {})
		if !errors.Is(err, mesh.ErrBusy) {
			t.Errorf("err = %v, want ErrBusy", err)
		}
	})

	// Let the attach scan finish; the node sits in backoff afterwards.
	tn.clk.Add(scanWindow)

	t.Run("DeliversResults", func(t *testing.T) {
		var results []scan.Result
		var scanErr error
		done := false
		_, err := tn.n.Scan(mask, func(r []scan.Result, err error) {
			results, scanErr, done = r, err, true
		})
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}

		tn.receive(t, extAddr(9), mesh.ShortAddressInvalid, wire.MessageTypeBeacon, parentBeacon(extAddr(9)))
		tn.clk.Add(scanWindow)

		if !done || scanErr != nil {
			t.Fatalf("callback: done=%v err=%v", done, scanErr)
		}
		if len(results) != 1 || results[0].ExtAddress != extAddr(9) {
			t.Errorf("results = %+v", results)
		}
	})

	t.Run("AbortedOnDisable", func(t *testing.T) {
		errCh := make(chan error, 1)
		_, err := tn.n.Scan(mask, func(_ []scan.Result, err error) { errCh <- err })
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		if err := tn.n.Disable(); err != nil {
			t.Fatalf("Disable failed: %v", err)
		}

		select {
		case err := <-errCh:
			if !errors.Is(err, mesh.ErrAbort) {
				t.Errorf("callback err = %v, want ErrAbort", err)
			}
		case <-time.After(time.Second):
			t.Fatal("cancelled scan callback never fired")
		}
	})
}

func TestAttachHandshake(t *testing.T) {
	parent := extAddr(9)

	t.Run("Success", func(t *testing.T) {
		tn := newTestNode(t, 1, nil)
		attachAsChild(t, tn, parent)

		id := tn.n.Identity()
		if id.ShortAddress != 0x0401 {
			t.Errorf("short address = %#04x, want 0x0401", uint16(id.ShortAddress))
		}
		if id.PanID != 0xface || id.NetworkName != "wisp-test" {
			t.Errorf("identity not adopted from parent: %+v", id)
		}

		part, ok := tn.n.Partition()
		if !ok || part.ID != 7 {
			t.Errorf("Partition() = %v/%v, want 7/true", part, ok)
		}
		if tn.n.KeySequence() != 3 {
			t.Errorf("KeySequence() = %d, want 3", tn.n.KeySequence())
		}
		if v, sv := tn.n.NetDataVersions(); v != 5 || sv != 2 {
			t.Errorf("NetDataVersions() = %d/%d, want 5/2", v, sv)
		}
		if _, ok := tn.n.MeshLocal(); !ok {
			t.Error("no mesh-local address after attach")
		}
		if len(tn.n.NetworkData()) != 1 {
			t.Errorf("NetworkData() = %d rows, want 1", len(tn.n.NetworkData()))
		}

		// The whole transition is one event epoch.
		last := tn.flags[len(tn.flags)-1]
		want := mesh.FlagNetState | mesh.FlagNetRole | mesh.FlagNetPartitionID |
			mesh.FlagAddressAdded | mesh.FlagNetKeySequence | mesh.FlagMeshLocalChanged
		if !last.Has(want) {
			t.Errorf("attach epoch flags = %s, want at least %s", last, want)
		}
	})

	t.Run("TimeoutThenLateResponseIgnored", func(t *testing.T) {
		tn := newTestNode(t, 1, nil)
		if err := tn.n.Enable(); err != nil {
			t.Fatalf("Enable failed: %v", err)
		}
		tn.receive(t, parent, mesh.ShortAddressInvalid, wire.MessageTypeBeacon, parentBeacon(parent))
		tn.clk.Add(scanWindow)

		if tn.tr.LastOfType(wire.MessageTypeAttachRequest) == nil {
			t.Fatal("no attach request sent")
		}

		tn.clk.Add(13 * time.Second) // past the 12s handshake timeout

		tn.receive(t, parent, 0x0400, wire.MessageTypeAttachResponse, &wire.AttachResponse{
			Status:       wire.StatusSuccess,
			ShortAddress: 0x0401,
			Partition:    mesh.Partition{ID: 7, Weight: 64},
		})
		if got := tn.n.Role(); got != mesh.RoleDetached {
			t.Errorf("role = %s after late response, want DETACHED", got)
		}
	})

	t.Run("RejectionKeepsRetrying", func(t *testing.T) {
		tn := newTestNode(t, 1, nil)
		if err := tn.n.Enable(); err != nil {
			t.Fatalf("Enable failed: %v", err)
		}
		tn.receive(t, parent, mesh.ShortAddressInvalid, wire.MessageTypeBeacon, parentBeacon(parent))
		tn.clk.Add(scanWindow)

		tn.receive(t, parent, 0x0400, wire.MessageTypeAttachResponse, &wire.AttachResponse{
			Status: wire.StatusNoBufs,
		})
		if got := tn.n.Role(); got != mesh.RoleDetached {
			t.Errorf("role = %s after rejection, want DETACHED", got)
		}
	})
}

func TestLeaderStartAfterRetryBudget(t *testing.T) {
	t.Run("FullFunctionDevice", func(t *testing.T) {
		tn := newTestNode(t, 1, nil)
		if err := tn.n.Enable(); err != nil {
			t.Fatalf("Enable failed: %v", err)
		}

		// Three empty scan cycles separated by doubling backoff, then the
		// node forms its own partition.
		tn.clk.Add(60 * time.Second)

		if got := tn.n.Role(); got != mesh.RoleLeader {
			t.Fatalf("role = %s, want LEADER", got)
		}
		if len(tn.radio.Requests()) != 3 {
			t.Errorf("scan requests = %d, want the retry budget of 3", len(tn.radio.Requests()))
		}

		id := tn.n.Identity()
		if id.ShortAddress != neighbor.RouterShort(1) {
			t.Errorf("leader short = %#04x, want %#04x", uint16(id.ShortAddress), uint16(neighbor.RouterShort(1)))
		}
		if id.ExtendedPanID == (mesh.ExtendedPanID{}) || id.PanID == 0 {
			t.Error("self-started partition did not generate a network identity")
		}
		if _, ok := tn.n.Partition(); !ok {
			t.Error("no partition after leader start")
		}
		if tn.tr.LastOfType(wire.MessageTypeHeartbeat) == nil {
			t.Error("no heartbeat broadcast after leader start")
		}
	})

	t.Run("EndDeviceKeepsScanning", func(t *testing.T) {
		tn := newTestNode(t, 2, func(cfg *node.Config) {
			cfg.LinkMode = mesh.LinkMode{RxOnWhenIdle: true}
		})
		if err := tn.n.Enable(); err != nil {
			t.Fatalf("Enable failed: %v", err)
		}

		tn.clk.Add(5 * time.Minute)
		if got := tn.n.Role(); got != mesh.RoleDetached {
			t.Errorf("role = %s, want DETACHED (end devices never lead)", got)
		}
	})

	t.Run("LeaderStartDisabled", func(t *testing.T) {
		tn := newTestNode(t, 3, func(cfg *node.Config) {
			off := false
			cfg.Engine.Attach.AllowLeaderStart = &off
		})
		if err := tn.n.Enable(); err != nil {
			t.Fatalf("Enable failed: %v", err)
		}

		tn.clk.Add(5 * time.Minute)
		if got := tn.n.Role(); got != mesh.RoleDetached {
			t.Errorf("role = %s, want DETACHED", got)
		}
	})
}

func TestSetKeySequence(t *testing.T) {
	tn := newTestNode(t, 1, nil)
	if err := tn.n.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}

	if err := tn.n.SetKeySequence(9); !errors.Is(err, mesh.ErrInvalidState) {
		t.Errorf("non-leader SetKeySequence err = %v, want ErrInvalidState", err)
	}

	tn.clk.Add(60 * time.Second) // leader start
	if tn.n.Role() != mesh.RoleLeader {
		t.Fatalf("role = %s, want LEADER", tn.n.Role())
	}

	tn.flags = nil
	if err := tn.n.SetKeySequence(9); err != nil {
		t.Fatalf("SetKeySequence failed: %v", err)
	}
	if tn.n.KeySequence() != 9 {
		t.Errorf("KeySequence() = %d, want 9", tn.n.KeySequence())
	}
	if len(tn.flags) != 1 || !tn.flags[0].Has(mesh.FlagNetKeySequence) {
		t.Errorf("key rotation events = %v", tn.flags)
	}

	// The rotation is advertised immediately.
	hb := tn.tr.LastOfType(wire.MessageTypeHeartbeat)
	if hb == nil {
		t.Fatal("no heartbeat after key rotation")
	}
	frame, err := hb.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	var beat wire.Heartbeat
	if err := frame.Decode(&beat); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if beat.KeySequence != 9 {
		t.Errorf("heartbeat key sequence = %d, want 9", beat.KeySequence)
	}

	// Setting the same value again is a no-op.
	tn.flags = nil
	if err := tn.n.SetKeySequence(9); err != nil {
		t.Fatalf("repeat SetKeySequence failed: %v", err)
	}
	if len(tn.flags) != 0 {
		t.Errorf("no-op rotation raised events: %v", tn.flags)
	}
}

func TestDisableClearsDerivedState(t *testing.T) {
	tn := newTestNode(t, 1, nil)
	attachAsChild(t, tn, extAddr(9))

	tn.flags = nil
	if err := tn.n.Disable(); err != nil {
		t.Fatalf("Disable failed: %v", err)
	}

	if got := tn.n.Role(); got != mesh.RoleDisabled {
		t.Errorf("role = %s, want DISABLED", got)
	}
	if tn.n.Identity().ShortAddress.Valid() {
		t.Error("short address survived Disable")
	}
	if _, ok := tn.n.Partition(); ok {
		t.Error("partition survived Disable")
	}
	if _, ok := tn.n.MeshLocal(); ok {
		t.Error("mesh-local address survived Disable")
	}
	if len(tn.n.NetworkData()) != 0 {
		t.Error("network data survived Disable")
	}
	if len(tn.n.Neighbors()) != 0 {
		t.Error("neighbors survived Disable")
	}

	if len(tn.flags) != 1 {
		t.Fatalf("disable epochs = %d, want 1", len(tn.flags))
	}
	want := mesh.FlagNetState | mesh.FlagNetRole | mesh.FlagNetPartitionID | mesh.FlagAddressRemoved
	if !tn.flags[0].Has(want) {
		t.Errorf("disable flags = %s, want at least %s", tn.flags[0], want)
	}
}

func TestServeAttachRequest(t *testing.T) {
	tn := newTestNode(t, 1, nil)
	if err := tn.n.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	tn.clk.Add(60 * time.Second) // leader start
	if tn.n.Role() != mesh.RoleLeader {
		t.Fatalf("role = %s, want LEADER", tn.n.Role())
	}

	tn.flags = nil
	child := extAddr(5)
	tn.receive(t, child, mesh.ShortAddressInvalid, wire.MessageTypeAttachRequest, &wire.AttachRequest{
		ExtAddress: child,
		Version:    2,
		LinkMode:   mesh.LinkMode{RxOnWhenIdle: true},
	})

	sent := tn.tr.LastOfType(wire.MessageTypeAttachResponse)
	if sent == nil {
		t.Fatal("no attach response sent")
	}
	frame, err := sent.Decode()
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	var resp wire.AttachResponse
	if err := frame.Decode(&resp); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if resp.Status != wire.StatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", resp.Status)
	}
	if neighbor.RouterBase(resp.ShortAddress) != tn.n.Identity().ShortAddress {
		t.Errorf("assigned %#04x outside the leader's router base", uint16(resp.ShortAddress))
	}
	if resp.NetData == nil || !resp.NetData.Full {
		t.Error("response missing the initial snapshot")
	}

	if len(tn.n.Neighbors()) != 1 {
		t.Errorf("Neighbors() = %d, want 1", len(tn.n.Neighbors()))
	}
	found := false
	for _, f := range tn.flags {
		if f.Has(mesh.FlagChildAdded) {
			found = true
		}
	}
	if !found {
		t.Errorf("no CHILD_ADDED event: %v", tn.flags)
	}

	// A repeat attach refreshes the child without another event.
	tn.flags = nil
	tn.receive(t, child, resp.ShortAddress, wire.MessageTypeAttachRequest, &wire.AttachRequest{
		ExtAddress: child,
		Version:    2,
		LinkMode:   mesh.LinkMode{RxOnWhenIdle: true},
	})
	for _, f := range tn.flags {
		if f.Has(mesh.FlagChildAdded) {
			t.Errorf("repeat attach raised CHILD_ADDED: %v", tn.flags)
		}
	}
}

func TestServeRouterIDRequest(t *testing.T) {
	t.Run("LeaderAllocates", func(t *testing.T) {
		tn := newTestNode(t, 1, nil)
		if err := tn.n.Enable(); err != nil {
			t.Fatalf("Enable failed: %v", err)
		}
		tn.clk.Add(60 * time.Second)
		if tn.n.Role() != mesh.RoleLeader {
			t.Fatalf("role = %s, want LEADER", tn.n.Role())
		}

		req := &wire.AttachRequest{
			ExtAddress:      extAddr(5),
			Version:         2,
			LinkMode:        mesh.LinkMode{RxOnWhenIdle: true, FullFunctionDevice: true, FullNetworkData: true},
			RouterIDRequest: true,
		}
		decode := func() wire.AttachResponse {
			t.Helper()
			sent := tn.tr.LastOfType(wire.MessageTypeAttachResponse)
			if sent == nil {
				t.Fatal("no attach response sent")
			}
			frame, err := sent.Decode()
			if err != nil {
				t.Fatalf("Decode failed: %v", err)
			}
			var resp wire.AttachResponse
			if err := frame.Decode(&resp); err != nil {
				t.Fatalf("payload decode failed: %v", err)
			}
			return resp
		}

		tn.receive(t, extAddr(5), 0x0401, wire.MessageTypeAttachRequest, req)
		resp := decode()
		if resp.Status != wire.StatusSuccess {
			t.Fatalf("status = %s, want SUCCESS", resp.Status)
		}
		// The leader holds router ID 1; the first grant is ID 2.
		if resp.ShortAddress != neighbor.RouterShort(2) {
			t.Errorf("granted %#04x, want %#04x", uint16(resp.ShortAddress), uint16(neighbor.RouterShort(2)))
		}

		// Repeating the request is idempotent.
		tn.tr.Reset()
		tn.receive(t, extAddr(5), resp.ShortAddress, wire.MessageTypeAttachRequest, req)
		if again := decode(); again.ShortAddress != resp.ShortAddress {
			t.Errorf("repeat grant %#04x, want %#04x", uint16(again.ShortAddress), uint16(resp.ShortAddress))
		}
	})

	t.Run("NonLeaderRefuses", func(t *testing.T) {
		tn := newTestNode(t, 1, nil)
		attachAsChild(t, tn, extAddr(9))

		tn.tr.Reset()
		tn.receive(t, extAddr(5), 0x0402, wire.MessageTypeAttachRequest, &wire.AttachRequest{
			ExtAddress:      extAddr(5),
			RouterIDRequest: true,
		})

		sent := tn.tr.LastOfType(wire.MessageTypeAttachResponse)
		if sent == nil {
			t.Fatal("no response sent")
		}
		frame, _ := sent.Decode()
		var resp wire.AttachResponse
		if err := frame.Decode(&resp); err != nil {
			t.Fatalf("payload decode failed: %v", err)
		}
		if resp.Status != wire.StatusRefused {
			t.Errorf("status = %s, want REFUSED", resp.Status)
		}
	})
}

func TestLeaderRegisterAndWithdraw(t *testing.T) {
	tn := newTestNode(t, 1, nil)
	if err := tn.n.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	tn.clk.Add(60 * time.Second)
	if tn.n.Role() != mesh.RoleLeader {
		t.Fatalf("role = %s, want LEADER", tn.n.Role())
	}

	entry := wire.NetDataEntry{
		Key:          wire.NetDataKey{Prefix: mesh.MustParsePrefix("fd00:db8::/64")},
		Stable:       true,
		BorderRouter: true,
		SlaacValid:   true,
		DefaultRoute: true,
	}
	if err := tn.n.RegisterPrefix(entry); err != nil {
		t.Fatalf("RegisterPrefix failed: %v", err)
	}

	if v, sv := tn.n.NetDataVersions(); v != 1 || sv != 1 {
		t.Errorf("versions = %d/%d after register, want 1/1", v, sv)
	}
	if len(tn.n.NetworkData()) != 1 {
		t.Errorf("NetworkData() = %d rows, want 1", len(tn.n.NetworkData()))
	}

	// The delta is broadcast with the leader's origin stamped in.
	sent := tn.tr.LastOfType(wire.MessageTypeNetDataPush)
	if sent == nil {
		t.Fatal("no delta broadcast after register")
	}
	if sent.DstShort != mesh.ShortAddressBroadcast {
		t.Errorf("delta dst = %#04x, want broadcast", uint16(sent.DstShort))
	}
	frame, _ := sent.Decode()
	var push wire.NetDataPush
	if err := frame.Decode(&push); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if push.Version != 1 || len(push.Entries) != 1 {
		t.Errorf("delta = %+v", push)
	}
	if push.Entries[0].Key.Origin != tn.n.Identity().ShortAddress {
		t.Errorf("delta origin = %#04x, want the leader", uint16(push.Entries[0].Key.Origin))
	}

	if err := tn.n.WithdrawPrefix(entry.Key.Prefix); err != nil {
		t.Fatalf("WithdrawPrefix failed: %v", err)
	}
	if v, sv := tn.n.NetDataVersions(); v != 2 || sv != 2 {
		t.Errorf("versions = %d/%d after withdraw, want 2/2", v, sv)
	}
	if len(tn.n.NetworkData()) != 0 {
		t.Error("row survived withdraw")
	}

	sent = tn.tr.LastOfType(wire.MessageTypeNetDataPush)
	frame, _ = sent.Decode()
	if err := frame.Decode(&push); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if len(push.Removed) != 1 {
		t.Errorf("withdrawal delta = %+v", push)
	}
}

func TestChildRegistersUpward(t *testing.T) {
	tn := newTestNode(t, 1, nil)
	attachAsChild(t, tn, extAddr(9))

	entry := wire.NetDataEntry{
		Key:          wire.NetDataKey{Prefix: mesh.MustParsePrefix("fd00:c::/64")},
		BorderRouter: true,
		SlaacValid:   true,
	}
	if err := tn.n.RegisterPrefix(entry); err != nil {
		t.Fatalf("RegisterPrefix failed: %v", err)
	}

	// Children do not own versions; the registration travels to the parent.
	if v, _ := tn.n.NetDataVersions(); v != 5 {
		t.Errorf("version = %d after child register, want 5 (unchanged)", v)
	}
	sent := tn.tr.LastOfType(wire.MessageTypeNetDataPush)
	if sent == nil {
		t.Fatal("no push sent to the parent")
	}
	if sent.DstShort != 0x0400 {
		t.Errorf("push dst = %#04x, want parent 0x0400", uint16(sent.DstShort))
	}

	// The leader's delta comes back and carries the version forward.
	tn.receive(t, extAddr(9), 0x0400, wire.MessageTypeNetDataPush, &wire.NetDataPush{
		Version:       6,
		StableVersion: 2,
		Entries: []wire.NetDataEntry{{
			Key:          wire.NetDataKey{Prefix: entry.Key.Prefix, Origin: 0x0401},
			BorderRouter: true,
			SlaacValid:   true,
		}},
	})
	if v, _ := tn.n.NetDataVersions(); v != 6 {
		t.Errorf("version = %d after delta, want 6", v)
	}
}

func TestHeartbeatHandling(t *testing.T) {
	parent := extAddr(9)

	heartbeat := func(version uint32, keySeq uint32) *wire.Heartbeat {
		return &wire.Heartbeat{
			Partition:          mesh.Partition{ID: 7, Weight: 64},
			LeaderExtAddress:   parent,
			LeaderShortAddress: 0x0400,
			Version:            version,
			StableVersion:      2,
			KeySequence:        keySeq,
		}
	}

	t.Run("KeySequenceAdopted", func(t *testing.T) {
		tn := newTestNode(t, 1, nil)
		attachAsChild(t, tn, parent)

		tn.flags = nil
		tn.receive(t, parent, 0x0400, wire.MessageTypeHeartbeat, heartbeat(5, 8))

		if tn.n.KeySequence() != 8 {
			t.Errorf("KeySequence() = %d, want 8", tn.n.KeySequence())
		}
		found := false
		for _, f := range tn.flags {
			if f.Has(mesh.FlagNetKeySequence) {
				found = true
			}
		}
		if !found {
			t.Errorf("no NET_KEY_SEQUENCE event: %v", tn.flags)
		}
	})

	t.Run("VersionSkewTriggersResync", func(t *testing.T) {
		tn := newTestNode(t, 1, nil)
		attachAsChild(t, tn, parent)

		tn.tr.Reset()
		tn.receive(t, parent, 0x0400, wire.MessageTypeHeartbeat, heartbeat(9, 3))

		sent := tn.tr.LastOfType(wire.MessageTypeNetDataRequest)
		if sent == nil {
			t.Fatal("no resync request after version skew")
		}
		frame, _ := sent.Decode()
		var req wire.NetDataRequest
		if err := frame.Decode(&req); err != nil {
			t.Fatalf("payload decode failed: %v", err)
		}
		if !req.Full {
			t.Error("resync request not full")
		}
	})

	t.Run("ForeignPartitionIgnored", func(t *testing.T) {
		tn := newTestNode(t, 1, nil)
		attachAsChild(t, tn, parent)

		hb := heartbeat(5, 99)
		hb.Partition.ID = 1234
		tn.receive(t, parent, 0x0400, wire.MessageTypeHeartbeat, hb)

		if tn.n.KeySequence() != 3 {
			t.Errorf("foreign heartbeat adopted: key sequence = %d", tn.n.KeySequence())
		}
	})
}

func TestPromotion(t *testing.T) {
	parent := extAddr(9)
	tn := newTestNode(t, 1, func(cfg *node.Config) {
		cfg.Engine.Promotion.MinNeighbors = 1
	})
	attachAsChild(t, tn, parent)

	// A consistent heartbeat supplies the leader address and trips the
	// promotion check.
	tn.tr.Reset()
	tn.receive(t, parent, 0x0400, wire.MessageTypeHeartbeat, &wire.Heartbeat{
		Partition:          mesh.Partition{ID: 7, Weight: 64},
		LeaderExtAddress:   parent,
		LeaderShortAddress: 0x0400,
		Version:            5,
		StableVersion:      2,
		KeySequence:        3,
	})

	sent := tn.tr.LastOfType(wire.MessageTypeAttachRequest)
	if sent == nil {
		t.Fatal("no router-ID request after heartbeat")
	}
	frame, _ := sent.Decode()
	var req wire.AttachRequest
	if err := frame.Decode(&req); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if !req.RouterIDRequest {
		t.Fatal("request is not a router-ID request")
	}
	if sent.DstShort != 0x0400 {
		t.Errorf("request dst = %#04x, want the leader", uint16(sent.DstShort))
	}

	tn.flags = nil
	tn.receive(t, parent, 0x0400, wire.MessageTypeAttachResponse, &wire.AttachResponse{
		Status:       wire.StatusSuccess,
		ShortAddress: neighbor.RouterShort(2),
		Partition:    mesh.Partition{ID: 7, Weight: 64},
		KeySequence:  3,
	})

	if got := tn.n.Role(); got != mesh.RoleRouter {
		t.Fatalf("role = %s after promotion, want ROUTER", got)
	}
	if got := tn.n.Identity().ShortAddress; got != neighbor.RouterShort(2) {
		t.Errorf("short address = %#04x, want %#04x", uint16(got), uint16(neighbor.RouterShort(2)))
	}
	// The partition does not change across a promotion.
	part, _ := tn.n.Partition()
	if part.ID != 7 {
		t.Errorf("partition = %d after promotion, want 7", part.ID)
	}
	last := tn.flags[len(tn.flags)-1]
	if !last.Has(mesh.FlagNetRole | mesh.FlagAddressAdded | mesh.FlagAddressRemoved) {
		t.Errorf("promotion flags = %s", last)
	}
}

func TestLeaderTimeout(t *testing.T) {
	t.Run("ChildDetaches", func(t *testing.T) {
		tn := newTestNode(t, 1, func(cfg *node.Config) {
			off := false
			cfg.Engine.Attach.AllowLeaderStart = &off
		})
		attachAsChild(t, tn, extAddr(9))

		// No heartbeat for longer than the leader timeout.
		tn.clk.Add(125 * time.Second)

		if got := tn.n.Role(); got != mesh.RoleDetached {
			t.Errorf("role = %s after leader silence, want DETACHED", got)
		}
		if _, ok := tn.n.Partition(); ok {
			t.Error("partition survived the leader timeout")
		}
	})

	t.Run("HeartbeatKeepsChildAttached", func(t *testing.T) {
		tn := newTestNode(t, 1, nil)
		parent := extAddr(9)
		attachAsChild(t, tn, parent)

		// Heartbeats at half the timeout keep the child attached.
		for i := 0; i < 4; i++ {
			tn.clk.Add(60 * time.Second)
			tn.receive(t, parent, 0x0400, wire.MessageTypeHeartbeat, &wire.Heartbeat{
				Partition:          mesh.Partition{ID: 7, Weight: 64},
				LeaderExtAddress:   parent,
				LeaderShortAddress: 0x0400,
				Version:            5,
				StableVersion:      2,
				KeySequence:        3,
			})
		}
		if got := tn.n.Role(); got != mesh.RoleChild {
			t.Errorf("role = %s, want CHILD", got)
		}
	})
}

func TestDisabledNodeDropsFrames(t *testing.T) {
	tn := newTestNode(t, 1, nil)

	data, err := wire.EncodeFrame(wire.MessageTypeHeartbeat, &wire.Heartbeat{})
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	err = tn.n.HandleFrame(node.RxFrame{SrcExt: extAddr(9), SrcShort: 0x0400, Payload: data})
	if !errors.Is(err, mesh.ErrDrop) {
		t.Errorf("err = %v, want ErrDrop", err)
	}
}

func TestMacCounters(t *testing.T) {
	tn := newTestNode(t, 1, nil)
	if err := tn.n.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	tn.clk.Add(60 * time.Second) // leader start: 3 scans on one channel

	c := tn.n.Counters().Snapshot()
	if c.TxBeaconRequest != 3 {
		t.Errorf("TxBeaconRequest = %d, want 3", c.TxBeaconRequest)
	}
	if c.TxData == 0 {
		t.Error("TxData = 0, heartbeats should have been counted")
	}

	// A received frame is counted with its kind.
	tn.receive(t, extAddr(5), mesh.ShortAddressInvalid, wire.MessageTypeAttachRequest, &wire.AttachRequest{
		ExtAddress: extAddr(5),
	})
	c = tn.n.Counters().Snapshot()
	if c.RxData != 1 {
		t.Errorf("RxData = %d, want 1", c.RxData)
	}

	// Garbage is an RX error.
	_ = tn.n.HandleFrame(node.RxFrame{SrcExt: extAddr(5), Payload: []byte{0xff}})
	c = tn.n.Counters().Snapshot()
	if c.RxErrOther != 1 {
		t.Errorf("RxErrOther = %d, want 1", c.RxErrOther)
	}
}

// routerHeartbeat builds a leader heartbeat for the test partition,
// optionally advertising peer routers.
func routerHeartbeat(parent mesh.ExtAddress, peers ...wire.RouterInfo) *wire.Heartbeat {
	return &wire.Heartbeat{
		Partition:          mesh.Partition{ID: 7, Weight: 64},
		LeaderExtAddress:   parent,
		LeaderShortAddress: 0x0400,
		Version:            5,
		StableVersion:      2,
		KeySequence:        3,
		Routers:            peers,
	}
}

// promoteToRouter attaches as a child and completes the router-ID
// handshake. The node must be configured with MinNeighbors = 1.
func promoteToRouter(t *testing.T, tn *testNode, parent mesh.ExtAddress) {
	t.Helper()

	attachAsChild(t, tn, parent)
	tn.tr.Reset()
	tn.receive(t, parent, 0x0400, wire.MessageTypeHeartbeat, routerHeartbeat(parent))
	if tn.tr.LastOfType(wire.MessageTypeAttachRequest) == nil {
		t.Fatal("no router-ID request after heartbeat")
	}
	tn.receive(t, parent, 0x0400, wire.MessageTypeAttachResponse, &wire.AttachResponse{
		Status:       wire.StatusSuccess,
		ShortAddress: neighbor.RouterShort(2),
		Partition:    mesh.Partition{ID: 7, Weight: 64},
		KeySequence:  3,
	})
	if got := tn.n.Role(); got != mesh.RoleRouter {
		t.Fatalf("role = %s after promotion, want ROUTER", got)
	}
}

func TestElectionAfterLeaderSilence(t *testing.T) {
	parent := extAddr(9)

	t.Run("HighestAddressWins", func(t *testing.T) {
		tn := newTestNode(t, 5, func(cfg *node.Config) {
			cfg.Engine.Promotion.MinNeighbors = 1
		})
		promoteToRouter(t, tn, parent)

		// The heartbeat advertises one peer router with a lower
		// extended address, so this node wins the tie-break.
		tn.receive(t, parent, 0x0400, wire.MessageTypeHeartbeat, routerHeartbeat(parent, wire.RouterInfo{
			ExtAddress:   extAddr(3),
			ShortAddress: neighbor.RouterShort(3),
		}))
		before, ok := tn.n.Partition()
		if !ok {
			t.Fatal("no partition before leader silence")
		}

		tn.clk.Add(125 * time.Second)

		if got := tn.n.Role(); got != mesh.RoleLeader {
			t.Fatalf("role = %s after leader silence, want LEADER", got)
		}
		if got := tn.n.Identity().ShortAddress; got != neighbor.RouterShort(2) {
			t.Errorf("short address = %#04x, want kept %#04x", uint16(got), uint16(neighbor.RouterShort(2)))
		}
		after, ok := tn.n.Partition()
		if !ok {
			t.Fatal("no partition after election win")
		}
		if after.ID == before.ID {
			t.Error("partition ID unchanged, a new partition must have a fresh ID")
		}
	})

	t.Run("LowerAddressDetaches", func(t *testing.T) {
		off := false
		tn := newTestNode(t, 5, func(cfg *node.Config) {
			cfg.Engine.Promotion.MinNeighbors = 1
			cfg.Engine.Attach.AllowLeaderStart = &off
		})
		promoteToRouter(t, tn, parent)

		// The advertised peer outranks this node, so the election is
		// lost and the node falls back to a fresh attach cycle.
		tn.receive(t, parent, 0x0400, wire.MessageTypeHeartbeat, routerHeartbeat(parent, wire.RouterInfo{
			ExtAddress:   extAddr(7),
			ShortAddress: neighbor.RouterShort(3),
		}))

		tn.clk.Add(125 * time.Second)

		if got := tn.n.Role(); got != mesh.RoleDetached {
			t.Fatalf("role = %s after lost election, want DETACHED", got)
		}
		if _, ok := tn.n.Partition(); ok {
			t.Error("partition survived the lost election")
		}
	})
}

func TestHeartbeatAdvertisesRouters(t *testing.T) {
	tn := newTestNode(t, 1, nil)
	if err := tn.n.Enable(); err != nil {
		t.Fatalf("Enable failed: %v", err)
	}
	tn.clk.Add(60 * time.Second)
	if got := tn.n.Role(); got != mesh.RoleLeader {
		t.Fatalf("role = %s, want LEADER", got)
	}

	tn.receive(t, extAddr(5), mesh.ShortAddressInvalid, wire.MessageTypeAttachRequest, &wire.AttachRequest{
		ExtAddress:      extAddr(5),
		LinkMode:        mesh.LinkMode{RxOnWhenIdle: true, FullFunctionDevice: true, FullNetworkData: true},
		RouterIDRequest: true,
	})

	tn.tr.Reset()
	tn.clk.Add(30 * time.Second)

	sent := tn.tr.LastOfType(wire.MessageTypeHeartbeat)
	if sent == nil {
		t.Fatal("no heartbeat broadcast")
	}
	frame, err := sent.Decode()
	if err != nil {
		t.Fatalf("frame decode failed: %v", err)
	}
	var hb wire.Heartbeat
	if err := frame.Decode(&hb); err != nil {
		t.Fatalf("payload decode failed: %v", err)
	}
	if len(hb.Routers) != 1 || hb.Routers[0].ExtAddress != extAddr(5) {
		t.Fatalf("heartbeat routers = %+v, want the granted router", hb.Routers)
	}
	if hb.Routers[0].ShortAddress != neighbor.RouterShort(2) {
		t.Errorf("advertised short = %#04x, want %#04x",
			uint16(hb.Routers[0].ShortAddress), uint16(neighbor.RouterShort(2)))
	}
}
