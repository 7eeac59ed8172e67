package wire

import (
	"errors"
	"testing"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
)

func TestFrameRoundTrip(t *testing.T) {
	beacon := &Beacon{
		ExtAddress:  mesh.ExtAddress{1, 2, 3, 4, 5, 6, 7, 8},
		NetworkName: "wisp-test",
		PanID:       0xface,
		Version:     2,
		Partition:   mesh.Partition{ID: 0xcafe0001, Weight: 64},
		Joinable:    true,
	}

	data, err := EncodeFrame(MessageTypeBeacon, beacon)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	if frame.Type != MessageTypeBeacon {
		t.Errorf("Type = %s, want BEACON", frame.Type)
	}

	var got Beacon
	if err := frame.Decode(&got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != *beacon {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, *beacon)
	}
}

func TestDecodeFrameErrors(t *testing.T) {
	t.Run("Garbage", func(t *testing.T) {
		if _, err := DecodeFrame([]byte{0xff, 0x00, 0x12}); !errors.Is(err, mesh.ErrParse) {
			t.Errorf("err = %v, want ErrParse", err)
		}
	})

	t.Run("UnknownType", func(t *testing.T) {
		data, err := EncodeFrame(MessageType(99), &Heartbeat{})
		if err != nil {
			t.Fatalf("EncodeFrame failed: %v", err)
		}
		if _, err := DecodeFrame(data); !errors.Is(err, mesh.ErrParse) {
			t.Errorf("err = %v, want ErrParse", err)
		}
	})

	t.Run("WrongPayload", func(t *testing.T) {
		data, err := EncodeFrame(MessageTypeHeartbeat, "not a heartbeat")
		if err != nil {
			t.Fatalf("EncodeFrame failed: %v", err)
		}
		frame, err := DecodeFrame(data)
		if err != nil {
			t.Fatalf("DecodeFrame failed: %v", err)
		}
		var hb Heartbeat
		if err := frame.Decode(&hb); !errors.Is(err, mesh.ErrParse) {
			t.Errorf("err = %v, want ErrParse", err)
		}
	})
}

func TestNetDataEntryValidate(t *testing.T) {
	prefix := mesh.MustParsePrefix("fd00:db8::/64")

	tests := []struct {
		name    string
		entry   NetDataEntry
		wantErr bool
	}{
		{"Valid", NetDataEntry{Key: NetDataKey{Prefix: prefix}, Preference: 0}, false},
		{"PreferenceLow", NetDataEntry{Key: NetDataKey{Prefix: prefix}, Preference: PreferenceLow}, false},
		{"PreferenceHigh", NetDataEntry{Key: NetDataKey{Prefix: prefix}, Preference: PreferenceHigh}, false},
		{"PreferenceTooLow", NetDataEntry{Key: NetDataKey{Prefix: prefix}, Preference: -3}, true},
		{"PreferenceTooHigh", NetDataEntry{Key: NetDataKey{Prefix: prefix}, Preference: 2}, true},
		{"BadPrefix", NetDataEntry{Key: NetDataKey{Prefix: mesh.Prefix{Length: 200}}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.entry.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodedSizeStable(t *testing.T) {
	entry := NetDataEntry{
		Key:          NetDataKey{Prefix: mesh.MustParsePrefix("fd00:db8::/64"), Origin: 0x0401},
		Preference:   1,
		Stable:       true,
		BorderRouter: true,
	}
	a, err := EncodedSize([]NetDataEntry{entry})
	if err != nil {
		t.Fatalf("EncodedSize failed: %v", err)
	}
	b, err := EncodedSize([]NetDataEntry{entry})
	if err != nil {
		t.Fatalf("EncodedSize failed: %v", err)
	}
	if a != b || a == 0 {
		t.Errorf("EncodedSize not stable: %d vs %d", a, b)
	}
}

func TestAttachHandshakeRoundTrip(t *testing.T) {
	req := &AttachRequest{
		ExtAddress:      mesh.ExtAddress{1, 2, 3, 4, 5, 6, 7, 8},
		Version:         2,
		LinkMode:        mesh.LinkMode{RxOnWhenIdle: true, FullFunctionDevice: true},
		RouterIDRequest: true,
	}
	data, err := EncodeFrame(MessageTypeAttachRequest, req)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	var got AttachRequest
	if err := frame.Decode(&got); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got != *req {
		t.Errorf("round trip mismatch: got %+v, want %+v", got, *req)
	}

	resp := &AttachResponse{
		Status:       StatusSuccess,
		ShortAddress: 0x0401,
		Partition:    mesh.Partition{ID: 7, Weight: 64},
		KeySequence:  3,
		NetData: &NetDataPush{
			Full:    true,
			Version: 9,
			Entries: []NetDataEntry{{
				Key:    NetDataKey{Prefix: mesh.MustParsePrefix("fd00:1::/64"), Origin: 0x0400},
				Stable: true,
			}},
		},
	}
	data, err = EncodeFrame(MessageTypeAttachResponse, resp)
	if err != nil {
		t.Fatalf("EncodeFrame failed: %v", err)
	}
	frame, err = DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame failed: %v", err)
	}
	var gotResp AttachResponse
	if err := frame.Decode(&gotResp); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if gotResp.Status != StatusSuccess || gotResp.ShortAddress != 0x0401 {
		t.Errorf("response header mismatch: %+v", gotResp)
	}
	if gotResp.NetData == nil || !gotResp.NetData.Full || len(gotResp.NetData.Entries) != 1 {
		t.Errorf("embedded snapshot mismatch: %+v", gotResp.NetData)
	}
}
