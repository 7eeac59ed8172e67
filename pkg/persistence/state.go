package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/wisp-protocol/wisp-go/pkg/mesh"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// NodeState contains the persisted runtime state for a WISP node.
type NodeState struct {
	// Version is the state file format version.
	Version int `json:"version"`

	// SavedAt is when the state was last saved.
	SavedAt time.Time `json:"saved_at"`

	// ExtAddress is the node's extended address, 16 hex characters.
	ExtAddress string `json:"ext_address"`

	// ShortAddress is the last assigned short address.
	ShortAddress uint16 `json:"short_address"`

	// PanID is the PAN the node last operated on.
	PanID uint16 `json:"pan_id"`

	// ExtendedPanID is the network's extended PAN ID, 16 hex characters.
	ExtendedPanID string `json:"ext_pan_id,omitempty"`

	// NetworkName is the network name.
	NetworkName string `json:"network_name,omitempty"`

	// Role is the last stable role (mesh.Role numeric value).
	Role uint8 `json:"role"`

	// PartitionID is the last partition ID, zero while detached.
	PartitionID uint32 `json:"partition_id,omitempty"`

	// PartitionWeight is the last partition weight.
	PartitionWeight uint8 `json:"partition_weight,omitempty"`

	// KeySequence is the last observed key sequence counter.
	KeySequence uint32 `json:"key_sequence,omitempty"`
}

// Identity reconstructs the device identity from the saved state.
func (s *NodeState) Identity() (mesh.DeviceIdentity, error) {
	ext, err := mesh.ParseExtAddress(s.ExtAddress)
	if err != nil {
		return mesh.DeviceIdentity{}, err
	}
	id := mesh.DeviceIdentity{
		ExtAddress:   ext,
		ShortAddress: mesh.ShortAddress(s.ShortAddress),
		PanID:        mesh.PanID(s.PanID),
		NetworkName:  mesh.NetworkName(s.NetworkName),
	}
	if s.ExtendedPanID != "" {
		raw, err := mesh.ParseExtAddress(s.ExtendedPanID)
		if err != nil {
			return mesh.DeviceIdentity{}, err
		}
		id.ExtendedPanID = mesh.ExtendedPanID(raw)
	}
	return id, nil
}

// NodeStateStore manages persistence of node state to a JSON file.
type NodeStateStore struct {
	mu   sync.Mutex
	path string
}

// NewNodeStateStore creates a new node state store.
func NewNodeStateStore(path string) *NodeStateStore {
	return &NodeStateStore{path: path}
}

// Save persists the node state to disk.
func (s *NodeStateStore) Save(state *NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Ensure parent directory exists
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	state.Version = StateVersion
	if state.SavedAt.IsZero() {
		state.SavedAt = time.Now()
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(s.path, data, 0644)
}

// Load reads the node state from disk.
// Returns nil, nil if the file doesn't exist (empty state).
func (s *NodeStateStore) Load() (*NodeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	state := &NodeState{}
	if err := json.Unmarshal(data, state); err != nil {
		return nil, err
	}

	return state, nil
}

// Clear removes the state file.
func (s *NodeStateStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
