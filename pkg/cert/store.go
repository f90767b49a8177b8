package cert

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ErrInvalidNode is returned when a node record cannot be stored.
var ErrInvalidNode = errors.New("invalid node record")

// CommissionedNode records a node commissioned onto the fabric.
type CommissionedNode struct {
	NodeID         uint64    `json:"-"`
	NodeIDHex      string    `json:"node_id"`
	FabricIDHex    string    `json:"fabric_id"`
	InstanceName   string    `json:"instance_name,omitempty"`
	VendorID       uint16    `json:"vendor_id,omitempty"`
	ProductID      uint16    `json:"product_id,omitempty"`
	Address        string    `json:"address,omitempty"`
	CommissionedAt time.Time `json:"commissioned_at"`
}

// Store persists the issuer's fabric and the nodes commissioned onto it.
// Implementations must be safe for concurrent use.
type Store interface {
	// LoadFabric returns the stored fabric, or ErrNotFound.
	LoadFabric() (*Fabric, error)

	// SaveFabric stores fabric, replacing any previous one.
	SaveFabric(fabric *Fabric) error

	// AddNode records a commissioned node, replacing a record with the same
	// node id.
	AddNode(node *CommissionedNode) error

	// Nodes returns the recorded nodes ordered by node id.
	Nodes() ([]*CommissionedNode, error)
}

// LoadOrCreateFabric returns the stored fabric when it has id, or creates
// and stores a new one.
func LoadOrCreateFabric(store Store, id uint64) (*Fabric, error) {
	fabric, err := store.LoadFabric()
	switch {
	case err == nil && fabric.ID == id:
		return fabric, nil
	case err == nil:
		return nil, fmt.Errorf("%w: stored fabric is %016X", ErrFabricMismatch, fabric.ID)
	case !errors.Is(err, ErrNotFound):
		return nil, err
	}

	fabric, err = NewFabric(id)
	if err != nil {
		return nil, err
	}
	if err := store.SaveFabric(fabric); err != nil {
		return nil, err
	}
	return fabric, nil
}

// MemoryStore is an in-memory Store.
type MemoryStore struct {
	mu     sync.RWMutex
	fabric *Fabric
	nodes  map[uint64]*CommissionedNode
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nodes: make(map[uint64]*CommissionedNode)}
}

// LoadFabric implements Store.
func (s *MemoryStore) LoadFabric() (*Fabric, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.fabric == nil {
		return nil, ErrNotFound
	}
	return s.fabric, nil
}

// SaveFabric implements Store.
func (s *MemoryStore) SaveFabric(fabric *Fabric) error {
	if fabric == nil || fabric.Certificate == nil || fabric.PrivateKey == nil {
		return ErrInvalidCert
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fabric = fabric
	return nil
}

// AddNode implements Store.
func (s *MemoryStore) AddNode(node *CommissionedNode) error {
	if node == nil || node.NodeID == 0 {
		return ErrInvalidNode
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	n := *node
	s.nodes[node.NodeID] = &n
	return nil
}

// Nodes implements Store.
func (s *MemoryStore) Nodes() ([]*CommissionedNode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodes := make([]*CommissionedNode, 0, len(s.nodes))
	for _, n := range s.nodes {
		c := *n
		nodes = append(nodes, &c)
	}
	sortNodes(nodes)
	return nodes, nil
}

// FileStore keeps the fabric and node records under a directory:
//
//	<dir>/fabric/root.pem
//	<dir>/fabric/root.key
//	<dir>/fabric/fabric.json
//	<dir>/nodes/<NODEID>.json
type FileStore struct {
	mu      sync.Mutex
	baseDir string
}

// NewFileStore creates a file store rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{baseDir: baseDir}
}

type fabricMetadata struct {
	FabricID string `json:"fabric_id"`
	IPK      string `json:"ipk"`
}

// LoadFabric implements Store.
func (s *FileStore) LoadFabric() (*Fabric, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, "fabric")
	data, err := os.ReadFile(filepath.Join(dir, "fabric.json"))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFile, err)
	}
	var meta fabricMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("fabric metadata: %w", err)
	}
	var id uint64
	if _, err := fmt.Sscanf(meta.FabricID, "%X", &id); err != nil {
		return nil, fmt.Errorf("fabric metadata: fabric id: %w", err)
	}
	ipk, err := hex.DecodeString(meta.IPK)
	if err != nil || len(ipk) != IPKSize {
		return nil, fmt.Errorf("fabric metadata: invalid IPK")
	}

	root, err := ReadCertFile(filepath.Join(dir, "root.pem"))
	if err != nil {
		return nil, err
	}
	key, err := ReadKeyFile(filepath.Join(dir, "root.key"))
	if err != nil {
		return nil, err
	}

	return &Fabric{ID: id, Certificate: root, PrivateKey: key, IPK: ipk}, nil
}

// SaveFabric implements Store.
func (s *FileStore) SaveFabric(fabric *Fabric) error {
	if fabric == nil || fabric.Certificate == nil || fabric.PrivateKey == nil {
		return ErrInvalidCert
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, "fabric")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFile, err)
	}
	if err := WriteCertFile(filepath.Join(dir, "root.pem"), fabric.Certificate); err != nil {
		return err
	}
	if err := WriteKeyFile(filepath.Join(dir, "root.key"), fabric.PrivateKey); err != nil {
		return err
	}

	data, err := json.MarshalIndent(fabricMetadata{
		FabricID: fmt.Sprintf("%016X", fabric.ID),
		IPK:      hex.EncodeToString(fabric.IPK),
	}, "", "  ")
	if err != nil {
		return err
	}
	// The IPK is a secret.
	if err := os.WriteFile(filepath.Join(dir, "fabric.json"), data, 0600); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFile, err)
	}
	return nil
}

// AddNode implements Store.
func (s *FileStore) AddNode(node *CommissionedNode) error {
	if node == nil || node.NodeID == 0 {
		return ErrInvalidNode
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, "nodes")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFile, err)
	}

	rec := *node
	rec.NodeIDHex = fmt.Sprintf("%016X", node.NodeID)
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, rec.NodeIDHex+".json"), data, 0644); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFile, err)
	}
	return nil
}

// Nodes implements Store.
func (s *FileStore) Nodes() ([]*CommissionedNode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Join(s.baseDir, "nodes")
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrReadFile, err)
	}

	var nodes []*CommissionedNode
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrReadFile, err)
		}
		var n CommissionedNode
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, fmt.Errorf("%s: %w", e.Name(), err)
		}
		if _, err := fmt.Sscanf(n.NodeIDHex, "%X", &n.NodeID); err != nil {
			return nil, fmt.Errorf("%s: node id: %w", e.Name(), err)
		}
		nodes = append(nodes, &n)
	}
	sortNodes(nodes)
	return nodes, nil
}

func sortNodes(nodes []*CommissionedNode) {
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].NodeID < nodes[j].NodeID })
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*FileStore)(nil)
)
