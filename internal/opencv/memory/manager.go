package memory

import (
	"fmt"
	"sync"
	"time"

	"espresso-flow-vision/internal/logger"
	"espresso-flow-vision/internal/opencv/safe"

	"gocv.io/x/gocv"
)

const DefaultMaxBytes int64 = 2 * 1024 * 1024 * 1024

type AllocationRecord struct {
	Tag       string
	CreatedAt time.Time
	Size      int64
}

type Stats struct {
	TotalAllocated int64
	TotalReleased  int64
	ActiveMats     int64
	PeakActiveMats int64
	MaxAllowed     int64
}

// Manager accounts for every native Mat created through it so leaks across
// frames show up in Stats rather than in process RSS.
type Manager struct {
	allocations map[uint64]*AllocationRecord
	mu          sync.RWMutex
	stats       Stats
	log         logger.Logger
}

func NewManager(log logger.Logger) *Manager {
	if log == nil {
		log = logger.NoOpLogger{}
	}
	return &Manager{
		allocations: make(map[uint64]*AllocationRecord),
		stats:       Stats{MaxAllowed: DefaultMaxBytes},
		log:         log,
	}
}

func (m *Manager) TrackAllocation(id uint64, size int64, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.allocations[id] = &AllocationRecord{Tag: tag, CreatedAt: time.Now(), Size: size}
	m.stats.TotalAllocated += size
	m.stats.ActiveMats++
	if m.stats.ActiveMats > m.stats.PeakActiveMats {
		m.stats.PeakActiveMats = m.stats.ActiveMats
	}
}

func (m *Manager) TrackDeallocation(id uint64, tag string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	record, exists := m.allocations[id]
	if !exists {
		m.log.Warning("MemoryManager", "release of untracked Mat", map[string]interface{}{
			"id":  id,
			"tag": tag,
		})
		return
	}
	delete(m.allocations, id)
	m.stats.TotalReleased += record.Size
	m.stats.ActiveMats--
}

func (m *Manager) checkLimit() error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inUse := m.stats.TotalAllocated - m.stats.TotalReleased
	if inUse > m.stats.MaxAllowed {
		return fmt.Errorf("memory limit exceeded: %d bytes allocated", inUse)
	}
	return nil
}

func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.stats
}

// Leaks lists the tags of Mats that are still open.
func (m *Manager) Leaks() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	tags := make([]string, 0, len(m.allocations))
	for _, record := range m.allocations {
		tags = append(tags, record.Tag)
	}
	return tags
}

// Scope collects the Mats of one unit of work, typically a single frame. Close
// releases everything acquired through it.
type Scope struct {
	manager *Manager
	name    string
	mats    []*safe.Mat
}

func (m *Manager) NewScope(name string) *Scope {
	return &Scope{manager: m, name: name}
}

func (s *Scope) NewMat(rows, cols int, matType gocv.MatType, tag string) (*safe.Mat, error) {
	if err := s.manager.checkLimit(); err != nil {
		return nil, err
	}
	mat, err := safe.NewMatWithTracker(rows, cols, matType, s.manager, s.qualify(tag))
	if err != nil {
		return nil, err
	}
	s.mats = append(s.mats, mat)
	return mat, nil
}

// Empty returns a Mat with no allocation, suitable as an OpenCV destination.
func (s *Scope) Empty(tag string) (*safe.Mat, error) {
	mat, err := safe.Wrap(gocv.NewMat(), s.manager, s.qualify(tag))
	if err != nil {
		return nil, err
	}
	s.mats = append(s.mats, mat)
	return mat, nil
}

func (s *Scope) FromBytes(rows, cols int, matType gocv.MatType, data []byte, tag string) (*safe.Mat, error) {
	if err := s.manager.checkLimit(); err != nil {
		return nil, err
	}
	mat, err := safe.FromBytes(rows, cols, matType, data, s.manager, s.qualify(tag))
	if err != nil {
		return nil, err
	}
	s.mats = append(s.mats, mat)
	return mat, nil
}

// Adopt transfers ownership of a raw gocv.Mat into the scope.
func (s *Scope) Adopt(mat gocv.Mat, tag string) (*safe.Mat, error) {
	wrapped, err := safe.Wrap(mat, s.manager, s.qualify(tag))
	if err != nil {
		mat.Close()
		return nil, err
	}
	s.mats = append(s.mats, wrapped)
	return wrapped, nil
}

func (s *Scope) Len() int {
	return len(s.mats)
}

func (s *Scope) Close() {
	for i := len(s.mats) - 1; i >= 0; i-- {
		s.mats[i].Close()
	}
	s.mats = nil
}

func (s *Scope) qualify(tag string) string {
	if s.name == "" {
		return tag
	}
	return s.name + "/" + tag
}
