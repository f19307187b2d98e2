package consensus

import (
	"sync"
	"time"

	"github.com/quantmesh/QuorumGo/internal/models"
)

// PerformanceStore tracks historical backtest quality per agent. The engine
// only reads weights from it; feeding outcomes back in is the caller's job.
// Implementations must be safe for concurrent use.
type PerformanceStore interface {
	Get(agentID string) (models.AgentPerformance, bool)
	Update(agentID string, sharpe, winRate float64)
	All() []models.AgentPerformance
}

// MemoryPerformanceStore is the in-process PerformanceStore. Records are
// created on first observation and updated as running means, never deleted.
type MemoryPerformanceStore struct {
	mu      sync.RWMutex
	records map[string]*models.AgentPerformance
}

func NewMemoryPerformanceStore() *MemoryPerformanceStore {
	return &MemoryPerformanceStore{
		records: make(map[string]*models.AgentPerformance),
	}
}

func (s *MemoryPerformanceStore) Get(agentID string) (models.AgentPerformance, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[agentID]
	if !ok {
		return models.AgentPerformance{}, false
	}
	return *rec, true
}

func (s *MemoryPerformanceStore) Update(agentID string, sharpe, winRate float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[agentID]
	if !ok {
		rec = &models.AgentPerformance{AgentID: agentID}
		s.records[agentID] = rec
	}

	n := float64(rec.Samples)
	rec.AvgSharpe = (rec.AvgSharpe*n + sharpe) / (n + 1)
	rec.AvgWinRate = (rec.AvgWinRate*n + winRate) / (n + 1)
	rec.Samples++
	rec.UpdatedAt = time.Now()
}

func (s *MemoryPerformanceStore) All() []models.AgentPerformance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.AgentPerformance, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, *rec)
	}
	return out
}
