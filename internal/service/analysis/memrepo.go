package analysis

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/park285/cheese-analyzer/internal/domain"
)

// memrepo keeps the archive in process when no database is configured.
type memrepo struct {
	mu     sync.RWMutex
	nextID int64
	byKey  map[string]*domain.AnalysisRecord
}

func NewMemoryRepository() Repository {
	return &memrepo{byKey: make(map[string]*domain.AnalysisRecord)}
}

func (m *memrepo) SaveResult(ctx context.Context, rec *domain.AnalysisRecord) error {
	if rec == nil {
		return nil
	}
	key := recordKey(rec.PriorFEN, rec.Move)
	now := time.Now().UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	old := m.byKey[key]
	if !rec.Supersedes(old) {
		return nil
	}
	cp := *rec
	cp.PV = append([]string(nil), rec.PV...)
	cp.UpdatedAt = now
	if old != nil {
		cp.ID = old.ID
		cp.CreatedAt = old.CreatedAt
	} else {
		m.nextID++
		cp.ID = m.nextID
		cp.CreatedAt = now
	}
	m.byKey[key] = &cp
	return nil
}

func (m *memrepo) Recent(ctx context.Context, limit int) ([]*domain.AnalysisRecord, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	m.mu.RLock()
	items := make([]*domain.AnalysisRecord, 0, len(m.byKey))
	for _, rec := range m.byKey {
		cp := *rec
		items = append(items, &cp)
	}
	m.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool {
		if !items[i].UpdatedAt.Equal(items[j].UpdatedAt) {
			return items[i].UpdatedAt.After(items[j].UpdatedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (m *memrepo) Get(ctx context.Context, priorFEN, move string) (*domain.AnalysisRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if rec, ok := m.byKey[recordKey(priorFEN, move)]; ok {
		cp := *rec
		return &cp, nil
	}
	return nil, nil
}

func recordKey(priorFEN, move string) string {
	return strings.TrimSpace(priorFEN) + "|" + strings.ToLower(strings.TrimSpace(move))
}
