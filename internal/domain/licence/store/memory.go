package store

import (
	"context"
	"sort"
	"sync"

	"licence-server-go/internal/domain/licence/model"
)

type memoryStore struct {
	mu       sync.RWMutex
	records  map[string]model.LicenceRecord
	bindings map[string]map[string]int64 // key -> peer -> bound_at
	clock    model.Clock
}

// NewMemory builds a process-local licence store.
func NewMemory(cfg Config) Store {
	return &memoryStore{
		records:  make(map[string]model.LicenceRecord),
		bindings: make(map[string]map[string]int64),
		clock:    clockOrSystem(cfg.Clock),
	}
}

func (s *memoryStore) Issue(_ context.Context, key string, expiredAt int64, active bool, note *string, maxBindIDs int) error {
	if err := requireKey("licence.issue", key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; ok {
		return duplicate("licence.issue", key)
	}
	var n *string
	if note != nil {
		v := *note
		n = &v
	}
	s.records[key] = model.LicenceRecord{
		Key:          key,
		RegisteredAt: s.clock.Now(),
		ExpiredAt:    expiredAt,
		Active:       active,
		Note:         n,
		MaxBindIDs:   model.ClampMaxBind(maxBindIDs),
	}
	return nil
}

func (s *memoryStore) mutate(op, key string, fn func(rec *model.LicenceRecord)) error {
	if err := requireKey(op, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return notFound(op, key)
	}
	fn(&rec)
	s.records[key] = rec
	return nil
}

func (s *memoryStore) Extend(_ context.Context, key string, deltaSeconds int64) error {
	return s.mutate("licence.extend", key, func(rec *model.LicenceRecord) {
		rec.ExpiredAt = model.SaturatingAdd(rec.ExpiredAt, deltaSeconds)
	})
}

func (s *memoryStore) SetActive(_ context.Context, key string, active bool) error {
	return s.mutate("licence.set_active", key, func(rec *model.LicenceRecord) {
		rec.Active = active
	})
}

func (s *memoryStore) SetMaxBind(_ context.Context, key string, n int) error {
	return s.mutate("licence.set_max_bind", key, func(rec *model.LicenceRecord) {
		rec.MaxBindIDs = model.BoundMaxBind(n)
	})
}

func (s *memoryStore) Lookup(_ context.Context, key string) (*model.LicenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (s *memoryStore) List(_ context.Context, offset, limit int) (int64, []model.LicenceRecord, error) {
	s.mu.RLock()
	all := make([]model.LicenceRecord, 0, len(s.records))
	for _, rec := range s.records {
		all = append(all, rec)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].RegisteredAt != all[j].RegisteredAt {
			return all[i].RegisteredAt > all[j].RegisteredAt
		}
		return all[i].Key < all[j].Key
	})

	total := int64(len(all))
	if offset < 0 {
		offset = 0
	}
	if offset >= len(all) {
		return total, []model.LicenceRecord{}, nil
	}
	end := len(all)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	return total, all[offset:end], nil
}

func (s *memoryStore) Count(context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.records)), nil
}

func (s *memoryStore) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[key]
	return ok, nil
}

func (s *memoryStore) Bindings(_ context.Context, key string) ([]model.Binding, error) {
	s.mu.RLock()
	peers := s.bindings[key]
	out := make([]model.Binding, 0, len(peers))
	for peer, at := range peers {
		out = append(out, model.Binding{LicenceKey: key, PeerID: peer, BoundAt: at})
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].BoundAt != out[j].BoundAt {
			return out[i].BoundAt < out[j].BoundAt
		}
		return out[i].PeerID < out[j].PeerID
	})
	return out, nil
}

func (s *memoryStore) BoundCount(_ context.Context, key string) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(s.bindings[key])), nil
}

func (s *memoryStore) IsBound(_ context.Context, key, peer string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.bindings[key][peer]
	return ok, nil
}

// Admit 在写锁内完成判定与插入
func (s *memoryStore) Admit(ctx context.Context, key, peer string, now int64) (model.BindResult, error) {
	if err := ctx.Err(); err != nil {
		return model.BindResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	peers := s.bindings[key]
	if _, ok := peers[peer]; ok {
		return model.Bound(), nil
	}

	var rec *model.LicenceRecord
	if r, ok := s.records[key]; ok {
		rec = &r
	}
	result, ok := decide(rec, int64(len(peers)), now)
	if !ok {
		return result, nil
	}

	if peers == nil {
		peers = make(map[string]int64)
		s.bindings[key] = peers
	}
	peers[peer] = now
	return result, nil
}

func (s *memoryStore) Close(context.Context) error {
	return nil
}
