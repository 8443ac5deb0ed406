package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/atomic"

	"zen.app/cloud/models"
)

type MemoryStorage struct {
	mu        sync.RWMutex
	licenses  map[string]models.License // by ID
	byKey     map[string]string
	bySession map[string]string
	inserted  map[string]int64 // insertion sequence, breaks created_at ties
	seq       atomic.Int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		licenses:  make(map[string]models.License),
		byKey:     make(map[string]string),
		bySession: make(map[string]string),
		inserted:  make(map[string]int64),
	}
}

func (m *MemoryStorage) InsertLicense(ctx context.Context, license *models.License) error {
	if license.ID == "" {
		return fmt.Errorf("license id is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.licenses[license.ID]; exists {
		return ErrDuplicateLicense
	}
	if _, exists := m.byKey[license.Key]; exists {
		return ErrDuplicateLicense
	}
	if license.StripeSessionID != "" {
		if _, exists := m.bySession[license.StripeSessionID]; exists {
			return ErrDuplicateLicense
		}
	}

	m.licenses[license.ID] = *license
	m.byKey[license.Key] = license.ID
	if license.StripeSessionID != "" {
		m.bySession[license.StripeSessionID] = license.ID
	}
	m.inserted[license.ID] = m.seq.Inc()
	return nil
}

// remove undoes an insert. FileStorage uses it when the snapshot cannot be
// written.
func (m *MemoryStorage) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	license, exists := m.licenses[id]
	if !exists {
		return
	}
	delete(m.licenses, id)
	delete(m.byKey, license.Key)
	if license.StripeSessionID != "" {
		delete(m.bySession, license.StripeSessionID)
	}
	delete(m.inserted, id)
}

func (m *MemoryStorage) lookup(index map[string]string, value string) *models.License {
	id, exists := index[value]
	if !exists {
		return nil
	}
	license := m.licenses[id]
	return &license
}

func (m *MemoryStorage) FindLicenseByKey(ctx context.Context, key string) (*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(m.byKey, key), nil
}

func (m *MemoryStorage) FindLicenseBySessionID(ctx context.Context, sessionID string) (*models.License, error) {
	if sessionID == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lookup(m.bySession, sessionID), nil
}

func (m *MemoryStorage) FindLicensesByEmail(ctx context.Context, email string) ([]*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	licenses := make([]*models.License, 0)
	for _, license := range m.licenses {
		if license.Email == email {
			licenseCopy := license
			licenses = append(licenses, &licenseCopy)
		}
	}

	sort.Slice(licenses, func(i, j int) bool {
		a, b := licenses[i], licenses[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return m.inserted[a.ID] > m.inserted[b.ID]
	})

	return licenses, nil
}

func (m *MemoryStorage) CountLicensesByTier(ctx context.Context, tier models.Tier) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, license := range m.licenses {
		if license.Tier == tier {
			count++
		}
	}
	return count, nil
}

// all returns every license in insertion order.
func (m *MemoryStorage) all() []models.License {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.License, 0, len(m.licenses))
	for _, license := range m.licenses {
		out = append(out, license)
	}
	sort.Slice(out, func(i, j int) bool {
		return m.inserted[out[i].ID] < m.inserted[out[j].ID]
	})
	return out
}

func (m *MemoryStorage) Close() error {
	return nil
}
