// Package storage persists the small secrets the client keeps between runs:
// the DPoP proof key and the current refresh token.
package storage

import (
	"context"
	"errors"
	"sync"
)

var ErrNotFound = errors.New("storage: record not found")

// Blob is a single durable value. Save replaces the previous value atomically.
type Blob interface {
	Load(ctx context.Context) ([]byte, error)
	Save(ctx context.Context, data []byte) error
	Delete(ctx context.Context) error
}

type Memory struct {
	lock  sync.Mutex
	data  []byte
	saves int
}

var _ Blob = (*Memory)(nil)

func NewMemory(data []byte) *Memory {
	m := &Memory{}
	if data != nil {
		m.data = append([]byte(nil), data...)
	}
	return m
}

func (m *Memory) Load(ctx context.Context) ([]byte, error) {
	m.lock.Lock()
	defer m.lock.Unlock()

	if m.data == nil {
		return nil, ErrNotFound
	}
	return append([]byte(nil), m.data...), nil
}

func (m *Memory) Save(ctx context.Context, data []byte) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.data = append([]byte{}, data...)
	m.saves++
	return nil
}

func (m *Memory) Delete(ctx context.Context) error {
	m.lock.Lock()
	defer m.lock.Unlock()

	m.data = nil
	return nil
}

// Saves returns how many times Save was called.
func (m *Memory) Saves() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.saves
}
