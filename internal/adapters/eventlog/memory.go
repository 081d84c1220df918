package eventlog

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/medrank/internal/domain/model"
)

// Memory is an in-process event log.
type Memory struct {
	mu     sync.RWMutex
	events []model.RawOutcomeEvent
	fail   error
}

// NewMemory returns a log holding events.
func NewMemory(events ...model.RawOutcomeEvent) *Memory {
	m := &Memory{}
	m.Append(events...)
	return m
}

// Append adds events; ids keep the log ordered.
func (m *Memory) Append(events ...model.RawOutcomeEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	sort.SliceStable(m.events, func(i, j int) bool { return m.events[i].ID < m.events[j].ID })
}

// Replace swaps the whole log.
func (m *Memory) Replace(events ...model.RawOutcomeEvent) {
	m.mu.Lock()
	m.events = nil
	m.mu.Unlock()
	m.Append(events...)
}

// FailWith makes every following Scan return err; nil clears it.
func (m *Memory) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = err
}

// Len returns the number of stored events.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.events)
}

// Scan implements Source.
func (m *Memory) Scan(ctx context.Context, since time.Time, fn func(model.RawOutcomeEvent) error) error {
	m.mu.RLock()
	if m.fail != nil {
		err := m.fail
		m.mu.RUnlock()
		return err
	}
	events := make([]model.RawOutcomeEvent, len(m.events))
	copy(events, m.events)
	m.mu.RUnlock()

	for _, e := range events {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !since.IsZero() && e.SentAt.Before(since) {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return nil
}
