package audit

import (
	"sync"

	"execution-core/internal/events"
)

// Memory keeps the most recent events in a ring buffer.
type Memory struct {
	mu   sync.RWMutex
	buf  []Event
	next int
	full bool
}

// NewMemory creates a ring holding up to size events.
func NewMemory(size int) *Memory {
	if size <= 0 {
		size = 1024
	}
	return &Memory{buf: make([]Event, size)}
}

func (m *Memory) Write(e Event) error {
	m.mu.Lock()
	m.buf[m.next] = e
	m.next = (m.next + 1) % len(m.buf)
	if m.next == 0 {
		m.full = true
	}
	m.mu.Unlock()
	return nil
}

// All returns retained events oldest first.
func (m *Memory) All() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if !m.full {
		out := make([]Event, m.next)
		copy(out, m.buf[:m.next])
		return out
	}
	out := make([]Event, 0, len(m.buf))
	out = append(out, m.buf[m.next:]...)
	out = append(out, m.buf[:m.next]...)
	return out
}

// After returns retained events with Seq greater than seq, at most limit of them.
func (m *Memory) After(seq uint64, limit int) []Event {
	var out []Event
	for _, e := range m.All() {
		if e.Seq <= seq {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Filter returns retained events of the given kind.
func (m *Memory) Filter(kind Kind) []Event {
	var out []Event
	for _, e := range m.All() {
		if e.Kind == kind {
			out = append(out, e)
		}
	}
	return out
}

// BusSink republishes events on the in-process bus for live subscribers.
type BusSink struct {
	Bus *events.Bus
}

func (b BusSink) Write(e Event) error {
	b.Bus.Publish(events.EventAudit, e)
	return nil
}
