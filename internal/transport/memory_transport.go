package transport

import (
	"context"
	"strings"
	"sync"
)

// MemoryTransport is an in-process Transport for tests and single-node
// development. Delivery is at-most-once: a publish with no subscriber on
// the subject is dropped, exactly like a pub/sub fabric with no durable
// consumer.
//
// It also records every publish so tests can assert on dispatch counts,
// and exposes the number of open subscriptions so leak tests can verify
// waiter teardown.
type MemoryTransport struct {
	mu        sync.Mutex
	subs      map[string][]*memorySub
	published []Message
}

// NewMemoryTransport creates an empty MemoryTransport.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{
		subs: make(map[string][]*memorySub),
	}
}

var _ Transport = (*MemoryTransport)(nil)

// Publish delivers the payload to every subscription currently open on
// the subject. Each subscription is single-use, so all of them are
// unregistered by the delivery.
func (m *MemoryTransport) Publish(ctx context.Context, subject string, payload []byte) error {
	msg := Message{Subject: subject, Data: payload}

	m.mu.Lock()
	m.published = append(m.published, msg)
	targets := m.subs[subject]
	delete(m.subs, subject)
	m.mu.Unlock()

	for _, s := range targets {
		s.deliver(msg)
	}
	return nil
}

// SubscribeOnce opens a single-message subscription on the subject.
func (m *MemoryTransport) SubscribeOnce(ctx context.Context, subject string) (Subscription, error) {
	s := &memorySub{
		t:       m,
		subject: subject,
		ch:      make(chan Message, 1),
	}

	m.mu.Lock()
	m.subs[subject] = append(m.subs[subject], s)
	m.mu.Unlock()

	return s, nil
}

// OpenSubscriptions returns the number of subscriptions that have neither
// received a message nor been drained.
func (m *MemoryTransport) OpenSubscriptions() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, subs := range m.subs {
		n += len(subs)
	}
	return n
}

// Published returns a copy of every message published so far, in order.
func (m *MemoryTransport) Published() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Message, len(m.published))
	copy(out, m.published)
	return out
}

// PublishedOn counts publishes whose subject starts with the given prefix.
func (m *MemoryTransport) PublishedOn(subjectPrefix string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, msg := range m.published {
		if strings.HasPrefix(msg.Subject, subjectPrefix) {
			n++
		}
	}
	return n
}

func (m *MemoryTransport) remove(target *memorySub) {
	m.mu.Lock()
	defer m.mu.Unlock()

	subs := m.subs[target.subject]
	for i, s := range subs {
		if s == target {
			m.subs[target.subject] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(m.subs[target.subject]) == 0 {
		delete(m.subs, target.subject)
	}
}

type memorySub struct {
	t       *MemoryTransport
	subject string

	mu   sync.Mutex
	done bool
	ch   chan Message
}

func (s *memorySub) Messages() <-chan Message { return s.ch }

// deliver hands the message to the subscriber and closes the channel. The
// done flag resolves the race against a concurrent Drain: whichever takes
// the lock first wins, and the channel is closed exactly once.
func (s *memorySub) deliver(msg Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return
	}
	s.done = true
	s.ch <- msg
	close(s.ch)
}

func (s *memorySub) Drain() error {
	s.t.remove(s)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.done {
		return nil
	}
	s.done = true
	close(s.ch)
	return nil
}

// MemoryEventLog retains appended events in a bounded in-memory ring.
type MemoryEventLog struct {
	mu      sync.Mutex
	entries [][]byte
	limit   int
}

// NewMemoryEventLog creates a MemoryEventLog retaining at most limit
// entries (default 1024 if limit <= 0).
func NewMemoryEventLog(limit int) *MemoryEventLog {
	if limit <= 0 {
		limit = 1024
	}
	return &MemoryEventLog{limit: limit}
}

var _ EventLog = (*MemoryEventLog)(nil)

func (l *MemoryEventLog) Provision(ctx context.Context) error { return nil }

func (l *MemoryEventLog) Append(ctx context.Context, payload []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.entries = append(l.entries, payload)
	if len(l.entries) > l.limit {
		l.entries = l.entries[len(l.entries)-l.limit:]
	}
	return nil
}

// Entries returns a copy of the retained payloads, oldest first.
func (l *MemoryEventLog) Entries() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([][]byte, len(l.entries))
	copy(out, l.entries)
	return out
}
