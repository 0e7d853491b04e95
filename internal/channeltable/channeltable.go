// Package channeltable implements the Mail Broker's in-process channel
// table: a map from (project id, topic) to a fan-out broadcaster plus a
// bounded replay ring, grounded on hydra-mail/src/channels.rs.
//
// Unlike the original, which reaches the map through a process-wide
// LazyLock global, the table here is an explicit value a caller
// constructs and threads through the daemon — there is no package-level
// shared state, so a test (or a future multi-tenant host) can hold more
// than one table.
package channeltable

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Appender persists emitted payloads for crash recovery. The broker wires
// this to internal/msglog; tests and callers that don't need durability
// can leave it nil.
type Appender interface {
	Append(projectID uuid.UUID, topic string, payload []byte) error
}

type key struct {
	project uuid.UUID
	topic   string
}

type entry struct {
	bc   *broadcaster
	ring *replayBuffer
}

// Table is the process-wide (within one daemon) channel table.
type Table struct {
	mu                sync.Mutex
	channels          map[key]*entry
	ringCapacity      int
	broadcastCapacity int
	appender          Appender
}

// New builds a Table with the given replay ring and fan-out capacities.
func New(ringCapacity, broadcastCapacity int) *Table {
	return &Table{
		channels:          make(map[key]*entry),
		ringCapacity:      ringCapacity,
		broadcastCapacity: broadcastCapacity,
	}
}

// SetAppender wires a durability sink used by Emit. Passing nil disables
// logging (the default).
func (t *Table) SetAppender(a Appender) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.appender = a
}

func (t *Table) getOrCreate(k key) *entry {
	e, ok := t.channels[k]
	if !ok {
		e = &entry{
			bc:   newBroadcaster(t.broadcastCapacity),
			ring: newReplayBuffer(t.ringCapacity),
		}
		t.channels[k] = e
	}
	return e
}

// Emit pushes payload onto the topic's replay ring, best-effort logs it,
// then fans it out to live subscribers outside the table's lock. It
// returns the number of subscribers that received it synchronously; zero
// is a valid result, not an error.
func (t *Table) Emit(projectID uuid.UUID, topic string, payload []byte) int {
	msg := make([]byte, len(payload))
	copy(msg, payload)

	t.mu.Lock()
	e := t.getOrCreate(key{projectID, topic})
	e.ring.push(msg)
	bc := e.bc
	t.mu.Unlock()

	if t.appender != nil {
		// Best effort: a busy logger must never block or fail an emit.
		_ = t.appender.Append(projectID, topic, msg)
	}

	return bc.send(msg)
}

// Subscription is a live view onto a channel's fan-out stream.
type Subscription struct {
	Messages <-chan []byte

	id    uint64
	bc    *broadcaster
	once  sync.Once
}

// Close releases the subscriber's slot in the broadcaster. Safe to call
// more than once.
func (s *Subscription) Close() {
	s.once.Do(func() { s.bc.unsubscribe(s.id) })
}

// Subscribe registers a live subscriber and returns it together with a
// snapshot of the topic's replay history.
//
// The history snapshot is captured before the live subscriber is
// registered, under the same lock acquisition, so a message emitted
// concurrently either lands in the snapshot or is delivered on Messages —
// never both, never neither. This mirrors subscribe_broadcast's own
// ordering guarantee in the original.
func (t *Table) Subscribe(projectID uuid.UUID, topic string) (*Subscription, [][]byte) {
	t.mu.Lock()
	e := t.getOrCreate(key{projectID, topic})
	history := e.ring.getAll()
	id, ch := e.bc.subscribe()
	bc := e.bc
	t.mu.Unlock()

	return &Subscription{Messages: ch, id: id, bc: bc}, history
}

// ListChannels returns the sorted topic list for a project that has at
// least one channel (created implicitly by a prior Emit or Subscribe).
func (t *Table) ListChannels(projectID uuid.UUID) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	topics := make([]string, 0)
	for k := range t.channels {
		if k.project == projectID {
			topics = append(topics, k.topic)
		}
	}
	sort.Strings(topics)
	return topics
}

// ChannelStat is one row of Table.ChannelStats.
type ChannelStat struct {
	Topic           string `json:"topic"`
	ReplayLen       int    `json:"replay_len"`
	SubscriberCount int    `json:"subscriber_count"`
}

// ChannelStats reports replay depth and live subscriber count for every
// channel of a project, sorted by topic.
func (t *Table) ChannelStats(projectID uuid.UUID) []ChannelStat {
	t.mu.Lock()
	type row struct {
		topic string
		e     *entry
	}
	rows := make([]row, 0)
	for k, e := range t.channels {
		if k.project == projectID {
			rows = append(rows, row{k.topic, e})
		}
	}
	t.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool { return rows[i].topic < rows[j].topic })

	stats := make([]ChannelStat, len(rows))
	for i, r := range rows {
		stats[i] = ChannelStat{
			Topic:           r.topic,
			ReplayLen:       r.e.ring.len(),
			SubscriberCount: r.e.bc.receiverCount(),
		}
	}
	return stats
}

// ClearAll drops every channel, its history and its live subscribers.
// Test-only, matching the original's clear_all_channels.
func (t *Table) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.channels {
		e.bc.mu.Lock()
		for id, ch := range e.bc.subs {
			delete(e.bc.subs, id)
			close(ch)
		}
		e.bc.mu.Unlock()
	}
	t.channels = make(map[key]*entry)
}
