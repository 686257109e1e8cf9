// Package events fans out store changes to in-process subscribers.
package events

import (
	"sync"
	"time"
)

type Kind string

const (
	Created  Kind = "created"
	Updated  Kind = "updated"
	Deleted  Kind = "deleted"
	Replaced Kind = "replaced"
)

type Entity string

const (
	EntityUser     Entity = "user"
	EntityProject  Entity = "project"
	EntityTask     Entity = "task"
	EntityComment  Entity = "comment"
	EntityAgenda   Entity = "agenda"
	EntitySnapshot Entity = "snapshot"
)

// Change describes one committed mutation. Changes without a ProjectID reach every subscriber.
type Change struct {
	Seq       int64     `json:"seq"`
	Kind      Kind      `json:"kind"`
	Entity    Entity    `json:"entity"`
	ProjectID string    `json:"projectId,omitempty"`
	EntityID  string    `json:"entityId,omitempty"`
	At        time.Time `json:"at"`
}

// Type is the dotted event name used by webhook filters, e.g. "project.updated".
func (c Change) Type() string {
	return string(c.Entity) + "." + string(c.Kind)
}

// Publisher receives changes after they are committed.
type Publisher interface {
	Publish(Change)
}

type subscriber struct {
	key string
	fn  func(Change)
}

// Hub is a Publisher that delivers changes synchronously to subscribers keyed by project.
type Hub struct {
	Now func() time.Time

	mu   sync.Mutex
	seq  int64
	next int
	subs map[int]subscriber
}

func NewHub() *Hub {
	return &Hub{Now: time.Now, subs: make(map[int]subscriber)}
}

// Subscribe registers fn for changes to projectID. An empty projectID follows everything.
func (h *Hub) Subscribe(projectID string, fn func(Change)) (unsubscribe func()) {
	h.mu.Lock()
	if h.subs == nil {
		h.subs = make(map[int]subscriber)
	}
	id := h.next
	h.next++
	h.subs[id] = subscriber{key: projectID, fn: fn}
	h.mu.Unlock()
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
		})
	}
}

func (h *Hub) Publish(c Change) {
	h.mu.Lock()
	h.seq++
	c.Seq = h.seq
	if c.At.IsZero() {
		now := time.Now
		if h.Now != nil {
			now = h.Now
		}
		c.At = now().UTC()
	}
	targets := make([]func(Change), 0, len(h.subs))
	for _, s := range h.subs {
		if s.key == "" || c.ProjectID == "" || s.key == c.ProjectID {
			targets = append(targets, s.fn)
		}
	}
	h.mu.Unlock()
	for _, fn := range targets {
		fn(c)
	}
}

// Subscribers reports how many subscriptions are active.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Discard drops every change.
type Discard struct{}

func (Discard) Publish(Change) {}
