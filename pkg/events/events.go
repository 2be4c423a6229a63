// Package events fans out scout state changes to live subscribers.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/ignatij/goscout/pkg/models"
)

const (
	InitialStatus = "initial_status"
	ScoutUpdate   = "scout_update"
)

type Progress struct {
	TotalTodos         int     `json:"totalTodos"`
	CompletedTodos     int     `json:"completedTodos"`
	ProgressPercentage float64 `json:"progressPercentage"`
}

type ScoutView struct {
	ID        string             `json:"id"`
	UserQuery string             `json:"userQuery"`
	Status    models.ScoutStatus `json:"status"`
	Progress  Progress           `json:"progress"`
}

type TodoView struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	Status    models.TodoStatus `json:"status"`
	AgentType models.AgentType  `json:"agentType"`
}

// Event is one message of the update feed.
type Event struct {
	Type       string            `json:"type"`
	Scout      ScoutView         `json:"scout"`
	Todos      []TodoView        `json:"todos"`
	RecentLogs []models.LogEntry `json:"recentLogs,omitempty"`
	Timestamp  time.Time         `json:"timestamp"`
}

// Publisher is what mutating components need from the hub.
type Publisher interface {
	Publish(scoutID string, ev Event)
}

type subscriber chan []byte

// Hub keeps per-scout subscriber sets. Slow subscribers lose messages
// instead of blocking publishers.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[subscriber]struct{}

	// OnSubscribe and OnPublish are optional counters hooks.
	OnSubscribe func(delta int)
	OnPublish   func()
	// OnError is told about events that could not be encoded.
	OnError func(scoutID string, err error)
}

func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[subscriber]struct{})}
}

// Subscribe registers a listener for scoutID. The returned func unsubscribes
// and closes the channel; it is safe to call more than once.
func (h *Hub) Subscribe(scoutID string) (<-chan []byte, func()) {
	ch := make(subscriber, 16)
	h.mu.Lock()
	set := h.subs[scoutID]
	if set == nil {
		set = make(map[subscriber]struct{})
		h.subs[scoutID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()
	if h.OnSubscribe != nil {
		h.OnSubscribe(1)
	}

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[scoutID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, scoutID)
				}
			}
			close(ch)
			h.mu.Unlock()
			if h.OnSubscribe != nil {
				h.OnSubscribe(-1)
			}
		})
	}
}

func (h *Hub) Publish(scoutID string, ev Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	b, err := json.Marshal(ev)
	if err != nil {
		if h.OnError != nil {
			h.OnError(scoutID, err)
		}
		return
	}
	if h.OnPublish != nil {
		h.OnPublish()
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for ch := range h.subs[scoutID] {
		select {
		case ch <- b:
		default:
		}
	}
}

// Subscribers returns the number of listeners for scoutID.
func (h *Hub) Subscribers(scoutID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[scoutID])
}
