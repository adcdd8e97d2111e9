package agent

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/llms"
)

// ToolArgs are the arguments of a search_icd10_code call.
type ToolArgs struct {
	Symptoms string `json:"symptoms"`
}

// ToolCall is a tool invocation proposed by the model.
type ToolCall struct {
	ID   string   `json:"id"`
	Name string   `json:"name"`
	Args ToolArgs `json:"args"`
}

// Interrupt is a paused conversation waiting for a human decision.
type Interrupt struct {
	ID        string    `json:"interrupt_id"`
	ToolCall  ToolCall  `json:"tool_call"`
	CreatedAt time.Time `json:"created_at"`

	messages []llms.MessageContent
}

// InterruptStore keeps paused conversations until they are resumed or rejected.
type InterruptStore struct {
	mu    sync.Mutex
	items map[string]*Interrupt
}

func NewInterruptStore() *InterruptStore {
	return &InterruptStore{items: make(map[string]*Interrupt)}
}

// Put stores it under a fresh id and returns that id.
func (s *InterruptStore) Put(it *Interrupt) string {
	it.ID = uuid.NewString()
	if it.CreatedAt.IsZero() {
		it.CreatedAt = time.Now().UTC()
	}
	s.mu.Lock()
	s.items[it.ID] = it
	s.mu.Unlock()
	return it.ID
}

// Take removes and returns the interrupt.
func (s *InterruptStore) Take(id string) (*Interrupt, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	it, ok := s.items[id]
	if ok {
		delete(s.items, id)
	}
	return it, ok
}

// Prune drops interrupts created before cutoff and returns how many were removed.
func (s *InterruptStore) Prune(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, it := range s.items {
		if it.CreatedAt.Before(cutoff) {
			delete(s.items, id)
			n++
		}
	}
	return n
}

func (s *InterruptStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}
