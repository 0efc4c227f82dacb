// Package memory holds the per-user conversational state: the short-TTL
// follow-up slots, the recap ring and the chat-history window. All of it is
// advisory UX continuity, not a ledger: same-user races are last-writer-wins
// and no store offers transactions across reads and writes.
package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/Wattine-core-poc/server/internal/assistant/model"
	"github.com/cloudwego/eino/schema"
)

// FollowUpMemory is the in-process follow-up store. TTL is checked at read
// time and expired entries are evicted lazily; no background sweeper.
type FollowUpMemory struct {
	mu    sync.Mutex
	ttl   time.Duration
	now   func() time.Time
	store map[string]*model.FollowUpState
}

func NewFollowUpMemory(ttl time.Duration) *FollowUpMemory {
	if ttl < 5*time.Second {
		ttl = 5 * time.Second
	}
	return &FollowUpMemory{
		ttl:   ttl,
		now:   time.Now,
		store: make(map[string]*model.FollowUpState),
	}
}

// WithClock overrides the time source. Test seam.
func (m *FollowUpMemory) WithClock(now func() time.Time) *FollowUpMemory {
	m.now = now
	return m
}

func (m *FollowUpMemory) GetIfFresh(_ context.Context, userID string) (*model.FollowUpState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.store[userID]
	if !ok {
		return nil, nil
	}
	if m.now().Sub(st.CreatedAt) > m.ttl {
		delete(m.store, userID)
		return nil, nil
	}
	cp := *st
	return &cp, nil
}

func (m *FollowUpMemory) Set(_ context.Context, userID string, state *model.FollowUpState) error {
	if state == nil {
		return nil
	}
	cp := *state
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = m.now()
	}
	m.mu.Lock()
	m.store[userID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *FollowUpMemory) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.store, userID)
	m.mu.Unlock()
	return nil
}

// RecapMemory keeps a bounded ring of human-readable recap lines per user,
// dropping consecutive duplicates.
type RecapMemory struct {
	mu       sync.Mutex
	maxLines int
	store    map[string][]string
}

func NewRecapMemory(maxLines int) *RecapMemory {
	if maxLines < 4 {
		maxLines = 4
	}
	return &RecapMemory{maxLines: maxLines, store: make(map[string][]string)}
}

func (m *RecapMemory) AppendLine(_ context.Context, userID string, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.store[userID]
	if len(q) > 0 && q[len(q)-1] == line {
		return nil
	}
	q = append(q, line)
	if len(q) > m.maxLines {
		q = q[len(q)-m.maxLines:]
	}
	m.store[userID] = q
	return nil
}

func (m *RecapMemory) Recap(_ context.Context, userID string) (string, error) {
	m.mu.Lock()
	q := m.store[userID]
	m.mu.Unlock()
	return renderRecap(q), nil
}

func (m *RecapMemory) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.store, userID)
	m.mu.Unlock()
	return nil
}

// HistoryBuffer is the small sliding window of recent messages, used only to
// keep SMALLTALK/GENERAL prompts coherent.
type HistoryBuffer struct {
	mu          sync.Mutex
	maxMessages int
	store       map[string][]*schema.Message
}

func NewHistoryBuffer(maxMessages int) *HistoryBuffer {
	if maxMessages < 4 {
		maxMessages = 4
	}
	return &HistoryBuffer{maxMessages: maxMessages, store: make(map[string][]*schema.Message)}
}

func (m *HistoryBuffer) AppendMessage(_ context.Context, userID string, msg *schema.Message) error {
	if msg == nil || msg.Content == "" {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	q := append(m.store[userID], msg)
	if len(q) > m.maxMessages {
		q = q[len(q)-m.maxMessages:]
	}
	m.store[userID] = q
	return nil
}

func (m *HistoryBuffer) Window(_ context.Context, userID string) ([]*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q := m.store[userID]
	out := make([]*schema.Message, len(q))
	copy(out, q)
	return out, nil
}

func (m *HistoryBuffer) Clear(_ context.Context, userID string) error {
	m.mu.Lock()
	delete(m.store, userID)
	m.mu.Unlock()
	return nil
}

func renderRecap(lines []string) string {
	if len(lines) == 0 {
		return "No prior discussion yet."
	}
	return "So far:\n- " + strings.Join(lines, "\n- ")
}
