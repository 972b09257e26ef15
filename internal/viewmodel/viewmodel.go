// Package viewmodel shapes conversation data for list rendering: one item
// per conversation with the counterparty's resolved name, avatar, and unread
// flag, filterable by a case-insensitive search query.
package viewmodel

import (
	"context"
	"strings"
	"sync"

	"github.com/freelancehub/convo/internal/chat"
	"github.com/freelancehub/convo/internal/directory"
	"github.com/freelancehub/convo/internal/store"
	"go.uber.org/zap"
)

// Item is one row of the conversation list as seen by the current user.
type Item struct {
	Conversation   chat.Conversation `json:"conversation"`
	CounterpartyID string            `json:"counterpartyId"`
	DisplayName    string            `json:"displayName"`
	AvatarURL      string            `json:"avatarUrl,omitempty"`
	Unread         bool              `json:"unread"`
}

// BuildList shapes conversations into list items for userID. The display
// name resolves through the fallback chain: cached per-conversation snapshot,
// then the profile cache, then the raw counterparty id.
func BuildList(convs []chat.Conversation, profiles map[string]chat.Profile, userID string) []Item {
	items := make([]Item, 0, len(convs))
	for _, c := range convs {
		other := c.Other(userID)
		name := c.OtherName(userID)
		var avatar string
		if p, ok := profiles[other]; ok {
			if name == "" {
				name = p.DisplayName
			}
			avatar = p.AvatarURL
		}
		if name == "" {
			name = other
		}
		items = append(items, Item{
			Conversation:   c,
			CounterpartyID: other,
			DisplayName:    name,
			AvatarURL:      avatar,
			Unread:         c.UnreadFor(userID),
		})
	}
	return items
}

// Filter returns the items whose display name or last message contains query,
// case-insensitively. An empty query returns everything. Relative order is
// preserved.
func Filter(items []Item, query string) []Item {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return items
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if strings.Contains(strings.ToLower(it.DisplayName), q) ||
			strings.Contains(strings.ToLower(it.Conversation.LastMessage), q) {
			out = append(out, it)
		}
	}
	return out
}

// Model caches the live conversation list for one user and signals UI
// refreshes when it changes.
type Model struct {
	mu sync.RWMutex

	dir    *directory.Service
	db     *store.DB
	logger *zap.Logger
	userID string

	items []Item
	query string

	refreshCh chan struct{}
	cancel    func()
}

// NewModel creates a list view-model for userID.
func NewModel(dir *directory.Service, db *store.DB, userID string, logger *zap.Logger) *Model {
	return &Model{
		dir:       dir,
		db:        db,
		logger:    logger,
		userID:    userID,
		refreshCh: make(chan struct{}, 1),
	}
}

// RefreshCh returns the channel that signals UI refresh.
func (m *Model) RefreshCh() <-chan struct{} {
	return m.refreshCh
}

func (m *Model) signalRefresh() {
	select {
	case m.refreshCh <- struct{}{}:
	default:
	}
}

// Start subscribes to the user's conversation stream and keeps the item list
// current until ctx ends or Stop is called.
func (m *Model) Start(ctx context.Context) {
	updates, cancel := m.dir.SubscribeForUser(ctx, m.userID)
	m.cancel = cancel

	go func() {
		for u := range updates {
			if u.Err != nil {
				m.logger.Warn("conversation stream failed", zap.Error(u.Err))
				return
			}
			m.apply(u.Conversations)
		}
	}()
}

// Stop tears down the subscription.
func (m *Model) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
}

func (m *Model) apply(convs []chat.Conversation) {
	ids := make([]string, 0, len(convs))
	for _, c := range convs {
		ids = append(ids, c.Other(m.userID))
	}
	profiles, err := m.db.ProfilesByID(ids)
	if err != nil {
		m.logger.Warn("failed to load profiles", zap.Error(err))
		profiles = nil
	}

	m.mu.Lock()
	m.items = BuildList(convs, profiles, m.userID)
	m.mu.Unlock()
	m.signalRefresh()
}

// SetQuery updates the search filter.
func (m *Model) SetQuery(query string) {
	m.mu.Lock()
	m.query = query
	m.mu.Unlock()
	m.signalRefresh()
}

// Items returns the current list after applying the search filter.
func (m *Model) Items() []Item {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Filter(m.items, m.query)
}
