package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"lexai/pkg/domain"
)

// MemoryStore keeps every entity in process memory behind one RWMutex.
// It is used for local runs and tests; data is lost on restart.
type MemoryStore struct {
	mu sync.RWMutex

	users     map[uint64]domain.User
	usernames map[string]uint64
	emails    map[string]uint64
	documents map[uint64]domain.Document
	chats     map[uint64]domain.Chat
	messages  map[uint64][]domain.Message // key: chat ID, append order
	arguments map[uint64]domain.Argument
	searches  map[uint64]domain.LawSearch

	nextUser, nextDocument, nextChat, nextMessage, nextArgument, nextSearch uint64

	lastMessageAt time.Time
	now           func() time.Time
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:     make(map[uint64]domain.User),
		usernames: make(map[string]uint64),
		emails:    make(map[string]uint64),
		documents: make(map[uint64]domain.Document),
		chats:     make(map[uint64]domain.Chat),
		messages:  make(map[uint64][]domain.Message),
		arguments: make(map[uint64]domain.Argument),
		searches:  make(map[uint64]domain.LawSearch),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateUser registers a user; username and email are unique (case-insensitive).
func (m *MemoryStore) CreateUser(_ context.Context, u NewUser) (domain.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	nameKey := foldKey(u.Username)
	emailKey := foldKey(u.Email)
	if _, exists := m.usernames[nameKey]; exists {
		return domain.User{}, ErrConflict
	}
	if _, exists := m.emails[emailKey]; exists {
		return domain.User{}, ErrConflict
	}
	m.nextUser++
	user := domain.User{
		ID:           m.nextUser,
		Username:     u.Username,
		PasswordHash: u.PasswordHash,
		Email:        u.Email,
		Name:         u.Name,
		CreatedAt:    m.now(),
	}
	m.users[user.ID] = user
	m.usernames[nameKey] = user.ID
	m.emails[emailKey] = user.ID
	return user, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id uint64) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) GetUserByUsername(_ context.Context, username string) (domain.User, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.usernames[foldKey(username)]
	if !ok {
		return domain.User{}, false, nil
	}
	u, ok := m.users[id]
	return u, ok, nil
}

func (m *MemoryStore) CreateDocument(_ context.Context, d NewDocument) (domain.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextDocument++
	doc := domain.Document{
		ID:        m.nextDocument,
		UserID:    d.UserID,
		Title:     d.Title,
		Content:   d.Content,
		Metadata:  d.Metadata,
		CreatedAt: m.now(),
	}
	m.documents[doc.ID] = doc
	return doc, nil
}

func (m *MemoryStore) GetDocument(_ context.Context, id uint64) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

// ListDocumentsByUser returns the user's documents, newest first.
func (m *MemoryStore) ListDocumentsByUser(_ context.Context, userID uint64) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for _, d := range m.documents {
		if d.UserID == userID {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

// DeleteDocument removes the document together with its chats and messages.
func (m *MemoryStore) DeleteDocument(_ context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[id]; !ok {
		return false, nil
	}
	delete(m.documents, id)
	for chatID, chat := range m.chats {
		if chat.DocumentID == id {
			delete(m.chats, chatID)
			delete(m.messages, chatID)
		}
	}
	return true, nil
}

func (m *MemoryStore) CreateChat(_ context.Context, userID, documentID uint64) (domain.Chat, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.documents[documentID]; !ok {
		return domain.Chat{}, ErrNotFound
	}
	m.nextChat++
	chat := domain.Chat{
		ID:         m.nextChat,
		UserID:     userID,
		DocumentID: documentID,
		CreatedAt:  m.now(),
	}
	m.chats[chat.ID] = chat
	return chat, nil
}

func (m *MemoryStore) GetChat(_ context.Context, id uint64) (domain.Chat, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.chats[id]
	return c, ok, nil
}

func (m *MemoryStore) ListChatsByDocument(_ context.Context, documentID uint64) ([]domain.Chat, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Chat, 0)
	for _, c := range m.chats {
		if c.DocumentID == documentID {
			res = append(res, c)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res, nil
}

// CreateMessage appends a message; timestamps are strictly increasing across the store.
func (m *MemoryStore) CreateMessage(_ context.Context, chatID uint64, role domain.MessageRole, content string) (domain.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.chats[chatID]; !ok {
		return domain.Message{}, ErrNotFound
	}
	now := m.now().Truncate(time.Microsecond)
	if !now.After(m.lastMessageAt) {
		now = m.lastMessageAt.Add(time.Microsecond)
	}
	m.lastMessageAt = now
	m.nextMessage++
	msg := domain.Message{
		ID:        m.nextMessage,
		ChatID:    chatID,
		Content:   content,
		Role:      role,
		CreatedAt: now,
	}
	m.messages[chatID] = append(m.messages[chatID], msg)
	return msg, nil
}

func (m *MemoryStore) ListMessagesByChat(_ context.Context, chatID uint64) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[chatID]
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	return res, nil
}

func (m *MemoryStore) CreateArgument(_ context.Context, a NewArgument) (domain.Argument, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextArgument++
	arg := domain.Argument{
		ID:               m.nextArgument,
		UserID:           a.UserID,
		Title:            a.Title,
		CaseDetails:      a.CaseDetails,
		GeneratedContent: a.GeneratedContent,
		CreatedAt:        m.now(),
	}
	m.arguments[arg.ID] = arg
	return arg, nil
}

func (m *MemoryStore) GetArgument(_ context.Context, id uint64) (domain.Argument, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.arguments[id]
	return a, ok, nil
}

func (m *MemoryStore) ListArgumentsByUser(_ context.Context, userID uint64) ([]domain.Argument, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Argument, 0)
	for _, a := range m.arguments {
		if a.UserID == userID {
			res = append(res, a)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (m *MemoryStore) DeleteArgument(_ context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.arguments[id]; !ok {
		return false, nil
	}
	delete(m.arguments, id)
	return true, nil
}

func (m *MemoryStore) CreateLawSearch(_ context.Context, s NewLawSearch) (domain.LawSearch, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSearch++
	search := domain.LawSearch{
		ID:        m.nextSearch,
		UserID:    s.UserID,
		Query:     s.Query,
		Filters:   append([]string(nil), s.Filters...),
		Results:   s.Results,
		CreatedAt: m.now(),
	}
	m.searches[search.ID] = search
	return search, nil
}

func (m *MemoryStore) GetLawSearch(_ context.Context, id uint64) (domain.LawSearch, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.searches[id]
	return s, ok, nil
}

func (m *MemoryStore) ListLawSearchesByUser(_ context.Context, userID uint64) ([]domain.LawSearch, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.LawSearch, 0)
	for _, s := range m.searches {
		if s.UserID == userID {
			res = append(res, s)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID > res[j].ID })
	return res, nil
}

func (m *MemoryStore) DeleteLawSearch(_ context.Context, id uint64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.searches[id]; !ok {
		return false, nil
	}
	delete(m.searches, id)
	return true, nil
}

func (m *MemoryStore) Close() error { return nil }

func foldKey(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
