package store

import (
	"context"
	"errors"
	"strings"

	"lexai/pkg/domain"
)

var (
	// ErrConflict is returned when a unique field (username, email) is already taken.
	ErrConflict = errors.New("store: conflict")
	// ErrNotFound is returned when a referenced parent row does not exist.
	ErrNotFound = errors.New("store: not found")
)

type NewUser struct {
	Username     string
	PasswordHash string
	Email        string
	Name         string
}

type NewDocument struct {
	UserID   uint64
	Title    string
	Content  string
	Metadata domain.DocumentMetadata
}

type NewArgument struct {
	UserID           uint64
	Title            string
	CaseDetails      domain.CaseDetails
	GeneratedContent string
}

type NewLawSearch struct {
	UserID  uint64
	Query   string
	Filters []string
	Results domain.SearchResults
}

// Store defines persistence operations for every entity.
// Ids and creation timestamps are always assigned by the implementation.
// Get methods report absence through the bool result, never through an error.
// Delete methods report whether a row was removed and are idempotent.
type Store interface {
	// users
	CreateUser(ctx context.Context, u NewUser) (domain.User, error)
	GetUser(ctx context.Context, id uint64) (domain.User, bool, error)
	GetUserByUsername(ctx context.Context, username string) (domain.User, bool, error)

	// documents
	CreateDocument(ctx context.Context, d NewDocument) (domain.Document, error)
	GetDocument(ctx context.Context, id uint64) (domain.Document, bool, error)
	ListDocumentsByUser(ctx context.Context, userID uint64) ([]domain.Document, error)
	// DeleteDocument also removes the document's chats and their messages.
	DeleteDocument(ctx context.Context, id uint64) (bool, error)

	// chats
	CreateChat(ctx context.Context, userID, documentID uint64) (domain.Chat, error)
	GetChat(ctx context.Context, id uint64) (domain.Chat, bool, error)
	// ListChatsByDocument returns chats oldest first.
	ListChatsByDocument(ctx context.Context, documentID uint64) ([]domain.Chat, error)

	// messages
	CreateMessage(ctx context.Context, chatID uint64, role domain.MessageRole, content string) (domain.Message, error)
	// ListMessagesByChat returns messages in conversation order.
	ListMessagesByChat(ctx context.Context, chatID uint64) ([]domain.Message, error)

	// arguments
	CreateArgument(ctx context.Context, a NewArgument) (domain.Argument, error)
	GetArgument(ctx context.Context, id uint64) (domain.Argument, bool, error)
	ListArgumentsByUser(ctx context.Context, userID uint64) ([]domain.Argument, error)
	DeleteArgument(ctx context.Context, id uint64) (bool, error)

	// law searches
	CreateLawSearch(ctx context.Context, s NewLawSearch) (domain.LawSearch, error)
	GetLawSearch(ctx context.Context, id uint64) (domain.LawSearch, bool, error)
	ListLawSearchesByUser(ctx context.Context, userID uint64) ([]domain.LawSearch, error)
	DeleteLawSearch(ctx context.Context, id uint64) (bool, error)

	Close() error
}

// Open returns a MemoryStore for an empty or "memory" DSN and a GormStore otherwise.
func Open(dsn string) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(dsn)) {
	case "", "memory", "mem":
		return NewMemoryStore(), nil
	}
	return NewGormStore(dsn)
}
