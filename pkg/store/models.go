package store

import (
	"time"

	"gorm.io/datatypes"
	"lexai/pkg/domain"
)

// GORM models used for persistence.
type UserModel struct {
	ID           uint64    `gorm:"primaryKey;autoIncrement"`
	Username     string    `gorm:"size:64;uniqueIndex;not null"`
	PasswordHash string    `gorm:"not null"`
	Email        string    `gorm:"size:255;uniqueIndex;not null"`
	Name         string    `gorm:"not null"`
	CreatedAt    time.Time `gorm:"not null"`
}

func (UserModel) TableName() string { return "users" }

type DocumentModel struct {
	ID         uint64                                     `gorm:"primaryKey;autoIncrement"`
	UserID     uint64                                     `gorm:"not null;index"`
	Title      string                                     `gorm:"not null"`
	Content    string                                     `gorm:"type:text;not null"`
	Metadata   datatypes.JSONType[domain.DocumentMetadata] `gorm:"not null"`
	StorageKey string
	CreatedAt  time.Time `gorm:"not null"`
}

func (DocumentModel) TableName() string { return "documents" }

type ChatModel struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	UserID     uint64    `gorm:"not null;index"`
	DocumentID uint64    `gorm:"not null;index"`
	CreatedAt  time.Time `gorm:"not null"`
}

func (ChatModel) TableName() string { return "chats" }

type MessageModel struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	ChatID    uint64    `gorm:"not null;index:idx_messages_chat_created,priority:1"`
	Content   string    `gorm:"type:text;not null"`
	Role      string    `gorm:"size:16;not null"`
	CreatedAt time.Time `gorm:"not null;index:idx_messages_chat_created,priority:2"`
}

func (MessageModel) TableName() string { return "messages" }

type ArgumentModel struct {
	ID               uint64                                `gorm:"primaryKey;autoIncrement"`
	UserID           uint64                                `gorm:"not null;index"`
	Title            string                                `gorm:"not null"`
	CaseDetails      datatypes.JSONType[domain.CaseDetails] `gorm:"not null"`
	GeneratedContent string                                `gorm:"type:text;not null"`
	CreatedAt        time.Time                             `gorm:"not null"`
}

func (ArgumentModel) TableName() string { return "arguments" }

type LawSearchModel struct {
	ID        uint64                                  `gorm:"primaryKey;autoIncrement"`
	UserID    uint64                                  `gorm:"not null;index"`
	Query     string                                  `gorm:"type:text;not null"`
	Filters   datatypes.JSONSlice[string]
	Results   datatypes.JSONType[domain.SearchResults] `gorm:"not null"`
	CreatedAt time.Time                               `gorm:"not null"`
}

func (LawSearchModel) TableName() string { return "law_searches" }

func userFromModel(m UserModel) domain.User {
	return domain.User{
		ID:           m.ID,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		Email:        m.Email,
		Name:         m.Name,
		CreatedAt:    m.CreatedAt.UTC(),
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	meta := m.Metadata.Data()
	meta.StorageKey = m.StorageKey
	return domain.Document{
		ID:        m.ID,
		UserID:    m.UserID,
		Title:     m.Title,
		Content:   m.Content,
		Metadata:  meta,
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func chatFromModel(m ChatModel) domain.Chat {
	return domain.Chat{
		ID:         m.ID,
		UserID:     m.UserID,
		DocumentID: m.DocumentID,
		CreatedAt:  m.CreatedAt.UTC(),
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:        m.ID,
		ChatID:    m.ChatID,
		Content:   m.Content,
		Role:      domain.MessageRole(m.Role),
		CreatedAt: m.CreatedAt.UTC(),
	}
}

func argumentFromModel(m ArgumentModel) domain.Argument {
	return domain.Argument{
		ID:               m.ID,
		UserID:           m.UserID,
		Title:            m.Title,
		CaseDetails:      m.CaseDetails.Data(),
		GeneratedContent: m.GeneratedContent,
		CreatedAt:        m.CreatedAt.UTC(),
	}
}

func lawSearchFromModel(m LawSearchModel) domain.LawSearch {
	var filters []string
	if len(m.Filters) > 0 {
		filters = []string(m.Filters)
	}
	return domain.LawSearch{
		ID:        m.ID,
		UserID:    m.UserID,
		Query:     m.Query,
		Filters:   filters,
		Results:   m.Results.Data(),
		CreatedAt: m.CreatedAt.UTC(),
	}
}
