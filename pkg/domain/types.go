package domain

import "time"

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type Side string

const (
	SideProsecution Side = "prosecution"
	SideDefense     Side = "defense"
)

// Valid reports whether s is one of the supported argument sides.
func (s Side) Valid() bool {
	return s == SideProsecution || s == SideDefense
}

type User struct {
	ID           uint64    `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"-"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"createdAt"`
}

type DocumentMetadata struct {
	OriginalName string `json:"originalName"`
	Size         int64  `json:"size"`
	ChunkCount   int    `json:"chunkCount"`
	StorageKey   string `json:"-"`
}

type Document struct {
	ID        uint64           `json:"id"`
	UserID    uint64           `json:"userId"`
	Title     string           `json:"title"`
	Content   string           `json:"-"`
	Metadata  DocumentMetadata `json:"metadata"`
	CreatedAt time.Time        `json:"createdAt"`
}

// DocumentSummary is the public view of a document; the extracted text never leaves the server.
type DocumentSummary struct {
	ID        uint64           `json:"id"`
	Title     string           `json:"title"`
	Metadata  DocumentMetadata `json:"metadata"`
	CreatedAt time.Time        `json:"createdAt"`
}

func (d Document) Summary() DocumentSummary {
	return DocumentSummary{ID: d.ID, Title: d.Title, Metadata: d.Metadata, CreatedAt: d.CreatedAt}
}

type Chat struct {
	ID         uint64    `json:"id"`
	UserID     uint64    `json:"userId"`
	DocumentID uint64    `json:"documentId"`
	CreatedAt  time.Time `json:"createdAt"`
}

type Message struct {
	ID        uint64      `json:"id"`
	ChatID    uint64      `json:"chatId"`
	Content   string      `json:"content"`
	Role      MessageRole `json:"role"`
	CreatedAt time.Time   `json:"timestamp"`
}

type CaseDetails struct {
	Title        string `json:"title"`
	Jurisdiction string `json:"jurisdiction"`
	Type         string `json:"type"`
	Acts         string `json:"acts"`
	Facts        string `json:"facts"`
	Side         Side   `json:"side"`
}

type Argument struct {
	ID               uint64      `json:"id"`
	UserID           uint64      `json:"userId"`
	Title            string      `json:"title"`
	CaseDetails      CaseDetails `json:"caseDetails"`
	GeneratedContent string      `json:"generatedContent"`
	CreatedAt        time.Time   `json:"createdAt"`
}

type ArgumentSummary struct {
	ID        uint64    `json:"id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"createdAt"`
}

func (a Argument) Summary() ArgumentSummary {
	return ArgumentSummary{ID: a.ID, Title: a.Title, CreatedAt: a.CreatedAt}
}

// ResultSection is a placeholder for structured search results (acts, cases, commentaries).
type ResultSection struct {
	Results []string `json:"results"`
	Total   int      `json:"total"`
}

type StructuredResults struct {
	Acts         ResultSection `json:"acts"`
	Cases        ResultSection `json:"cases"`
	Commentaries ResultSection `json:"commentaries"`
}

type SearchResults struct {
	Response string            `json:"response"`
	Results  StructuredResults `json:"results"`
}

// NewSearchResults wraps a generated explanation with empty structured sections.
func NewSearchResults(response string) SearchResults {
	return SearchResults{
		Response: response,
		Results: StructuredResults{
			Acts:         ResultSection{Results: []string{}},
			Cases:        ResultSection{Results: []string{}},
			Commentaries: ResultSection{Results: []string{}},
		},
	}
}

type LawSearch struct {
	ID        uint64        `json:"id"`
	UserID    uint64        `json:"userId"`
	Query     string        `json:"query"`
	Filters   []string      `json:"filters,omitempty"`
	Results   SearchResults `json:"results"`
	CreatedAt time.Time     `json:"createdAt"`
}

type LawSearchSummary struct {
	ID        uint64    `json:"id"`
	Query     string    `json:"query"`
	CreatedAt time.Time `json:"createdAt"`
}

func (s LawSearch) Summary() LawSearchSummary {
	return LawSearchSummary{ID: s.ID, Query: s.Query, CreatedAt: s.CreatedAt}
}

type ChunkMetadata struct {
	DocumentID uint64 `json:"documentId"`
	ChunkIndex int    `json:"chunkIndex"`
}

type Chunk struct {
	Text     string        `json:"text"`
	Metadata ChunkMetadata `json:"metadata"`
}

type RetrievedChunk struct {
	Chunk
	Score float64 `json:"score"`
}
