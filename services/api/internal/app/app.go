package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
	"lexai/internal/metrics"
	"lexai/internal/ratelimit"
	"lexai/internal/usertoken"
	"lexai/internal/util"
	"lexai/pkg/auth"
	"lexai/pkg/domain"
	"lexai/pkg/generation"
	"lexai/pkg/ingest"
	"lexai/pkg/retrieval"
	"lexai/pkg/storage"
	"lexai/pkg/store"
)

const defaultExternalTimeout = 30 * time.Second

// Config holds the collaborators of the application service.
type Config struct {
	Store      store.Store
	Tokens     *usertoken.Service
	Limiter    ratelimit.Limiter
	Retrieval  *retrieval.Engine
	Generation *generation.Engine
	// Objects keeps the uploaded PDF bytes. Nil disables object storage.
	Objects        storage.ObjectStore
	Chunker        ingest.Chunker
	TopK           int
	MaxUploadBytes int64
	// ExternalTimeout bounds embedding, vector index and object storage calls.
	ExternalTimeout time.Duration
	Metrics         *metrics.Metrics
}

// App implements the LexAI operations on top of storage, retrieval and generation.
type App struct {
	store           store.Store
	tokens          *usertoken.Service
	limiter         ratelimit.Limiter
	retrieval       *retrieval.Engine
	generation      *generation.Engine
	objects         storage.ObjectStore
	chunker         ingest.Chunker
	topK            int
	maxUploadBytes  int64
	externalTimeout time.Duration
	metrics         *metrics.Metrics
	chats           singleflight.Group
}

// New validates cfg and builds the application service.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, errors.New("store required")
	}
	if cfg.Tokens == nil {
		return nil, errors.New("token service required")
	}
	if cfg.Limiter == nil {
		return nil, errors.New("rate limiter required")
	}
	if cfg.Retrieval == nil {
		return nil, errors.New("retrieval engine required")
	}
	if cfg.Generation == nil {
		return nil, errors.New("generation engine required")
	}
	chunker := cfg.Chunker
	if chunker.Size <= 0 {
		chunker = ingest.NewChunker(ingest.DefaultChunkSize, ingest.DefaultChunkOverlap)
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}
	timeout := cfg.ExternalTimeout
	if timeout <= 0 {
		timeout = defaultExternalTimeout
	}
	return &App{
		store:           cfg.Store,
		tokens:          cfg.Tokens,
		limiter:         cfg.Limiter,
		retrieval:       cfg.Retrieval,
		generation:      cfg.Generation,
		objects:         cfg.Objects,
		chunker:         chunker,
		topK:            topK,
		maxUploadBytes:  cfg.MaxUploadBytes,
		externalTimeout: timeout,
		metrics:         cfg.Metrics,
	}, nil
}

// RegisterInput is the payload of a sign-up request.
type RegisterInput struct {
	Username        string
	Password        string
	ConfirmPassword string
	Email           string
	Name            string
}

// Register creates an account and returns it with a fresh token.
func (a *App) Register(ctx context.Context, in RegisterInput) (domain.User, string, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)
	name := strings.TrimSpace(in.Name)
	verr := &ValidationError{}
	if username == "" {
		verr.Fields = append(verr.Fields, FieldError{Field: "username", Message: "is required"})
	}
	if email == "" {
		verr.Fields = append(verr.Fields, FieldError{Field: "email", Message: "is required"})
	}
	if name == "" {
		verr.Fields = append(verr.Fields, FieldError{Field: "name", Message: "is required"})
	}
	if err := auth.ValidatePassword(in.Password); err != nil {
		verr.Fields = append(verr.Fields, FieldError{Field: "password", Message: err.Error()})
	}
	if in.Password != in.ConfirmPassword {
		verr.Fields = append(verr.Fields, FieldError{Field: "confirmPassword", Message: "passwords do not match"})
	}
	if len(verr.Fields) > 0 {
		return domain.User{}, "", verr
	}

	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return domain.User{}, "", err
	}
	user, err := a.store.CreateUser(ctx, store.NewUser{
		Username:     username,
		PasswordHash: hash,
		Email:        email,
		Name:         name,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.User{}, "", ErrConflict
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	token, err := a.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Login verifies credentials. Unknown users and wrong passwords return the
// same error after a comparable amount of bcrypt work.
func (a *App) Login(ctx context.Context, username, password string) (domain.User, string, error) {
	user, ok, err := a.store.GetUserByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return domain.User{}, "", fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		auth.BurnCompare(password)
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Authenticate resolves a bearer token to a stored user.
func (a *App) Authenticate(ctx context.Context, token string) (domain.User, error) {
	if strings.TrimSpace(token) == "" {
		return domain.User{}, ErrUnauthenticated
	}
	claims, err := a.tokens.Validate(token)
	if err != nil {
		return domain.User{}, ErrUnauthenticated
	}
	user, ok, err := a.store.GetUser(ctx, claims.ID)
	if err != nil {
		return domain.User{}, fmt.Errorf("lookup user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUnauthenticated
	}
	return user, nil
}

// Allow counts one request for user against the rate limit. A limiter
// failure rejects the request.
func (a *App) Allow(ctx context.Context, user domain.User) (ratelimit.Decision, error) {
	decision, err := a.limiter.Allow(ctx, "user:"+strconv.FormatUint(user.ID, 10))
	if err != nil {
		util.LoggerFromContext(ctx).Error("rate limiter unavailable", "user_id", user.ID, "err", err)
		decision.Allowed = false
	}
	if !decision.Allowed {
		a.metrics.RateLimited()
		return decision, &RateLimitError{Decision: decision}
	}
	return decision, nil
}

// UploadInput is one PDF upload.
type UploadInput struct {
	Title       string
	Filename    string
	ContentType string
	Data        []byte
}

// UploadDocument extracts, chunks and indexes a PDF. The document is only
// kept when indexing succeeds.
func (a *App) UploadDocument(ctx context.Context, user domain.User, in UploadInput) (domain.Document, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		title = titleFromFilename(in.Filename)
	}
	if title == "" {
		return domain.Document{}, invalid("title", "is required")
	}
	if len(in.Data) == 0 {
		return domain.Document{}, invalid("file", "is required")
	}
	if a.maxUploadBytes > 0 && int64(len(in.Data)) > a.maxUploadBytes {
		return domain.Document{}, ErrFileTooLarge
	}
	if !isPDF(in.ContentType, in.Data) {
		return domain.Document{}, invalid("file", "only PDF files are allowed")
	}

	text, err := ingest.ExtractText(in.Data)
	if err != nil {
		var extractErr *ingest.ExtractionError
		if errors.As(err, &extractErr) {
			return domain.Document{}, invalid("file", "could not read PDF: "+extractErr.Reason)
		}
		return domain.Document{}, fmt.Errorf("extract text: %w", err)
	}
	chunks := a.chunker.Split(text)
	if len(chunks) == 0 {
		return domain.Document{}, invalid("file", "could not read PDF: no extractable text")
	}

	var key string
	if a.objects != nil {
		key = fmt.Sprintf("documents/%d/%s.pdf", user.ID, uuid.NewString())
		putCtx, cancel := context.WithTimeout(ctx, a.externalTimeout)
		err := a.objects.Put(putCtx, key, bytes.NewReader(in.Data), int64(len(in.Data)), "application/pdf")
		cancel()
		if err != nil {
			return domain.Document{}, external("store upload", err)
		}
	}

	doc, err := a.store.CreateDocument(ctx, store.NewDocument{
		UserID:  user.ID,
		Title:   title,
		Content: text,
		Metadata: domain.DocumentMetadata{
			OriginalName: strings.TrimSpace(in.Filename),
			Size:         int64(len(in.Data)),
			ChunkCount:   len(chunks),
			StorageKey:   key,
		},
	})
	if err != nil {
		a.removeObject(ctx, key)
		return domain.Document{}, fmt.Errorf("create document: %w", err)
	}

	indexCtx, cancel := context.WithTimeout(ctx, a.externalTimeout)
	err = a.retrieval.Index(indexCtx, doc.ID, chunks)
	cancel()
	if err != nil {
		cleanup := context.WithoutCancel(ctx)
		if _, delErr := a.store.DeleteDocument(cleanup, doc.ID); delErr != nil {
			util.LoggerFromContext(ctx).Error("rollback document failed", "document_id", doc.ID, "err", delErr)
		}
		a.removeObject(cleanup, key)
		return domain.Document{}, external("index document", err)
	}
	a.metrics.DocumentIngested(len(chunks))
	return doc, nil
}

// ListDocuments returns the caller's documents, newest first.
func (a *App) ListDocuments(ctx context.Context, user domain.User) ([]domain.Document, error) {
	docs, err := a.store.ListDocumentsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return docs, nil
}

// DeleteDocument removes a document with its chats, messages, vectors and
// stored file. Deleting an already deleted document returns ErrNotFound.
func (a *App) DeleteDocument(ctx context.Context, user domain.User, id uint64) error {
	doc, err := a.ownedDocument(ctx, user, id)
	if err != nil {
		return err
	}
	dropCtx, cancel := context.WithTimeout(ctx, a.externalTimeout)
	err = a.retrieval.Drop(dropCtx, doc.ID)
	cancel()
	if err != nil {
		return external("drop document index", err)
	}
	removed, err := a.store.DeleteDocument(ctx, doc.ID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if !removed {
		return ErrNotFound
	}
	a.removeObject(ctx, doc.Metadata.StorageKey)
	return nil
}

// AskResult is the answer to one question about a document.
type AskResult struct {
	Answer    string
	MessageID uint64
	ChatID    uint64
	Sources   []domain.RetrievedChunk
}

// Ask answers query from the document's most relevant chunks and records the
// exchange in the document's chat.
func (a *App) Ask(ctx context.Context, user domain.User, documentID uint64, query string) (AskResult, error) {
	query = strings.TrimSpace(query)
	verr := &ValidationError{}
	if documentID == 0 {
		verr.Fields = append(verr.Fields, FieldError{Field: "documentId", Message: "is required"})
	}
	if query == "" {
		verr.Fields = append(verr.Fields, FieldError{Field: "query", Message: "is required"})
	}
	if len(verr.Fields) > 0 {
		return AskResult{}, verr
	}
	doc, err := a.ownedDocument(ctx, user, documentID)
	if err != nil {
		return AskResult{}, err
	}

	retrieveCtx, cancel := context.WithTimeout(ctx, a.externalTimeout)
	hits, err := a.retrieval.Retrieve(retrieveCtx, doc.ID, query, a.topK)
	cancel()
	if err != nil {
		return AskResult{}, external("retrieve chunks", err)
	}

	chat, err := a.documentChat(ctx, user, doc)
	if err != nil {
		return AskResult{}, err
	}
	if _, err := a.store.CreateMessage(ctx, chat.ID, domain.RoleUser, query); err != nil {
		return AskResult{}, fmt.Errorf("save question: %w", err)
	}

	texts := make([]string, 0, len(hits))
	for _, hit := range hits {
		texts = append(texts, hit.Text)
	}
	start := time.Now()
	answer, err := a.generation.AnswerFromContext(ctx, query, texts)
	a.metrics.ObserveGeneration("answer", time.Since(start), err)
	if err != nil {
		return AskResult{}, external("generate answer", err)
	}
	msg, err := a.store.CreateMessage(ctx, chat.ID, domain.RoleAssistant, answer)
	if err != nil {
		return AskResult{}, fmt.Errorf("save answer: %w", err)
	}
	return AskResult{Answer: answer, MessageID: msg.ID, ChatID: chat.ID, Sources: hits}, nil
}

// ChatMessages returns a chat's messages in conversation order.
func (a *App) ChatMessages(ctx context.Context, user domain.User, chatID uint64) ([]domain.Message, error) {
	chat, ok, err := a.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("get chat: %w", err)
	}
	if !ok {
		return nil, ErrNotFound
	}
	if chat.UserID != user.ID {
		return nil, ErrForbidden
	}
	msgs, err := a.store.ListMessagesByChat(ctx, chat.ID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return msgs, nil
}

// GenerateArgument drafts and stores an argument for the case.
func (a *App) GenerateArgument(ctx context.Context, user domain.User, details domain.CaseDetails) (domain.Argument, error) {
	details = trimCase(details)
	if verr := validateCase(details); verr != nil {
		return domain.Argument{}, verr
	}
	start := time.Now()
	content, err := a.generation.DraftArgument(ctx, details)
	a.metrics.ObserveGeneration("argument", time.Since(start), err)
	if err != nil {
		return domain.Argument{}, external("draft argument", err)
	}
	arg, err := a.store.CreateArgument(ctx, store.NewArgument{
		UserID:           user.ID,
		Title:            details.Title,
		CaseDetails:      details,
		GeneratedContent: content,
	})
	if err != nil {
		return domain.Argument{}, fmt.Errorf("save argument: %w", err)
	}
	return arg, nil
}

func (a *App) ListArguments(ctx context.Context, user domain.User) ([]domain.Argument, error) {
	args, err := a.store.ListArgumentsByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list arguments: %w", err)
	}
	return args, nil
}

func (a *App) GetArgument(ctx context.Context, user domain.User, id uint64) (domain.Argument, error) {
	arg, ok, err := a.store.GetArgument(ctx, id)
	if err != nil {
		return domain.Argument{}, fmt.Errorf("get argument: %w", err)
	}
	if !ok {
		return domain.Argument{}, ErrNotFound
	}
	if arg.UserID != user.ID {
		return domain.Argument{}, ErrForbidden
	}
	return arg, nil
}

func (a *App) DeleteArgument(ctx context.Context, user domain.User, id uint64) error {
	if _, err := a.GetArgument(ctx, user, id); err != nil {
		return err
	}
	removed, err := a.store.DeleteArgument(ctx, id)
	if err != nil {
		return fmt.Errorf("delete argument: %w", err)
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}

// SearchLaw explains a legal query and stores the result.
func (a *App) SearchLaw(ctx context.Context, user domain.User, query string, filters []string) (domain.LawSearch, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return domain.LawSearch{}, invalid("query", "is required")
	}
	start := time.Now()
	explanation, err := a.generation.ExplainLawQuery(ctx, query)
	a.metrics.ObserveGeneration("law_search", time.Since(start), err)
	if err != nil {
		return domain.LawSearch{}, external("explain law query", err)
	}
	search, err := a.store.CreateLawSearch(ctx, store.NewLawSearch{
		UserID:  user.ID,
		Query:   query,
		Filters: cleanFilters(filters),
		Results: domain.NewSearchResults(explanation),
	})
	if err != nil {
		return domain.LawSearch{}, fmt.Errorf("save search: %w", err)
	}
	return search, nil
}

func (a *App) ListSearches(ctx context.Context, user domain.User) ([]domain.LawSearch, error) {
	searches, err := a.store.ListLawSearchesByUser(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("list searches: %w", err)
	}
	return searches, nil
}

func (a *App) GetSearch(ctx context.Context, user domain.User, id uint64) (domain.LawSearch, error) {
	search, ok, err := a.store.GetLawSearch(ctx, id)
	if err != nil {
		return domain.LawSearch{}, fmt.Errorf("get search: %w", err)
	}
	if !ok {
		return domain.LawSearch{}, ErrNotFound
	}
	if search.UserID != user.ID {
		return domain.LawSearch{}, ErrForbidden
	}
	return search, nil
}

func (a *App) DeleteSearch(ctx context.Context, user domain.User, id uint64) error {
	if _, err := a.GetSearch(ctx, user, id); err != nil {
		return err
	}
	removed, err := a.store.DeleteLawSearch(ctx, id)
	if err != nil {
		return fmt.Errorf("delete search: %w", err)
	}
	if !removed {
		return ErrNotFound
	}
	return nil
}

func (a *App) ownedDocument(ctx context.Context, user domain.User, id uint64) (domain.Document, error) {
	doc, ok, err := a.store.GetDocument(ctx, id)
	if err != nil {
		return domain.Document{}, fmt.Errorf("get document: %w", err)
	}
	if !ok {
		return domain.Document{}, ErrNotFound
	}
	if doc.UserID != user.ID {
		return domain.Document{}, ErrForbidden
	}
	return doc, nil
}

// documentChat returns the oldest chat of doc, creating it on first use.
// Concurrent first questions on one document share a single new chat. The
// shared lookup runs detached from any one caller's cancellation.
func (a *App) documentChat(ctx context.Context, user domain.User, doc domain.Document) (domain.Chat, error) {
	ch := a.chats.DoChan(strconv.FormatUint(doc.ID, 10), func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.externalTimeout)
		defer cancel()
		chats, err := a.store.ListChatsByDocument(ctx, doc.ID)
		if err != nil {
			return domain.Chat{}, fmt.Errorf("list chats: %w", err)
		}
		for _, chat := range chats {
			if chat.UserID == user.ID {
				return chat, nil
			}
		}
		chat, err := a.store.CreateChat(ctx, user.ID, doc.ID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return domain.Chat{}, ErrNotFound
			}
			return domain.Chat{}, fmt.Errorf("create chat: %w", err)
		}
		return chat, nil
	})
	select {
	case <-ctx.Done():
		return domain.Chat{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.Chat{}, res.Err
		}
		return res.Val.(domain.Chat), nil
	}
}

// titleFromFilename is the base name of filename without its extension.
func titleFromFilename(filename string) string {
	base := filepath.Base(strings.TrimSpace(filename))
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}

func (a *App) removeObject(ctx context.Context, key string) {
	if a.objects == nil || key == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.externalTimeout)
	defer cancel()
	if err := a.objects.Delete(ctx, key); err != nil {
		util.LoggerFromContext(ctx).Warn("delete stored object failed", "key", key, "err", err)
	}
}

func isPDF(contentType string, data []byte) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "application/pdf", "application/octet-stream", "":
		return ingest.LooksLikePDF(data)
	}
	return false
}

func trimCase(d domain.CaseDetails) domain.CaseDetails {
	d.Title = strings.TrimSpace(d.Title)
	d.Jurisdiction = strings.TrimSpace(d.Jurisdiction)
	d.Type = strings.TrimSpace(d.Type)
	d.Acts = strings.TrimSpace(d.Acts)
	d.Facts = strings.TrimSpace(d.Facts)
	d.Side = domain.Side(strings.ToLower(strings.TrimSpace(string(d.Side))))
	return d
}

func validateCase(d domain.CaseDetails) *ValidationError {
	verr := &ValidationError{}
	required := []struct{ field, value string }{
		{"title", d.Title},
		{"jurisdiction", d.Jurisdiction},
		{"type", d.Type},
		{"acts", d.Acts},
		{"facts", d.Facts},
	}
	for _, r := range required {
		if r.value == "" {
			verr.Fields = append(verr.Fields, FieldError{Field: r.field, Message: "is required"})
		}
	}
	if !d.Side.Valid() {
		verr.Fields = append(verr.Fields, FieldError{Field: "side", Message: "must be one of prosecution, defense"})
	}
	if len(verr.Fields) == 0 {
		return nil
	}
	return verr
}

func cleanFilters(filters []string) []string {
	out := make([]string, 0, len(filters))
	for _, f := range filters {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
