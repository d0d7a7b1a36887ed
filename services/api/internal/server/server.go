package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"lexai/internal/metrics"
	"lexai/internal/ratelimit"
	"lexai/internal/util"
	"lexai/pkg/domain"
	"lexai/services/api/internal/app"
)

const (
	defaultMaxUploadBytes = 10 << 20
	maxJSONBytes          = 1 << 20
	// multipart framing and the title field on top of the file itself
	multipartOverhead = 1 << 20
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	App            *app.App
	Metrics        *metrics.Metrics
	TrustedProxies *util.TrustedProxies
	CORSOrigins    []string
	MaxUploadBytes int64
}

// Server exposes the LexAI HTTP API.
type Server struct {
	app            *app.App
	metrics        *metrics.Metrics
	trusted        *util.TrustedProxies
	corsOrigins    []string
	maxUploadBytes int64
	validate       *requestValidator
	mux            *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) (*Server, error) {
	if cfg.App == nil {
		return nil, errors.New("app required")
	}
	maxUpload := cfg.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = defaultMaxUploadBytes
	}
	s := &Server{
		app:            cfg.App,
		metrics:        cfg.Metrics,
		trusted:        cfg.TrustedProxies,
		corsOrigins:    cfg.CORSOrigins,
		maxUploadBytes: maxUpload,
		validate:       newRequestValidator(),
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s, nil
}

// Router returns the configured handler with the middleware chain applied.
func (s *Server) Router() http.Handler {
	var h http.Handler = s.metrics.Middleware(s.mux)
	h = util.WithCORS(s.corsOrigins, h)
	h = util.WithSecurityHeaders(s.trusted, h)
	h = util.WithRequestLog(h)
	return util.WithRequestID(h)
}

func (s *Server) routes() {
	s.mux.HandleFunc("/healthz", s.handleHealth)
	if s.metrics != nil {
		s.mux.Handle("/metrics", s.metrics.Handler())
	}

	// auth
	s.mux.HandleFunc("/api/auth/register", s.handleRegister)
	s.mux.HandleFunc("/api/auth/login", s.handleLogin)

	// pdf
	s.mux.Handle("/api/pdf/upload", s.authenticated(s.handleUpload))
	s.mux.Handle("/api/pdf/documents", s.authenticated(s.handleListDocuments))
	s.mux.Handle("/api/pdf/documents/", s.authenticated(s.handleDocumentByID))
	s.mux.Handle("/api/pdf/ask", s.authenticated(s.handleAsk))
	s.mux.Handle("/api/pdf/chats/", s.authenticated(s.handleChatByID))

	// arguments
	s.mux.Handle("/api/argument/generate", s.authenticated(s.handleGenerateArgument))
	s.mux.Handle("/api/argument/list", s.authenticated(s.handleListArguments))
	s.mux.Handle("/api/argument/", s.authenticated(s.handleArgumentByID))

	// law search
	s.mux.Handle("/api/law/search", s.authenticated(s.handleSearchLaw))
	s.mux.Handle("/api/law/searches", s.authenticated(s.handleListSearches))
	s.mux.Handle("/api/law/search/", s.authenticated(s.handleSearchByID))
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth wrappers
type authHandler func(http.ResponseWriter, *http.Request, domain.User)

// authenticated verifies the bearer token, then charges the caller's rate
// limit. Rate limit headers are set on every authenticated response.
func (s *Server) authenticated(next authHandler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok {
			s.audit(r, "token.verify", "fail", "reason", "missing_token")
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}
		user, err := s.app.Authenticate(r.Context(), token)
		if err != nil {
			if !errors.Is(err, app.ErrUnauthenticated) {
				s.writeAppError(w, r, err)
				return
			}
			s.audit(r, "token.verify", "fail", "reason", "invalid_token")
			writeError(w, http.StatusUnauthorized, "invalid or expired token")
			return
		}
		decision, err := s.app.Allow(r.Context(), user)
		setRateLimitHeaders(w, decision)
		if err != nil {
			s.audit(r, "rate_limit", "rejected", "user_id", user.ID)
			s.writeAppError(w, r, err)
			return
		}
		next(w, r, user)
	})
}

func setRateLimitHeaders(w http.ResponseWriter, d ratelimit.Decision) {
	if d.Limit <= 0 {
		return
	}
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetUnix(), 10))
}

// auth handlers
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req registerRequest
	if !s.decodeAndValidate(w, r, &req) {
		s.audit(r, "register", "fail", "reason", "invalid_request")
		return
	}
	user, token, err := s.app.Register(r.Context(), app.RegisterInput{
		Username:        req.Username,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		Email:           req.Email,
		Name:            req.Name,
	})
	if err != nil {
		s.audit(r, "register", "fail", "reason", reason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "register", "success", "user_id", user.ID)
	writeJSON(w, http.StatusCreated, authResponse{
		Message: "User registered successfully",
		User:    user,
		Token:   token,
	})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req loginRequest
	if !s.decodeAndValidate(w, r, &req) {
		s.audit(r, "login", "fail", "reason", "invalid_request")
		return
	}
	user, token, err := s.app.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		s.audit(r, "login", "fail", "reason", reason(err))
		s.writeAppError(w, r, err)
		return
	}
	s.audit(r, "login", "success", "user_id", user.ID)
	writeJSON(w, http.StatusOK, authResponse{
		Message: "Login successful",
		User:    user,
		Token:   token,
	})
}

// pdf handlers
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.writeAppError(w, r, app.ErrFileTooLarge)
			return
		}
		writeError(w, http.StatusBadRequest, "invalid form data")
		return
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeValidation(w, []app.FieldError{{Field: "file", Message: "is required"}})
		return
	}
	defer file.Close()
	if header.Size > s.maxUploadBytes {
		s.writeAppError(w, r, app.ErrFileTooLarge)
		return
	}
	data, err := io.ReadAll(io.LimitReader(file, s.maxUploadBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read uploaded file")
		return
	}
	if int64(len(data)) > s.maxUploadBytes {
		s.writeAppError(w, r, app.ErrFileTooLarge)
		return
	}
	doc, err := s.app.UploadDocument(r.Context(), user, app.UploadInput{
		Title:       r.FormValue("title"),
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Data:        data,
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("document ingested",
		"user_id", user.ID, "document_id", doc.ID, "chunks", doc.Metadata.ChunkCount, "bytes", doc.Metadata.Size)
	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  "PDF uploaded and processed successfully",
		"document": doc.Summary(),
	})
}

func (s *Server) handleListDocuments(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	docs, err := s.app.ListDocuments(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]domain.DocumentSummary, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// /api/pdf/documents/{id}
func (s *Server) handleDocumentByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := pathID(w, r, "/api/pdf/documents/")
	if !ok {
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	if err := s.app.DeleteDocument(r.Context(), user, id); err != nil {
		s.auditAccess(r, user, "document.delete", err)
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Document deleted successfully"})
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req askRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	res, err := s.app.Ask(r.Context(), user, req.DocumentID, req.Query)
	if err != nil {
		s.auditAccess(r, user, "document.ask", err)
		s.writeAppError(w, r, err)
		return
	}
	sources := make([]sourceResponse, 0, len(res.Sources))
	for _, src := range res.Sources {
		sources = append(sources, sourceResponse{
			DocumentID: src.Metadata.DocumentID,
			ChunkIndex: src.Metadata.ChunkIndex,
			Score:      src.Score,
		})
	}
	writeJSON(w, http.StatusOK, askResponse{
		Answer:    res.Answer,
		MessageID: res.MessageID,
		ChatID:    res.ChatID,
		Sources:   sources,
	})
}

// /api/pdf/chats/{id}
func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := pathID(w, r, "/api/pdf/chats/")
	if !ok {
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	msgs, err := s.app.ChatMessages(r.Context(), user, id)
	if err != nil {
		s.auditAccess(r, user, "chat.read", err)
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

// argument handlers
func (s *Server) handleGenerateArgument(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req argumentRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	arg, err := s.app.GenerateArgument(r.Context(), user, domain.CaseDetails{
		Title:        req.Title,
		Jurisdiction: req.Jurisdiction,
		Type:         req.Type,
		Acts:         req.Acts,
		Facts:        req.Facts,
		Side:         domain.Side(req.Side),
	})
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"message": "Legal argument generated successfully",
		"argument": argumentCreated{
			ID:               arg.ID,
			Title:            arg.Title,
			GeneratedContent: arg.GeneratedContent,
			CreatedAt:        arg.CreatedAt,
		},
	})
}

func (s *Server) handleListArguments(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	args, err := s.app.ListArguments(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]domain.ArgumentSummary, 0, len(args))
	for _, a := range args {
		out = append(out, a.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"arguments": out})
}

// /api/argument/{id}
func (s *Server) handleArgumentByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := pathID(w, r, "/api/argument/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		arg, err := s.app.GetArgument(r.Context(), user, id)
		if err != nil {
			s.auditAccess(r, user, "argument.read", err)
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"argument": arg})
	case http.MethodDelete:
		if err := s.app.DeleteArgument(r.Context(), user, id); err != nil {
			s.auditAccess(r, user, "argument.delete", err)
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Argument deleted successfully"})
	default:
		methodNotAllowed(w)
	}
}

// law search handlers
func (s *Server) handleSearchLaw(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req searchRequest
	if !s.decodeAndValidate(w, r, &req) {
		return
	}
	search, err := s.app.SearchLaw(r.Context(), user, req.Query, req.Filters)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message": "Law search completed successfully",
		"search":  search,
	})
}

func (s *Server) handleListSearches(w http.ResponseWriter, r *http.Request, user domain.User) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	searches, err := s.app.ListSearches(r.Context(), user)
	if err != nil {
		s.writeAppError(w, r, err)
		return
	}
	out := make([]domain.LawSearchSummary, 0, len(searches))
	for _, ls := range searches {
		out = append(out, ls.Summary())
	}
	writeJSON(w, http.StatusOK, map[string]any{"searches": out})
}

// /api/law/search/{id}
func (s *Server) handleSearchByID(w http.ResponseWriter, r *http.Request, user domain.User) {
	id, ok := pathID(w, r, "/api/law/search/")
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		search, err := s.app.GetSearch(r.Context(), user, id)
		if err != nil {
			s.auditAccess(r, user, "search.read", err)
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"search": search})
	case http.MethodDelete:
		if err := s.app.DeleteSearch(r.Context(), user, id); err != nil {
			s.auditAccess(r, user, "search.delete", err)
			s.writeAppError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "Search deleted successfully"})
	default:
		methodNotAllowed(w)
	}
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

type registerRequest struct {
	Username        string `json:"username" validate:"required,min=3,max=50"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Email           string `json:"email" validate:"required,email"`
	Name            string `json:"name" validate:"required"`
}

type loginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type authResponse struct {
	Message string      `json:"message"`
	User    domain.User `json:"user"`
	Token   string      `json:"token"`
}

type askRequest struct {
	DocumentID uint64 `json:"documentId" validate:"required"`
	Query      string `json:"query" validate:"required,max=4000"`
}

type sourceResponse struct {
	DocumentID uint64  `json:"documentId"`
	ChunkIndex int     `json:"chunkIndex"`
	Score      float64 `json:"score"`
}

type askResponse struct {
	Answer    string           `json:"answer"`
	MessageID uint64           `json:"messageId"`
	ChatID    uint64           `json:"chatId"`
	Sources   []sourceResponse `json:"sources"`
}

type argumentRequest struct {
	Title        string `json:"title" validate:"required,max=200"`
	Jurisdiction string `json:"jurisdiction" validate:"required"`
	Type         string `json:"type" validate:"required"`
	Acts         string `json:"acts" validate:"required"`
	Facts        string `json:"facts" validate:"required"`
	Side         string `json:"side" validate:"required,oneof=prosecution defense"`
}

type argumentCreated struct {
	ID               uint64    `json:"id"`
	Title            string    `json:"title"`
	GeneratedContent string    `json:"generatedContent"`
	CreatedAt        time.Time `json:"createdAt"`
}

type searchRequest struct {
	Query   string   `json:"query" validate:"required,max=2000"`
	Filters []string `json:"filters" validate:"max=20"`
}

type validationResponse struct {
	Error  string           `json:"error"`
	Errors []app.FieldError `json:"errors"`
}

type rateLimitResponse struct {
	Error      string `json:"error"`
	RetryAfter int    `json:"retryAfter"`
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "bearer "
	if len(authHeader) < len(prefix) || !strings.EqualFold(authHeader[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(authHeader[len(prefix):])
	if token == "" {
		return "", false
	}
	return token, true
}

// pathID parses the trailing numeric id after prefix and writes the error
// response itself when it is missing or malformed.
func pathID(w http.ResponseWriter, r *http.Request, prefix string) (uint64, bool) {
	raw := strings.Trim(strings.TrimPrefix(r.URL.Path, prefix), "/")
	if raw == "" || strings.Contains(raw, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return 0, false
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil || id == 0 {
		writeValidation(w, []app.FieldError{{Field: "id", Message: "must be a positive integer"}})
		return 0, false
	}
	return id, true
}

func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBytes))
	if err := dec.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	if fields := s.validate.Struct(dst); len(fields) > 0 {
		writeValidation(w, fields)
		return false
	}
	return true
}

// writeAppError maps application errors to status codes. Provider and
// storage details are logged, never returned.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *app.ValidationError
	var rlErr *app.RateLimitError
	switch {
	case errors.As(err, &verr):
		writeValidation(w, verr.Fields)
	case errors.As(err, &rlErr):
		w.Header().Set("Retry-After", strconv.Itoa(rlErr.RetryAfter()))
		writeJSON(w, http.StatusTooManyRequests, rateLimitResponse{
			Error:      "Too many requests, please try again later.",
			RetryAfter: rlErr.RetryAfter(),
		})
	case errors.Is(err, app.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
	case errors.Is(err, app.ErrUnauthenticated):
		writeError(w, http.StatusUnauthorized, "authentication required")
	case errors.Is(err, app.ErrForbidden):
		writeError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, app.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.Is(err, app.ErrConflict):
		writeError(w, http.StatusConflict, app.ErrConflict.Error())
	case errors.Is(err, app.ErrFileTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, "file too large")
	case errors.Is(err, app.ErrExternalService):
		util.LoggerFromContext(r.Context()).Error("external service failure", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "external service unavailable, please try again later")
	default:
		util.LoggerFromContext(r.Context()).Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeValidation(w http.ResponseWriter, fields []app.FieldError) {
	writeJSON(w, http.StatusBadRequest, validationResponse{Error: "validation error", Errors: fields})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) audit(r *http.Request, event, outcome string, attrs ...any) {
	logAttrs := []any{
		"event", event,
		"outcome", outcome,
		"path", r.URL.Path,
		"method", r.Method,
		"ip", util.ClientIP(r, s.trusted),
	}
	logAttrs = append(logAttrs, attrs...)
	logger := util.LoggerFromContext(r.Context())
	if outcome == "success" {
		logger.Info("security_event", logAttrs...)
		return
	}
	logger.Warn("security_event", logAttrs...)
}

// auditAccess records attempts to reach another user's resources.
func (s *Server) auditAccess(r *http.Request, user domain.User, event string, err error) {
	if errors.Is(err, app.ErrForbidden) {
		s.audit(r, event, "forbidden", "user_id", user.ID)
	}
}

func reason(err error) string {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		return "validation"
	case errors.Is(err, app.ErrConflict):
		return "conflict"
	case errors.Is(err, app.ErrInvalidCredentials):
		return "invalid_credentials"
	default:
		return "internal"
	}
}
