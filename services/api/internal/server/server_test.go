package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"lexai/internal/metrics"
	"lexai/internal/ratelimit"
	"lexai/internal/usertoken"
	"lexai/pkg/ai"
	"lexai/pkg/generation"
	"lexai/pkg/ingest/ingesttest"
	"lexai/pkg/retrieval"
	"lexai/pkg/store"
	"lexai/services/api/internal/app"
)

const testSecret = "test-secret-0123456789abcdef"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type serverOptions struct {
	secret         string
	store          store.Store
	limiter        ratelimit.Limiter
	maxUploadBytes int64
}

type testServer struct {
	*httptest.Server
	clock *testClock
}

func newTestServer(t *testing.T, opts serverOptions) *testServer {
	t.Helper()
	if opts.secret == "" {
		opts.secret = testSecret
	}
	if opts.store == nil {
		opts.store = store.NewMemoryStore()
	}
	clock := &testClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	if opts.limiter == nil {
		limiter, err := ratelimit.NewMemoryLimiter(10, time.Minute, ratelimit.WithClock(clock.Now))
		if err != nil {
			t.Fatalf("new limiter: %v", err)
		}
		opts.limiter = limiter
	}
	tokens, err := usertoken.NewService(usertoken.Config{Secret: opts.secret})
	if err != nil {
		t.Fatalf("new token service: %v", err)
	}
	engine, err := retrieval.NewEngine(ai.NewHashEmbedder(1024), retrieval.NewMemoryIndex(), retrieval.Options{})
	if err != nil {
		t.Fatalf("new retrieval engine: %v", err)
	}
	gen, err := generation.NewEngine(ai.NewEchoGenerator(), generation.Config{})
	if err != nil {
		t.Fatalf("new generation engine: %v", err)
	}
	m := metrics.New()
	a, err := app.New(app.Config{
		Store:          opts.store,
		Tokens:         tokens,
		Limiter:        opts.limiter,
		Retrieval:      engine,
		Generation:     gen,
		MaxUploadBytes: opts.maxUploadBytes,
		Metrics:        m,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{App: a, Metrics: m, MaxUploadBytes: opts.maxUploadBytes})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, clock: clock}
}

type apiResponse struct {
	status int
	header http.Header
	body   map[string]any
}

func (s *testServer) do(t *testing.T, method, path, token string, payload any) apiResponse {
	t.Helper()
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.URL+path, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return s.send(t, req, token)
}

func (s *testServer) upload(t *testing.T, token, title, contentType string, data []byte) apiResponse {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if title != "" {
		if err := mw.WriteField("title", title); err != nil {
			t.Fatalf("write title: %v", err)
		}
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="doc.pdf"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, s.URL+"/api/pdf/upload", &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return s.send(t, req, token)
}

func (s *testServer) send(t *testing.T, req *http.Request, token string) apiResponse {
	t.Helper()
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	out := apiResponse{status: resp.StatusCode, header: resp.Header}
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	if len(bytes.TrimSpace(raw)) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(raw, &out.body); err != nil {
			t.Fatalf("decode body %q: %v", raw, err)
		}
	}
	return out
}

func (s *testServer) register(t *testing.T, username string) string {
	t.Helper()
	resp := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username":        username,
		"password":        "secret123",
		"confirmPassword": "secret123",
		"email":           username + "@example.com",
		"name":            "User " + username,
	})
	if resp.status != http.StatusCreated {
		t.Fatalf("register %s: status %d body %v", username, resp.status, resp.body)
	}
	token, _ := resp.body["token"].(string)
	if token == "" {
		t.Fatalf("register %s: missing token", username)
	}
	return token
}

func (s *testServer) uploadPDF(t *testing.T, token, text string) uint64 {
	t.Helper()
	resp := s.upload(t, token, "IPC extract", "application/pdf", ingesttest.MinimalPDF(text))
	if resp.status != http.StatusCreated {
		t.Fatalf("upload: status %d body %v", resp.status, resp.body)
	}
	doc, _ := resp.body["document"].(map[string]any)
	id, _ := doc["id"].(float64)
	if id == 0 {
		t.Fatalf("upload: missing document id in %v", resp.body)
	}
	return uint64(id)
}

func fieldNames(body map[string]any) []string {
	var names []string
	items, _ := body["errors"].([]any)
	for _, item := range items {
		if m, ok := item.(map[string]any); ok {
			if f, ok := m["field"].(string); ok {
				names = append(names, f)
			}
		}
	}
	return names
}

func contains(list []string, want string) bool {
	for _, v := range list {
		if v == want {
			return true
		}
	}
	return false
}

func TestRegisterAndLogin(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	resp := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username":        "advocate",
		"password":        "secret123",
		"confirmPassword": "secret123",
		"email":           "advocate@example.com",
		"name":            "Advocate",
	})
	if resp.status != http.StatusCreated {
		t.Fatalf("register: expected 201, got %d (%v)", resp.status, resp.body)
	}
	if resp.body["message"] != "User registered successfully" {
		t.Fatalf("unexpected message: %v", resp.body["message"])
	}
	user, _ := resp.body["user"].(map[string]any)
	if user["username"] != "advocate" {
		t.Fatalf("unexpected user: %v", user)
	}
	for key := range user {
		if strings.Contains(strings.ToLower(key), "password") {
			t.Fatalf("user payload leaks %s", key)
		}
	}

	ok := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "advocate", "password": "secret123"})
	if ok.status != http.StatusOK || ok.body["token"] == "" {
		t.Fatalf("login: expected 200 with token, got %d (%v)", ok.status, ok.body)
	}

	wrong := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "advocate", "password": "nope-nope"})
	unknown := s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "ghost", "password": "secret123"})
	if wrong.status != http.StatusUnauthorized || unknown.status != http.StatusUnauthorized {
		t.Fatalf("expected 401 for both failures, got %d and %d", wrong.status, unknown.status)
	}
	if wrong.body["error"] != unknown.body["error"] {
		t.Fatalf("login failures must look identical: %v vs %v", wrong.body, unknown.body)
	}
}

func TestRegisterValidationAndConflict(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	resp := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username":        "ab",
		"password":        "secret123",
		"confirmPassword": "different",
		"email":           "not-an-email",
		"name":            "A",
	})
	if resp.status != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.status)
	}
	fields := fieldNames(resp.body)
	for _, want := range []string{"username", "confirmPassword", "email"} {
		if !contains(fields, want) {
			t.Fatalf("expected field %s in %v", want, fields)
		}
	}

	s.register(t, "advocate")
	dup := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username":        "advocate",
		"password":        "secret123",
		"confirmPassword": "secret123",
		"email":           "someone-else@example.com",
		"name":            "Dup",
	})
	if dup.status != http.StatusConflict {
		t.Fatalf("expected 409, got %d", dup.status)
	}

	bad := s.do(t, http.MethodPost, "/api/auth/login", "", nil)
	if bad.status != http.StatusBadRequest {
		t.Fatalf("empty login body: expected 400, got %d", bad.status)
	}
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	for _, path := range []string{"/api/pdf/documents", "/api/argument/list", "/api/law/searches"} {
		if resp := s.do(t, http.MethodGet, path, "", nil); resp.status != http.StatusUnauthorized {
			t.Fatalf("%s without token: expected 401, got %d", path, resp.status)
		}
		if resp := s.do(t, http.MethodGet, path, "garbage", nil); resp.status != http.StatusUnauthorized {
			t.Fatalf("%s with bad token: expected 401, got %d", path, resp.status)
		}
	}
}

func TestTokenRejectedAfterSecretRotation(t *testing.T) {
	shared := store.NewMemoryStore()
	before := newTestServer(t, serverOptions{store: shared})
	token := before.register(t, "advocate")
	if resp := before.do(t, http.MethodGet, "/api/pdf/documents", token, nil); resp.status != http.StatusOK {
		t.Fatalf("before rotation: expected 200, got %d", resp.status)
	}

	after := newTestServer(t, serverOptions{store: shared, secret: "rotated-secret-fedcba9876543210"})
	if resp := after.do(t, http.MethodGet, "/api/pdf/documents", token, nil); resp.status != http.StatusUnauthorized {
		t.Fatalf("after rotation: expected 401, got %d", resp.status)
	}
}

func TestUploadAskAndChatRoundTrip(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	token := s.register(t, "advocate")
	docID := s.uploadPDF(t, token, "Section 302 defines murder.")

	list := s.do(t, http.MethodGet, "/api/pdf/documents", token, nil)
	if list.status != http.StatusOK {
		t.Fatalf("list: expected 200, got %d", list.status)
	}
	docs, _ := list.body["documents"].([]any)
	if len(docs) != 1 {
		t.Fatalf("expected one document, got %v", list.body)
	}
	if _, leaked := docs[0].(map[string]any)["content"]; leaked {
		t.Fatalf("document summary leaks extracted text")
	}
	if list.header.Get("X-RateLimit-Limit") != "10" || list.header.Get("X-RateLimit-Remaining") == "" || list.header.Get("X-RateLimit-Reset") == "" {
		t.Fatalf("missing rate limit headers: %v", list.header)
	}

	ask := s.do(t, http.MethodPost, "/api/pdf/ask", token, map[string]any{"documentId": docID, "query": "What does Section 302 define?"})
	if ask.status != http.StatusOK {
		t.Fatalf("ask: expected 200, got %d (%v)", ask.status, ask.body)
	}
	if ask.body["answer"] == "" || ask.body["messageId"] == nil {
		t.Fatalf("ask: unexpected body %v", ask.body)
	}
	chatID := uint64(ask.body["chatId"].(float64))

	chat := s.do(t, http.MethodGet, fmt.Sprintf("/api/pdf/chats/%d", chatID), token, nil)
	msgs, _ := chat.body["messages"].([]any)
	if chat.status != http.StatusOK || len(msgs) != 2 {
		t.Fatalf("chat: expected 2 messages, got %d (%v)", chat.status, chat.body)
	}
	if msgs[0].(map[string]any)["role"] != "user" || msgs[1].(map[string]any)["role"] != "assistant" {
		t.Fatalf("unexpected message order: %v", msgs)
	}

	again := s.do(t, http.MethodPost, "/api/pdf/ask", token, map[string]any{"documentId": docID, "query": "Is it punishable?"})
	if again.status != http.StatusOK || uint64(again.body["chatId"].(float64)) != chatID {
		t.Fatalf("second ask: expected same chat, got %d (%v)", again.status, again.body)
	}
	chat = s.do(t, http.MethodGet, fmt.Sprintf("/api/pdf/chats/%d", chatID), token, nil)
	msgs, _ = chat.body["messages"].([]any)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages after two asks, got %d", len(msgs))
	}

	missing := s.do(t, http.MethodPost, "/api/pdf/ask", token, map[string]any{"documentId": docID})
	if missing.status != http.StatusBadRequest || !contains(fieldNames(missing.body), "query") {
		t.Fatalf("ask without query: expected 400 on query, got %d (%v)", missing.status, missing.body)
	}
}

func TestUploadValidatesFiles(t *testing.T) {
	s := newTestServer(t, serverOptions{maxUploadBytes: 2048})
	token := s.register(t, "advocate")
	pdf := ingesttest.MinimalPDF("Section 302 defines murder.")

	if resp := s.upload(t, token, "Notes", "text/plain", []byte("plain text")); resp.status != http.StatusBadRequest {
		t.Fatalf("non-pdf: expected 400, got %d", resp.status)
	}
	untitled := s.upload(t, token, "", "application/pdf", pdf)
	if untitled.status != http.StatusCreated {
		t.Fatalf("missing title: expected 201, got %d (%v)", untitled.status, untitled.body)
	}
	if doc, _ := untitled.body["document"].(map[string]any); doc["title"] != "doc" {
		t.Fatalf("missing title: expected title from filename, got %v", untitled.body)
	}
	big := append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("0"), 4096)...)
	if resp := s.upload(t, token, "Big", "application/pdf", big); resp.status != http.StatusRequestEntityTooLarge {
		t.Fatalf("oversized: expected 413, got %d", resp.status)
	}
}

func TestDocumentIsolationBetweenUsers(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	owner := s.register(t, "owner")
	other := s.register(t, "other")
	docID := s.uploadPDF(t, owner, "Section 420 deals with cheating.")

	list := s.do(t, http.MethodGet, "/api/pdf/documents", other, nil)
	if docs, _ := list.body["documents"].([]any); len(docs) != 0 {
		t.Fatalf("other user sees documents: %v", list.body)
	}
	ask := s.do(t, http.MethodPost, "/api/pdf/ask", other, map[string]any{"documentId": docID, "query": "cheating?"})
	if ask.status != http.StatusForbidden {
		t.Fatalf("ask other's document: expected 403, got %d", ask.status)
	}
	del := s.do(t, http.MethodDelete, fmt.Sprintf("/api/pdf/documents/%d", docID), other, nil)
	if del.status != http.StatusForbidden {
		t.Fatalf("delete other's document: expected 403, got %d", del.status)
	}
	nf := s.do(t, http.MethodPost, "/api/pdf/ask", owner, map[string]any{"documentId": docID + 99, "query": "cheating?"})
	if nf.status != http.StatusNotFound {
		t.Fatalf("ask missing document: expected 404, got %d", nf.status)
	}
	if resp := s.do(t, http.MethodDelete, "/api/pdf/documents/abc", owner, nil); resp.status != http.StatusBadRequest {
		t.Fatalf("delete with invalid id: expected 400, got %d", resp.status)
	}

	first := s.do(t, http.MethodDelete, fmt.Sprintf("/api/pdf/documents/%d", docID), owner, nil)
	if first.status != http.StatusOK || first.body["message"] == "" {
		t.Fatalf("delete: expected 200, got %d (%v)", first.status, first.body)
	}
	second := s.do(t, http.MethodDelete, fmt.Sprintf("/api/pdf/documents/%d", docID), owner, nil)
	if second.status != http.StatusNotFound {
		t.Fatalf("second delete: expected 404, got %d", second.status)
	}
}

func TestRateLimitEleventhRequest(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	token := s.register(t, "advocate")
	for i := 1; i <= 10; i++ {
		if resp := s.do(t, http.MethodGet, "/api/pdf/documents", token, nil); resp.status != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i, resp.status)
		}
	}
	limited := s.do(t, http.MethodGet, "/api/pdf/documents", token, nil)
	if limited.status != http.StatusTooManyRequests {
		t.Fatalf("11th request: expected 429, got %d", limited.status)
	}
	if retry, _ := limited.body["retryAfter"].(float64); retry <= 0 {
		t.Fatalf("expected retryAfter > 0, got %v", limited.body)
	}
	if limited.header.Get("Retry-After") == "" || limited.header.Get("X-RateLimit-Remaining") != "0" {
		t.Fatalf("unexpected headers on 429: %v", limited.header)
	}

	s.clock.Advance(61 * time.Second)
	if resp := s.do(t, http.MethodGet, "/api/pdf/documents", token, nil); resp.status != http.StatusOK {
		t.Fatalf("after window: expected 200, got %d", resp.status)
	}
}

func TestArgumentEndpoints(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	token := s.register(t, "advocate")
	other := s.register(t, "other")
	valid := map[string]string{
		"title":        "State v. X",
		"jurisdiction": "Delhi High Court",
		"type":         "Criminal",
		"acts":         "IPC Section 302",
		"facts":        "The accused was seen leaving the house.",
		"side":         "prosecution",
	}
	created := s.do(t, http.MethodPost, "/api/argument/generate", token, valid)
	if created.status != http.StatusCreated {
		t.Fatalf("generate: expected 201, got %d (%v)", created.status, created.body)
	}
	arg, _ := created.body["argument"].(map[string]any)
	if content, _ := arg["generatedContent"].(string); content == "" {
		t.Fatalf("expected generated content, got %v", arg)
	}
	if _, ok := arg["caseDetails"]; ok {
		t.Fatalf("create response must not include the full case details")
	}
	argID := uint64(arg["id"].(float64))

	invalid := map[string]string{}
	for k, v := range valid {
		invalid[k] = v
	}
	invalid["side"] = "neutral"
	bad := s.do(t, http.MethodPost, "/api/argument/generate", token, invalid)
	if bad.status != http.StatusBadRequest || !contains(fieldNames(bad.body), "side") {
		t.Fatalf("invalid side: expected 400 on side, got %d (%v)", bad.status, bad.body)
	}

	list := s.do(t, http.MethodGet, "/api/argument/list", token, nil)
	items, _ := list.body["arguments"].([]any)
	if len(items) != 1 {
		t.Fatalf("list: expected one argument, got %v", list.body)
	}
	if _, ok := items[0].(map[string]any)["generatedContent"]; ok {
		t.Fatalf("list must return summaries only")
	}

	full := s.do(t, http.MethodGet, fmt.Sprintf("/api/argument/%d", argID), token, nil)
	got, _ := full.body["argument"].(map[string]any)
	if full.status != http.StatusOK || got["caseDetails"] == nil || got["generatedContent"] == "" {
		t.Fatalf("get: expected full argument, got %d (%v)", full.status, full.body)
	}
	if resp := s.do(t, http.MethodGet, fmt.Sprintf("/api/argument/%d", argID), other, nil); resp.status != http.StatusForbidden {
		t.Fatalf("get other's argument: expected 403, got %d", resp.status)
	}
	if resp := s.do(t, http.MethodGet, "/api/argument/999", token, nil); resp.status != http.StatusNotFound {
		t.Fatalf("get missing argument: expected 404, got %d", resp.status)
	}
	if resp := s.do(t, http.MethodDelete, fmt.Sprintf("/api/argument/%d", argID), token, nil); resp.status != http.StatusOK {
		t.Fatalf("delete argument: expected 200, got %d", resp.status)
	}
}

func TestLawSearchEndpoints(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	token := s.register(t, "advocate")

	if resp := s.do(t, http.MethodPost, "/api/law/search", token, map[string]any{"query": ""}); resp.status != http.StatusBadRequest {
		t.Fatalf("empty query: expected 400, got %d", resp.status)
	}
	resp := s.do(t, http.MethodPost, "/api/law/search", token, map[string]any{"query": "Section 498A IPC", "filters": []string{"acts"}})
	if resp.status != http.StatusOK {
		t.Fatalf("search: expected 200, got %d (%v)", resp.status, resp.body)
	}
	search, _ := resp.body["search"].(map[string]any)
	results, _ := search["results"].(map[string]any)
	if text, _ := results["response"].(string); text == "" {
		t.Fatalf("expected explanation text, got %v", search)
	}
	sections, _ := results["results"].(map[string]any)
	for _, name := range []string{"acts", "cases", "commentaries"} {
		section, _ := sections[name].(map[string]any)
		if items, ok := section["results"].([]any); !ok || len(items) != 0 {
			t.Fatalf("expected empty %s section, got %v", name, sections[name])
		}
	}
	searchID := uint64(search["id"].(float64))

	list := s.do(t, http.MethodGet, "/api/law/searches", token, nil)
	items, _ := list.body["searches"].([]any)
	if len(items) != 1 {
		t.Fatalf("list: expected one search, got %v", list.body)
	}
	if _, ok := items[0].(map[string]any)["results"]; ok {
		t.Fatalf("list must return summaries only")
	}
	if got := s.do(t, http.MethodGet, fmt.Sprintf("/api/law/search/%d", searchID), token, nil); got.status != http.StatusOK {
		t.Fatalf("get search: expected 200, got %d", got.status)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t, serverOptions{})
	if resp := s.do(t, http.MethodGet, "/healthz", "", nil); resp.status != http.StatusOK || resp.body["status"] != "ok" {
		t.Fatalf("healthz: %d %v", resp.status, resp.body)
	}
	if resp := s.do(t, http.MethodGet, "/healthz", "", nil); resp.header.Get("X-Request-Id") == "" {
		t.Fatalf("expected request id header")
	}

	res, err := http.Get(s.URL + "/metrics")
	if err != nil {
		t.Fatalf("metrics: %v", err)
	}
	defer res.Body.Close()
	raw, _ := io.ReadAll(res.Body)
	if !strings.Contains(string(raw), `lexai_http_requests_total{method="GET",route="/healthz",status="200"}`) {
		t.Fatalf("expected request counter for /healthz in:\n%s", raw)
	}
}
