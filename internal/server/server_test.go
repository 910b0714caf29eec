package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vsavkov/sitesmith/internal/auth"
	"github.com/vsavkov/sitesmith/internal/ledger"
	"github.com/vsavkov/sitesmith/internal/orchestrator"
	"github.com/vsavkov/sitesmith/internal/store"
)

// --- Stub collaborators ---

type stubStore struct {
	users    []*store.User
	projects []*store.Project
	versions []*store.Version
	builds   []*store.Build
	messages []*store.ChatMessage
	healthy  bool
}

func (s *stubStore) CreateUser(_ context.Context, email, passwordHash, name string) (*store.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return nil, store.ErrDuplicateEmail
		}
	}
	now := time.Now().UTC()
	u := &store.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         name,
		Role:         store.RoleFree,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.users = append(s.users, u)
	return u, nil
}

func (s *stubStore) UserByEmail(_ context.Context, email string) (*store.User, error) {
	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *stubStore) UserByID(_ context.Context, id string) (*store.User, error) {
	for _, u := range s.users {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *stubStore) ProjectByID(_ context.Context, id string) (*store.Project, error) {
	for _, p := range s.projects {
		if p.ID == id {
			return p, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *stubStore) ProjectForOwner(ctx context.Context, id, ownerID string) (*store.Project, error) {
	p, err := s.ProjectByID(ctx, id)
	if err != nil || p.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	return p, nil
}

func (s *stubStore) ProjectsByOwner(_ context.Context, ownerID string) ([]*store.Project, error) {
	var out []*store.Project
	for _, p := range s.projects {
		if p.OwnerID == ownerID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubStore) LatestVersion(_ context.Context, projectID string) (*store.Version, error) {
	var latest *store.Version
	for _, v := range s.versions {
		if v.ProjectID == projectID && (latest == nil || v.VersionNumber > latest.VersionNumber) {
			latest = v
		}
	}
	if latest == nil {
		return nil, store.ErrNotFound
	}
	return latest, nil
}

func (s *stubStore) LatestBuild(_ context.Context, projectID string) (*store.Build, error) {
	for i := len(s.builds) - 1; i >= 0; i-- {
		if s.builds[i].ProjectID == projectID {
			return s.builds[i], nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *stubStore) VersionsByProject(_ context.Context, projectID string) ([]*store.Version, error) {
	var out []*store.Version
	for _, v := range s.versions {
		if v.ProjectID == projectID {
			out = append(out, v)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].VersionNumber < out[j].VersionNumber })
	return out, nil
}

func (s *stubStore) BuildsByProject(_ context.Context, projectID string) ([]*store.Build, error) {
	var out []*store.Build
	for _, b := range s.builds {
		if b.ProjectID == projectID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (s *stubStore) BuildByID(_ context.Context, id string) (*store.Build, error) {
	for _, b := range s.builds {
		if b.ID == id {
			return b, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *stubStore) MessagesByProject(_ context.Context, projectID string) ([]*store.ChatMessage, error) {
	var out []*store.ChatMessage
	for _, m := range s.messages {
		if m.ProjectID == projectID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *stubStore) Healthy(context.Context) bool { return s.healthy }

type stubOrchestrator struct {
	createRes   *orchestrator.CreateResult
	iterRes     *orchestrator.IterationResult
	rebuildRes  *orchestrator.RebuildResult
	rollbackRes *orchestrator.RebuildResult
	exportRes   *orchestrator.ExportResult
	publishRes  *orchestrator.PublishResult
	err         error

	calls      []string
	gotOwner   string
	gotProject string
	gotMessage string
	gotVersion string
}

func (o *stubOrchestrator) CreateProject(_ context.Context, ownerID, name, prompt string) (*orchestrator.CreateResult, error) {
	o.calls = append(o.calls, "create")
	o.gotOwner = ownerID
	if o.err != nil {
		return nil, o.err
	}
	return o.createRes, nil
}

func (o *stubOrchestrator) Iterate(_ context.Context, ownerID, projectID, message string) (*orchestrator.IterationResult, error) {
	o.calls = append(o.calls, "iterate")
	o.gotOwner, o.gotProject, o.gotMessage = ownerID, projectID, message
	if o.err != nil {
		return nil, o.err
	}
	return o.iterRes, nil
}

func (o *stubOrchestrator) Rebuild(_ context.Context, ownerID, projectID string) (*orchestrator.RebuildResult, error) {
	o.calls = append(o.calls, "rebuild")
	o.gotOwner, o.gotProject = ownerID, projectID
	if o.err != nil {
		return nil, o.err
	}
	return o.rebuildRes, nil
}

func (o *stubOrchestrator) Rollback(_ context.Context, ownerID, projectID, versionID string) (*orchestrator.RebuildResult, error) {
	o.calls = append(o.calls, "rollback")
	o.gotOwner, o.gotProject, o.gotVersion = ownerID, projectID, versionID
	if o.err != nil {
		return nil, o.err
	}
	return o.rollbackRes, nil
}

func (o *stubOrchestrator) Export(_ context.Context, ownerID, projectID string) (*orchestrator.ExportResult, error) {
	o.calls = append(o.calls, "export")
	o.gotOwner, o.gotProject = ownerID, projectID
	if o.err != nil {
		return nil, o.err
	}
	return o.exportRes, nil
}

func (o *stubOrchestrator) Publish(_ context.Context, ownerID, projectID string) (*orchestrator.PublishResult, error) {
	o.calls = append(o.calls, "publish")
	o.gotOwner, o.gotProject = ownerID, projectID
	if o.err != nil {
		return nil, o.err
	}
	return o.publishRes, nil
}

func (o *stubOrchestrator) Delete(_ context.Context, ownerID, projectID string) error {
	o.calls = append(o.calls, "delete")
	o.gotOwner, o.gotProject = ownerID, projectID
	return o.err
}

type grantCall struct {
	userID      string
	amount      decimal.Decimal
	kind        store.TxnKind
	description string
	projectID   string
}

type stubLedger struct {
	wallet    *ledger.Wallet
	walletErr error
	grantErr  error
	grants    []grantCall
	balance   decimal.Decimal
}

func (l *stubLedger) Wallet(_ context.Context, userID string) (*ledger.Wallet, error) {
	if l.walletErr != nil {
		return nil, l.walletErr
	}
	if l.wallet != nil {
		return l.wallet, nil
	}
	return &ledger.Wallet{Balance: l.balance}, nil
}

func (l *stubLedger) Grant(_ context.Context, userID string, amount decimal.Decimal, kind store.TxnKind, description, projectID string) (*ledger.Entry, error) {
	if l.grantErr != nil {
		return nil, l.grantErr
	}
	l.grants = append(l.grants, grantCall{userID, amount, kind, description, projectID})
	l.balance = l.balance.Add(amount)
	return &ledger.Entry{
		TransactionID: "txn-" + strconv.Itoa(len(l.grants)),
		Amount:        amount,
		BalanceAfter:  l.balance,
	}, nil
}

// --- Test environment ---

type testServer struct {
	srv    *Server
	store  *stubStore
	orch   *stubOrchestrator
	ledger *stubLedger
	tokens *auth.Tokens
	dir    string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	st := &stubStore{healthy: true}
	orch := &stubOrchestrator{}
	led := &stubLedger{}
	tokens := auth.NewTokens("server-test-secret")
	dir := t.TempDir()
	srv := New(Config{
		Addr:        ":0",
		WebOrigin:   "http://localhost:3000",
		ProjectsDir: dir,
	}, st, orch, led, tokens, zerolog.Nop())
	return &testServer{srv: srv, store: st, orch: orch, ledger: led, tokens: tokens, dir: dir}
}

// seedUser registers a user directly in the stub store and returns it with
// a valid token. The password is always "hunter2hunter2".
func (ts *testServer) seedUser(t *testing.T, email string, role store.Role) (*store.User, string) {
	t.Helper()
	hash, err := auth.HashPassword("hunter2hunter2")
	if err != nil {
		t.Fatal(err)
	}
	now := time.Now().UTC()
	u := &store.User{
		ID:           ulid.Make().String(),
		Email:        email,
		PasswordHash: hash,
		Name:         "Test User",
		Role:         role,
		Credits:      decimal.RequireFromString("10.00"),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	ts.store.users = append(ts.store.users, u)
	token, err := ts.tokens.Issue(u.ID)
	if err != nil {
		t.Fatal(err)
	}
	return u, token
}

func (ts *testServer) seedProject(t *testing.T, ownerID string) *store.Project {
	t.Helper()
	now := time.Now().UTC()
	p := &store.Project{
		ID:               ulid.Make().String(),
		OwnerID:          ownerID,
		Name:             "Landing",
		Description:      "Landing page for a startup",
		CurrentSpec:      json.RawMessage(`{"name":"Landing"}`),
		Status:           store.ProjectReady,
		WatermarkEnabled: true,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	ts.store.projects = append(ts.store.projects, p)
	return p
}

// do sends a request through the full middleware chain. A string body is
// sent raw; anything else is JSON-encoded.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = strings.NewReader(b)
	default:
		buf, err := json.Marshal(b)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(buf)
	}
	req := httptest.NewRequest(method, path, rd)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v (body %s)", err, rec.Body.String())
	}
}

func wantAPIError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, status, rec.Body.String())
	}
	var env errorEnvelope
	decodeJSON(t, rec, &env)
	if env.Error.Code != code {
		t.Fatalf("error code = %q, want %q", env.Error.Code, code)
	}
	if env.Error.Message == "" {
		t.Fatal("error message is empty")
	}
}

// --- Auth ---

func TestSignup(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    "Ada@Example.com",
		"password": "hunter2hunter2",
		"name":     "Ada",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body.String())
	}

	var res authResponse
	decodeJSON(t, rec, &res)
	if res.User.Email != "ada@example.com" {
		t.Fatalf("email = %q, want normalized lowercase", res.User.Email)
	}
	if res.User.Credits != "10.00" {
		t.Fatalf("credits = %q, want 10.00", res.User.Credits)
	}
	if res.User.Role != "free" {
		t.Fatalf("role = %q, want free", res.User.Role)
	}

	userID, err := ts.tokens.Verify(res.Token)
	if err != nil || userID != res.User.ID {
		t.Fatalf("token verifies to (%q, %v), want user %q", userID, err, res.User.ID)
	}

	if len(ts.ledger.grants) != 1 {
		t.Fatalf("grants = %d, want 1", len(ts.ledger.grants))
	}
	g := ts.ledger.grants[0]
	if g.userID != res.User.ID || g.kind != store.TxnGrant || g.description != "Welcome bonus" {
		t.Fatalf("welcome grant = %+v", g)
	}
	if !g.amount.Equal(ledger.InitialCredits) {
		t.Fatalf("welcome amount = %s, want %s", g.amount, ledger.InitialCredits)
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "ada@example.com", store.RoleFree)

	rec := ts.do(t, http.MethodPost, "/auth/signup", "", map[string]string{
		"email":    "ada@example.com",
		"password": "hunter2hunter2",
	})
	wantAPIError(t, rec, http.StatusConflict, "USER_EXISTS")
	if len(ts.ledger.grants) != 0 {
		t.Fatalf("grants = %d, want 0", len(ts.ledger.grants))
	}
}

func TestSignupValidation(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name string
		body any
	}{
		{"invalid json", "{"},
		{"empty email", map[string]string{"email": "", "password": "hunter2hunter2"}},
		{"not an email", map[string]string{"email": "nope", "password": "hunter2hunter2"}},
		{"short password", map[string]string{"email": "a@b.co", "password": "short"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodPost, "/auth/signup", "", tc.body)
			wantAPIError(t, rec, http.StatusBadRequest, "BAD_REQUEST")
		})
	}
}

func TestSignin(t *testing.T) {
	ts := newTestServer(t)
	user, _ := ts.seedUser(t, "ada@example.com", store.RoleFree)

	rec := ts.do(t, http.MethodPost, "/auth/signin", "", map[string]string{
		"email":    "ADA@example.com",
		"password": "hunter2hunter2",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body.String())
	}
	var res authResponse
	decodeJSON(t, rec, &res)
	if res.User.ID != user.ID {
		t.Fatalf("user id = %q, want %q", res.User.ID, user.ID)
	}
	if id, err := ts.tokens.Verify(res.Token); err != nil || id != user.ID {
		t.Fatalf("token verifies to (%q, %v)", id, err)
	}
}

func TestSigninRejectsBadCredentials(t *testing.T) {
	ts := newTestServer(t)
	ts.seedUser(t, "ada@example.com", store.RoleFree)

	rec := ts.do(t, http.MethodPost, "/auth/signin", "", map[string]string{
		"email":    "ada@example.com",
		"password": "wrong-password",
	})
	wantAPIError(t, rec, http.StatusUnauthorized, "INVALID_CREDENTIALS")

	rec = ts.do(t, http.MethodPost, "/auth/signin", "", map[string]string{
		"email":    "nobody@example.com",
		"password": "hunter2hunter2",
	})
	wantAPIError(t, rec, http.StatusUnauthorized, "INVALID_CREDENTIALS")
}

func TestMe(t *testing.T) {
	ts := newTestServer(t)
	user, token := ts.seedUser(t, "ada@example.com", store.RolePro)

	rec := ts.do(t, http.MethodGet, "/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var res userResponse
	decodeJSON(t, rec, &res)
	if res.ID != user.ID || res.Role != "pro" || res.Credits != "10.00" {
		t.Fatalf("me = %+v", res)
	}
}

func TestAuthMiddleware(t *testing.T) {
	ts := newTestServer(t)

	cases := []struct {
		name  string
		token string
	}{
		{"missing token", ""},
		{"garbage token", "zzz"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := ts.do(t, http.MethodGet, "/auth/me", tc.token, nil)
			wantAPIError(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")
		})
	}

	t.Run("non-bearer scheme", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
		req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
		rec := httptest.NewRecorder()
		ts.srv.Handler().ServeHTTP(rec, req)
		wantAPIError(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")
	})
}

// --- Health and metrics ---

func TestHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	decodeJSON(t, rec, &body)
	if body["status"] != "ok" || body["database"] != true {
		t.Fatalf("health = %v", body)
	}

	ts.store.healthy = false
	rec = ts.do(t, http.MethodGet, "/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
	decodeJSON(t, rec, &body)
	if body["status"] != "degraded" {
		t.Fatalf("health = %v", body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	rec := ts.do(t, http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
