package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/chatapp/auth-service/internal/auth"
	"github.com/chatapp/auth-service/internal/config"
	"github.com/chatapp/auth-service/internal/ids"
	"github.com/chatapp/auth-service/internal/token"
)

// fakeStore is an in-memory auth.Store so handler tests run the real
// service against real tokens without a database.
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]*auth.UserCredential
	refresh map[string]*auth.RefreshToken
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:   make(map[string]*auth.UserCredential),
		refresh: make(map[string]*auth.RefreshToken),
	}
}

func (f *fakeStore) Users() auth.UserStore                 { return fakeUsers{f} }
func (f *fakeStore) RefreshTokens() auth.RefreshTokenStore { return fakeRefresh{f} }
func (f *fakeStore) WithinTx(ctx context.Context, fn func(auth.Store) error) error {
	return fn(f)
}

type fakeUsers struct{ f *fakeStore }

func (u fakeUsers) Create(_ context.Context, user *auth.UserCredential) error {
	u.f.mu.Lock()
	defer u.f.mu.Unlock()
	for _, existing := range u.f.users {
		if existing.Email == user.Email {
			return auth.ErrEmailTaken
		}
	}
	if user.ID == "" {
		user.ID = ids.New()
	}
	user.CreatedAt = time.Now().UTC()
	user.UpdatedAt = user.CreatedAt
	u.f.users[user.ID] = user
	return nil
}

func (u fakeUsers) Find(_ context.Context, id string) (*auth.UserCredential, error) {
	u.f.mu.Lock()
	defer u.f.mu.Unlock()
	if user, ok := u.f.users[id]; ok {
		return user, nil
	}
	return nil, auth.ErrNotFound
}

func (u fakeUsers) FindByEmail(_ context.Context, email string) (*auth.UserCredential, error) {
	u.f.mu.Lock()
	defer u.f.mu.Unlock()
	for _, user := range u.f.users {
		if user.Email == email {
			return user, nil
		}
	}
	return nil, auth.ErrNotFound
}

func (u fakeUsers) Delete(_ context.Context, id string) error {
	u.f.mu.Lock()
	defer u.f.mu.Unlock()
	if _, ok := u.f.users[id]; !ok {
		return auth.ErrNotFound
	}
	delete(u.f.users, id)
	// Mirrors the foreign key cascade in the real schema.
	for tokenID, t := range u.f.refresh {
		if t.UserID == id {
			delete(u.f.refresh, tokenID)
		}
	}
	return nil
}

type fakeRefresh struct{ f *fakeStore }

func (r fakeRefresh) Create(_ context.Context, t *auth.RefreshToken) error {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if t.ID == "" {
		t.ID = ids.New()
	}
	t.CreatedAt = time.Now().UTC()
	t.UpdatedAt = t.CreatedAt
	r.f.refresh[t.TokenID] = t
	return nil
}

func (r fakeRefresh) Find(_ context.Context, tokenID string) (*auth.RefreshToken, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if t, ok := r.f.refresh[tokenID]; ok {
		return t, nil
	}
	return nil, auth.ErrNotFound
}

func (r fakeRefresh) Delete(_ context.Context, tokenID string) (bool, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	if _, ok := r.f.refresh[tokenID]; !ok {
		return false, nil
	}
	delete(r.f.refresh, tokenID)
	return true, nil
}

func (r fakeRefresh) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var n int64
	for id, t := range r.f.refresh {
		if !t.ExpiresAt.After(now) {
			delete(r.f.refresh, id)
			n++
		}
	}
	return n, nil
}

func (r fakeRefresh) DeleteByUser(_ context.Context, userID string) (int64, error) {
	r.f.mu.Lock()
	defer r.f.mu.Unlock()
	var n int64
	for id, t := range r.f.refresh {
		if t.UserID == userID {
			delete(r.f.refresh, id)
			n++
		}
	}
	return n, nil
}

func newTestAPI(t *testing.T) (*API, *auth.Service) {
	t.Helper()
	codec, err := token.NewCodec(token.Config{
		AccessSecret:  []byte(strings.Repeat("a", 32)),
		RefreshSecret: []byte(strings.Repeat("r", 32)),
		AccessTTL:     time.Hour,
		RefreshTTL:    24 * time.Hour,
		Issuer:        "auth-service",
	})
	require.NoError(t, err)

	svc := auth.NewService(newFakeStore(), codec, zap.NewNop())
	api := New(svc, zap.NewNop(), ReadyProbe{}, "test",
		config.RateLimitConfig{Burst: 100, PerSecond: 100})
	return api, svc
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func issuePaths(t *testing.T, body map[string]any) []string {
	t.Helper()
	details, ok := body["details"].(map[string]any)
	require.True(t, ok, "missing details in %v", body)
	raw, ok := details["issues"].([]any)
	require.True(t, ok, "missing issues in %v", details)
	paths := make([]string, 0, len(raw))
	for _, item := range raw {
		issue := item.(map[string]any)
		paths = append(paths, issue["path"].(string))
	}
	return paths
}

func doJSON(t *testing.T, h http.Handler, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestRegisterCreatesUser(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/register",
		`{"email":"new@test.com","display_name":"New User","password":"password123"}`, nil)

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, "new@test.com", body["email"])
	assert.Equal(t, "New User", body["display_name"])
	assert.NotEmpty(t, body["id"])
	// The hash never leaves the service.
	assert.NotContains(t, rec.Body.String(), "password")
	assert.NotContains(t, body, "password_hash")
}

func TestRegisterDuplicateEmailConflicts(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	payload := `{"email":"dup@test.com","display_name":"First","password":"password123"}`
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/register", payload, nil)
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = doJSON(t, h, http.MethodPost, "/v1/auth/register", payload, nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "email already in use", decodeBody(t, rec)["message"])
}

func TestLoginReturnsTokenPair(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	_, err := svc.Register(t.Context(), "login@test.com", "Login", "password123")
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		`{"email":"Login@Test.com","password":"password123"}`, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEmpty(t, body["refresh_token"])
	user, ok := body["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "login@test.com", user["email"])
}

func TestLoginWrongPassword(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	_, err := svc.Register(t.Context(), "wrong@test.com", "Wrong", "password123")
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		`{"email":"wrong@test.com","password":"not-the-password"}`, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid email or password", decodeBody(t, rec)["message"])
}

func TestLoginUnknownEmailSameError(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/login",
		`{"email":"nobody@test.com","password":"password123"}`, nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid email or password", decodeBody(t, rec)["message"])
}

func TestRefreshRotatesTokens(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	_, err := svc.Register(t.Context(), "rotate@test.com", "Rotate", "password123")
	require.NoError(t, err)
	_, pair, err := svc.Login(t.Context(), "rotate@test.com", "password123")
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/refresh",
		fmt.Sprintf(`{"refresh_token":%q}`, pair.RefreshToken), nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.NotEmpty(t, body["access_token"])
	assert.NotEqual(t, pair.RefreshToken, body["refresh_token"])

	// The old refresh token is revoked by rotation.
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/refresh",
		fmt.Sprintf(`{"refresh_token":%q}`, pair.RefreshToken), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid or expired token", decodeBody(t, rec)["message"])
}

func TestRefreshRejectsAccessToken(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	_, err := svc.Register(t.Context(), "kind@test.com", "Kind", "password123")
	require.NoError(t, err)
	_, pair, err := svc.Login(t.Context(), "kind@test.com", "password123")
	require.NoError(t, err)

	rec := doJSON(t, h, http.MethodPost, "/v1/auth/refresh",
		fmt.Sprintf(`{"refresh_token":%q}`, pair.AccessToken), nil)

	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid or expired token", decodeBody(t, rec)["message"])
}

func TestLogoutRevokesRefreshToken(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	_, err := svc.Register(t.Context(), "out@test.com", "Out", "password123")
	require.NoError(t, err)
	_, pair, err := svc.Login(t.Context(), "out@test.com", "password123")
	require.NoError(t, err)

	payload := fmt.Sprintf(`{"refresh_token":%q}`, pair.RefreshToken)
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/logout", payload, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// Logout again is a no-op, not an error.
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/logout", payload, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The revoked token can no longer refresh.
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/refresh", payload, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMeReturnsAuthenticatedUser(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	user, err := svc.Register(t.Context(), "me@test.com", "Me", "password123")
	require.NoError(t, err)
	_, pair, err := svc.Login(t.Context(), "me@test.com", "password123")
	require.NoError(t, err)

	header := http.Header{"Authorization": {"Bearer " + pair.AccessToken}}
	rec := doJSON(t, h, http.MethodGet, "/v1/auth/me", "", header)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, user.ID, body["id"])
	assert.Equal(t, "me@test.com", body["email"])
}

func TestLogoutAllRevokesEverySession(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	_, err := svc.Register(t.Context(), "all@test.com", "All", "password123")
	require.NoError(t, err)
	_, first, err := svc.Login(t.Context(), "all@test.com", "password123")
	require.NoError(t, err)
	_, second, err := svc.Login(t.Context(), "all@test.com", "password123")
	require.NoError(t, err)

	header := http.Header{"Authorization": {"Bearer " + first.AccessToken}}
	rec := doJSON(t, h, http.MethodPost, "/v1/auth/logout-all", "", header)
	require.Equal(t, http.StatusNoContent, rec.Code)

	for _, pair := range []auth.TokenPair{first, second} {
		rec = doJSON(t, h, http.MethodPost, "/v1/auth/refresh",
			fmt.Sprintf(`{"refresh_token":%q}`, pair.RefreshToken), nil)
		require.Equal(t, http.StatusUnauthorized, rec.Code)
	}
}

func TestDeleteAccountRemovesUserAndSessions(t *testing.T) {
	api, svc := newTestAPI(t)
	h := api.Handler()
	_, err := svc.Register(t.Context(), "gone@test.com", "Gone", "password123")
	require.NoError(t, err)
	_, pair, err := svc.Login(t.Context(), "gone@test.com", "password123")
	require.NoError(t, err)

	header := http.Header{"Authorization": {"Bearer " + pair.AccessToken}}
	rec := doJSON(t, h, http.MethodDelete, "/v1/auth/me", "", header)
	require.Equal(t, http.StatusNoContent, rec.Code)

	// The credential record is gone.
	rec = doJSON(t, h, http.MethodGet, "/v1/auth/me", "", header)
	require.Equal(t, http.StatusNotFound, rec.Code)

	// Its refresh tokens went with it.
	rec = doJSON(t, h, http.MethodPost, "/v1/auth/refresh",
		fmt.Sprintf(`{"refresh_token":%q}`, pair.RefreshToken), nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthRoutesRejectWrongMethod(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	for _, path := range []string{"/v1/auth/register", "/v1/auth/login", "/v1/auth/refresh", "/v1/auth/logout"} {
		rec := doJSON(t, h, http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusMethodNotAllowed, rec.Code, path)
		assert.Equal(t, http.MethodPost, rec.Header().Get("Allow"), path)
	}
}

func TestHealthEndpoints(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = doJSON(t, h, http.MethodGet, "/readyz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ready", decodeBody(t, rec)["status"])

	rec = doJSON(t, h, http.MethodGet, "/v1/info", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "auth-service", decodeBody(t, rec)["name"])
}

func TestUnknownRouteIs404(t *testing.T) {
	api, _ := newTestAPI(t)
	h := api.Handler()

	rec := doJSON(t, h, http.MethodGet, "/v1/nope", "", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decodeBody(t, rec)["message"])
}
