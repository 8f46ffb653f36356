package credentials

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

// tokenServer is a fake token endpoint that counts calls and records the
// last request body.
type tokenServer struct {
	*httptest.Server
	calls   atomic.Int32
	lastReq refreshRequest
}

func newTokenServer(t *testing.T, status int, body string) *tokenServer {
	t.Helper()
	ts := &tokenServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ts.calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		_ = json.NewDecoder(r.Body).Decode(&ts.lastReq)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(ts.Close)
	return ts
}

func writeCredentials(t *testing.T, expiresAt any) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".credentials.json")
	doc := map[string]any{
		"claudeAiOauth": map[string]any{
			"accessToken":      "old-access",
			"refreshToken":     "old-refresh",
			"expiresAt":        expiresAt,
			"subscriptionType": "max",
			"scopes":           []string{"user:inference"},
		},
		"mcpOAuth": map[string]any{"server": "keep-me"},
	}
	data, err := json.Marshal(doc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func newTestStore(ts *tokenServer, backends ...Backend) *Store {
	url := "http://127.0.0.1:1/unused"
	if ts != nil {
		url = ts.URL
	}
	return NewStore(Config{
		TokenURL: url,
		ClientID: "test-client",
		Now:      func() time.Time { return fixedNow },
	}, backends...)
}

func TestLoad_UnexpiredTokenMakesNoNetworkCall(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"new"}`)
	path := writeCredentials(t, fixedNow.Add(24*time.Hour).UnixMilli())

	tok, err := newTestStore(ts, &FileBackend{Path: path}).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "old-access", tok.AccessToken)
	assert.Equal(t, "max", tok.SubscriptionType)
	assert.Equal(t, int32(0), ts.calls.Load())
}

func TestLoad_ExpiresAtInSeconds(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"new"}`)
	path := writeCredentials(t, fixedNow.Add(time.Hour).Unix())

	tok, err := newTestStore(ts, &FileBackend{Path: path}).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "old-access", tok.AccessToken)
	assert.Equal(t, int32(0), ts.calls.Load())
}

func TestLoad_ExpiredTokenRefreshesOnceAndPersists(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK,
		`{"access_token":"new-access","refresh_token":"new-refresh","expires_in":28800}`)
	path := writeCredentials(t, fixedNow.Add(-time.Minute).UnixMilli())

	tok, err := newTestStore(ts, &FileBackend{Path: path}).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, "max", tok.SubscriptionType)
	assert.Equal(t, int32(1), ts.calls.Load())
	assert.Equal(t, refreshRequest{
		GrantType:    "refresh_token",
		ClientID:     "test-client",
		RefreshToken: "old-refresh",
	}, ts.lastReq)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var saved struct {
		ClaudeAiOauth struct {
			AccessToken  string   `json:"accessToken"`
			RefreshToken string   `json:"refreshToken"`
			ExpiresAt    int64    `json:"expiresAt"`
			Scopes       []string `json:"scopes"`
		} `json:"claudeAiOauth"`
		McpOAuth map[string]string `json:"mcpOAuth"`
	}
	require.NoError(t, json.Unmarshal(data, &saved))
	assert.Equal(t, "new-access", saved.ClaudeAiOauth.AccessToken)
	assert.Equal(t, "new-refresh", saved.ClaudeAiOauth.RefreshToken)
	assert.Equal(t, fixedNow.Add(8*time.Hour).UnixMilli(), saved.ClaudeAiOauth.ExpiresAt)
	assert.Equal(t, []string{"user:inference"}, saved.ClaudeAiOauth.Scopes)
	assert.Equal(t, "keep-me", saved.McpOAuth["server"])
}

func TestLoad_RefreshWithoutRotationKeepsRefreshToken(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"new-access"}`)
	path := writeCredentials(t, fixedNow.Add(-time.Minute).UnixMilli())

	_, err := newTestStore(ts, &FileBackend{Path: path}).Load(context.Background())
	require.NoError(t, err)

	doc := readDocument(t, path)
	assert.Equal(t, "old-refresh", doc.RefreshToken())
	exp, ok := doc.ExpiresAt()
	require.True(t, ok)
	assert.Equal(t, fixedNow.Add(defaultTokenLifetime).UnixMilli(), exp.UnixMilli())
}

func TestLoad_RefreshFailureIsNoCredentialWithoutRetry(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"server error", http.StatusInternalServerError, `{}`},
		{"invalid grant", http.StatusBadRequest, `{"error":"invalid_grant"}`},
		{"missing access token", http.StatusOK, `{"refresh_token":"x"}`},
		{"malformed body", http.StatusOK, `not json`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, tt.status, tt.body)
			path := writeCredentials(t, fixedNow.Add(-time.Minute).UnixMilli())
			before, err := os.ReadFile(path)
			require.NoError(t, err)

			_, err = newTestStore(ts, &FileBackend{Path: path}).Load(context.Background())

			require.ErrorIs(t, err, ErrNoCredential)
			assert.Equal(t, int32(1), ts.calls.Load())
			after, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, before, after, "failed refresh must not rewrite the document")
		})
	}
}

func TestLoad_TransportFailureIsNoCredential(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{}`)
	ts.Close()
	path := writeCredentials(t, fixedNow.Add(-time.Minute).UnixMilli())

	_, err := newTestStore(ts, &FileBackend{Path: path}).Load(context.Background())

	require.ErrorIs(t, err, ErrNoCredential)
}

func TestLoad_MissingExpiryIsTreatedAsExpired(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"new-access","expires_in":3600}`)
	path := writeCredentials(t, nil)

	tok, err := newTestStore(ts, &FileBackend{Path: path}).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
	assert.Equal(t, int32(1), ts.calls.Load())
}

func TestLoad_NoCredentialCases(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	tests := []struct {
		name string
		path string
	}{
		{"missing file", filepath.Join(dir, "absent.json")},
		{"corrupt json", write("corrupt.json", `{"claudeAiOauth":`)},
		{"no oauth record", write("nooauth.json", `{"other":1}`)},
		{"empty access token", write("empty.json", `{"claudeAiOauth":{"accessToken":""}}`)},
		{"bare token in file", write("bare.json", `sk-ant-oat-bare`)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := newTestStore(nil, &FileBackend{Path: tt.path}).Load(context.Background())
			require.ErrorIs(t, err, ErrNoCredential)
		})
	}
}

func TestForceRefresh_BypassesExpiry(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"forced","expires_in":60}`)
	path := writeCredentials(t, fixedNow.Add(24*time.Hour).UnixMilli())

	tok, err := newTestStore(ts, &FileBackend{Path: path}).ForceRefresh(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "forced", tok.AccessToken)
	assert.Equal(t, int32(1), ts.calls.Load())
	assert.Equal(t, "forced", readDocument(t, path).AccessToken())
}

func TestLoad_FallsBackToSecondBackend(t *testing.T) {
	vault := &memBackend{data: []byte("sk-ant-oat-from-vault")}
	missing := &FileBackend{Path: filepath.Join(t.TempDir(), "absent.json")}

	tok, err := newTestStore(nil, missing, vault).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "sk-ant-oat-from-vault", tok.AccessToken)
	assert.Equal(t, "unknown", tok.SubscriptionType)
}

func TestLoad_UnavailableBackendIsSkipped(t *testing.T) {
	broken := &memBackend{checkErr: errors.New("dbus not running")}
	path := writeCredentials(t, fixedNow.Add(time.Hour).UnixMilli())

	tok, err := newTestStore(nil, broken, &FileBackend{Path: path}).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "old-access", tok.AccessToken)
}

func TestLoad_RefreshPersistsToVault(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"vault-new","expires_in":60}`)
	vault := &memBackend{data: []byte(`{"claudeAiOauth":{"accessToken":"a","refreshToken":"r","expiresAt":1}}`)}

	tok, err := newTestStore(ts, vault).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "vault-new", tok.AccessToken)
	doc, err := ParseDocument(vault.data, true)
	require.NoError(t, err)
	assert.Equal(t, "vault-new", doc.AccessToken())
}

func TestForceRefresh_BareTokenCannotRefresh(t *testing.T) {
	vault := &memBackend{data: []byte("bare")}

	_, err := newTestStore(nil, vault).ForceRefresh(context.Background())

	require.ErrorIs(t, err, ErrNoCredential)
}

func TestLoad_PersistFailureStillReturnsToken(t *testing.T) {
	ts := newTokenServer(t, http.StatusOK, `{"access_token":"new-access"}`)
	vault := &memBackend{
		data:     []byte(`{"claudeAiOauth":{"accessToken":"a","refreshToken":"r","expiresAt":1}}`),
		writeErr: errors.New("vault locked"),
	}

	tok, err := newTestStore(ts, vault).Load(context.Background())

	require.NoError(t, err)
	assert.Equal(t, "new-access", tok.AccessToken)
}

func TestVaultOnly(t *testing.T) {
	file := &FileBackend{Path: "x"}
	assert.False(t, newTestStore(nil).VaultOnly())
	assert.False(t, newTestStore(nil, file, &KeyringBackend{}).VaultOnly())
	assert.True(t, newTestStore(nil, &KeyringBackend{}, &BridgeBackend{}).VaultOnly())
}

func readDocument(t *testing.T, path string) *Document {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	doc, err := ParseDocument(data, false)
	require.NoError(t, err)
	return doc
}

// memBackend is an in-memory vault.
type memBackend struct {
	data     []byte
	checkErr error
	writeErr error
}

func (m *memBackend) vault() {}

func (m *memBackend) Read(context.Context) ([]byte, error) { return m.data, nil }

func (m *memBackend) Write(_ context.Context, data []byte) error {
	if m.writeErr != nil {
		return m.writeErr
	}
	m.data = data
	return nil
}

func (m *memBackend) Check(context.Context) (bool, error) {
	if m.checkErr != nil {
		return false, m.checkErr
	}
	return len(m.data) > 0, nil
}
