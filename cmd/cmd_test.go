package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zalando/go-keyring"

	"github.com/theirongolddev/claude-usage-tracker/internal/config"
	"github.com/theirongolddev/claude-usage-tracker/internal/credentials"
	"github.com/theirongolddev/claude-usage-tracker/internal/model"
)

type env struct {
	dir        string
	configPath string
	claudeDir  string
	dataDir    string
}

// newEnv writes a config pointing every path into a temp dir and at usageURL.
func newEnv(t *testing.T, usageURL string) env {
	t.Helper()
	dir := t.TempDir()
	e := env{
		dir:        dir,
		configPath: filepath.Join(dir, "config.toml"),
		claudeDir:  filepath.Join(dir, "claude"),
		dataDir:    filepath.Join(dir, "data"),
	}
	t.Setenv(config.EnvClaudeConfigDir, "")
	t.Setenv(config.EnvCredentialSource, "")

	cfg := config.DefaultConfig()
	cfg.General.ClaudeDir = e.claudeDir
	cfg.General.DataDir = e.dataDir
	cfg.Credentials.Source = config.SourceFile
	cfg.API.UsageURL = usageURL
	cfg.Log.Level = "error"
	require.NoError(t, config.SaveTo(e.configPath, cfg))
	return e
}

func (e env) writeCredentials(t *testing.T, doc string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(e.claudeDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(e.claudeDir, ".credentials.json"), []byte(doc), 0o600))
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	flagConfig, flagCredentialSource, flagVerbose = "", "", false
	flagCached, flagHistoryJSON, flagSampleJSON, flagSampleDays = false, false, false, 1

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&bytes.Buffer{})
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() { rootCmd.SetArgs(nil) })

	err := rootCmd.Execute()
	return out.String(), err
}

func usageAPI(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer live-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_, _ = w.Write([]byte(`{"five_hour":{"utilization":42,"resets_at":"2026-03-14T15:00:00Z"},"seven_day":{"utilization":17}}`))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func liveCredentials() string {
	exp := time.Now().Add(time.Hour).UnixMilli()
	return fmt.Sprintf(`{"claudeAiOauth":{"accessToken":"live-token","refreshToken":"r","expiresAt":%d,"subscriptionType":"max"}}`, exp)
}

func TestRun_PrintsSnapshotAndWritesCache(t *testing.T) {
	srv := usageAPI(t)
	e := newEnv(t, srv.URL)
	e.writeCredentials(t, liveCredentials())

	out, err := execute(t, "", "--config", e.configPath)
	require.NoError(t, err)

	assert.Equal(t, 1, strings.Count(out, "\n"))
	var snap model.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Nil(t, snap.Error)
	assert.Equal(t, 42.0, snap.Session.Used)
	assert.Equal(t, "max", snap.SubscriptionType)
	require.Len(t, snap.DailyHistory, 1)
	assert.Equal(t, 42.0, snap.DailyHistory[0].Percent)

	cached, err := os.ReadFile(filepath.Join(e.dataDir, "usage.json"))
	require.NoError(t, err)
	var fromCache model.Snapshot
	require.NoError(t, json.Unmarshal(cached, &fromCache))
	assert.Equal(t, snap, fromCache)

	_, err = os.Stat(filepath.Join(e.dataDir, "samples.db"))
	assert.NoError(t, err)
}

func TestRun_MissingCredentialStillEmits(t *testing.T) {
	srv := usageAPI(t)
	e := newEnv(t, srv.URL)

	out, err := execute(t, "", "run", "--config", e.configPath)
	require.NoError(t, err)

	var snap model.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Equal(t, "No credentials found. Run: claude login", snap.ErrorMessage())
	assert.Equal(t, "unknown", snap.SubscriptionType)

	_, err = os.Stat(filepath.Join(e.dataDir, "history.json"))
	assert.True(t, os.IsNotExist(err), "errored snapshots do not touch history")
}

func TestRun_InvalidCredentialSourceFlag(t *testing.T) {
	e := newEnv(t, "http://127.0.0.1:1")

	_, err := execute(t, "", "--config", e.configPath, "--credential-source", "floppy")
	require.ErrorIs(t, err, config.ErrUnknownSource)
}

func TestStatus_RendersSnapshot(t *testing.T) {
	srv := usageAPI(t)
	e := newEnv(t, srv.URL)
	e.writeCredentials(t, liveCredentials())

	out, err := execute(t, "", "status", "--config", e.configPath)
	require.NoError(t, err)

	assert.Contains(t, out, "CLAUDE USAGE")
	assert.Contains(t, out, "Plan: max")
	assert.Contains(t, out, "5-hour session")
	assert.Contains(t, out, "42%")
	assert.Contains(t, out, "Session peaks")
}

func TestStatus_CachedWithoutCache(t *testing.T) {
	e := newEnv(t, "http://127.0.0.1:1")

	_, err := execute(t, "", "status", "--cached", "--config", e.configPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cached snapshot")
}

func TestRenderStatus_ErrorSnapshot(t *testing.T) {
	snap := model.NewSnapshot(model.UnknownSubscription, time.Now())
	snap.SetError("Session expired. Run: claude login")
	snap.DailyHistory = []model.DayBar{{Day: "Fri", Date: "2026-03-13", Percent: 80}}

	var buf bytes.Buffer
	renderStatus(&buf, snap, time.Now())

	assert.Contains(t, buf.String(), "Session expired. Run: claude login")
	assert.NotContains(t, buf.String(), "Rate Limits")
	assert.Contains(t, buf.String(), "2026-03-13")
}

func TestHistory_JSON(t *testing.T) {
	e := newEnv(t, "http://127.0.0.1:1")
	today := time.Now().Format("2006-01-02")
	require.NoError(t, os.MkdirAll(e.dataDir, 0o700))
	require.NoError(t, os.WriteFile(filepath.Join(e.dataDir, "history.json"),
		[]byte(`{"`+today+`":{"session":12,"weekly":3}}`), 0o600))

	out, err := execute(t, "", "history", "--json", "--config", e.configPath)
	require.NoError(t, err)

	var bars []model.DayBar
	require.NoError(t, json.Unmarshal([]byte(out), &bars))
	require.Len(t, bars, 1)
	assert.Equal(t, today, bars[0].Date)
	assert.Equal(t, 12.0, bars[0].Percent)
}

func TestSamples_AfterRun(t *testing.T) {
	srv := usageAPI(t)
	e := newEnv(t, srv.URL)
	e.writeCredentials(t, liveCredentials())

	_, err := execute(t, "", "--config", e.configPath)
	require.NoError(t, err)

	out, err := execute(t, "", "samples", "--json", "--config", e.configPath)
	require.NoError(t, err)

	var samples []map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &samples))
	require.Len(t, samples, 1)
	assert.Equal(t, 42.0, samples[0]["session"])
}

func TestVault_Protocol(t *testing.T) {
	keyring.MockInit()
	e := newEnv(t, "http://127.0.0.1:1")

	out, err := execute(t, "", "vault", "check", "--config", e.configPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","exists":false}`, out)

	out, err = execute(t, "", "vault", "read", "--config", e.configPath)
	require.ErrorIs(t, err, errVaultFailed)
	assert.JSONEq(t, `{"status":"error","error":"Entry not found in vault"}`, out)

	out, err = execute(t, "sk-ant-oat-vault\n", "vault", "write", "--config", e.configPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok"}`, out)

	out, err = execute(t, "", "vault", "read", "--config", e.configPath)
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"ok","token":"sk-ant-oat-vault"}`, out)
}

func TestRun_KeyringSourceUsesBareToken(t *testing.T) {
	keyring.MockInit()
	srv := usageAPI(t)
	e := newEnv(t, srv.URL)
	require.NoError(t, keyring.Set(credentials.DefaultKeyringService, credentials.DefaultKeyringUser, "live-token"))

	out, err := execute(t, "", "--config", e.configPath, "--credential-source", "kwallet")
	require.NoError(t, err)

	var snap model.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Nil(t, snap.Error)
	assert.Equal(t, "unknown", snap.SubscriptionType)
	assert.Equal(t, 17.0, snap.Weekly.Used)
}

func TestBackends_Selection(t *testing.T) {
	t.Setenv(config.EnvCredentialSource, "")
	cfg := config.DefaultConfig()
	a := &app{cfg: cfg}

	got, err := a.backends()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.IsType(t, &credentials.FileBackend{}, got[0])
	assert.IsType(t, &credentials.KeyringBackend{}, got[1])

	a.cfg.Credentials.BridgeCommand = "helper --wallet kdewallet"
	got, err = a.backends()
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"helper", "--wallet", "kdewallet"}, got[1].(*credentials.BridgeBackend).Command)

	a.cfg.Credentials.Source = config.SourceBridge
	a.cfg.Credentials.BridgeCommand = ""
	_, err = a.backends()
	require.Error(t, err)

	t.Setenv(config.EnvCredentialSource, "file")
	got, err = a.backends()
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.IsType(t, &credentials.FileBackend{}, got[0])
}

func TestConfig_DefaultLocation(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv(config.EnvCredentialSource, "")

	out, err := execute(t, "", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "using defaults")

	cfg := config.DefaultConfig()
	cfg.General.HistoryDays = 9
	require.NoError(t, config.Save(cfg))

	out, err = execute(t, "", "config")
	require.NoError(t, err)
	assert.Contains(t, out, "Status: loaded")
	assert.Contains(t, out, "History days:      9")
	assert.Contains(t, out, config.ConfigPath())
}

func TestSamples_TableShowsStoredCount(t *testing.T) {
	srv := usageAPI(t)
	e := newEnv(t, srv.URL)
	e.writeCredentials(t, liveCredentials())

	out, err := execute(t, "", "samples", "--config", e.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No samples in the last 1 day(s) (0 stored).")

	for range 2 {
		_, err = execute(t, "", "--config", e.configPath)
		require.NoError(t, err)
	}

	out, err = execute(t, "", "samples", "--config", e.configPath)
	require.NoError(t, err)
	assert.Contains(t, out, "Samples (2 of 2 stored)")
	assert.Contains(t, out, "42%")
}
