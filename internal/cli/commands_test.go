package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/syncspace/internal/config"
	"github.com/roach88/syncspace/internal/reading"
	"github.com/roach88/syncspace/internal/remote"
	"github.com/roach88/syncspace/internal/thing"
)

const itemJSON = `{"_type":"Item","given_url":"https://a.example","title":"A","note":"secret"}`

// writeConfig writes a config using a file-backed store in a temp dir.
func writeConfig(t *testing.T, remoteURL string) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Store.Backend = "sqlite-purego"
	cfg.Store.Path = filepath.Join(dir, "syncspace.db")
	cfg.Crypt.KeyFile = filepath.Join(dir, "syncspace.key")
	cfg.Crypt.SealBlobs = true
	cfg.Remote.URL = remoteURL
	cfg.Remote.Timeout = "5s"
	cfg.Source.Retries = 0
	cfg.Logging.Level = "error"
	path := filepath.Join(dir, "syncspace.yaml")
	require.NoError(t, cfg.Save(path))
	return path
}

// run executes one CLI invocation with JSON output.
func run(t *testing.T, cfgPath string, args ...string) (CLIResponse, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--config", cfgPath, "--format", "json"}, args...))
	err := cmd.Execute()

	var resp CLIResponse
	if buf.Len() > 0 {
		require.NoError(t, json.Unmarshal(buf.Bytes(), &resp), buf.String())
	}
	return resp, err
}

func data(t *testing.T, resp CLIResponse) map[string]any {
	t.Helper()
	require.Equal(t, "ok", resp.Status, "%+v", resp.Error)
	m, ok := resp.Data.(map[string]any)
	require.True(t, ok, "data is %T", resp.Data)
	return m
}

func TestImprintGetForget(t *testing.T) {
	cfg := writeConfig(t, "")

	resp, err := run(t, cfg, "imprint", itemJSON)
	require.NoError(t, err)
	assert.Equal(t, "A", data(t, resp)["title"])

	resp, err = run(t, cfg, "get", "Item", `{"given_url":"https://a.example"}`)
	require.NoError(t, err)
	got := data(t, resp)
	assert.Equal(t, "A", got["title"])
	assert.Equal(t, "secret", got["note"], "sensitive fields decrypt on restore")
	assert.Equal(t, "A", got["display_title"])

	resp, err = run(t, cfg, "get", "Item", `{"given_url":"https://a.example"}`, "--fields", "title")
	require.NoError(t, err)
	got = data(t, resp)
	assert.Equal(t, "A", got["title"])
	assert.NotContains(t, got, "note")

	resp, err = run(t, cfg, "holders")
	require.NoError(t, err)
	rows, ok := resp.Data.([]any)
	require.True(t, ok)
	names := make([]string, len(rows))
	for i, r := range rows {
		names[i] = r.(map[string]any)["name"].(string)
	}
	assert.Equal(t, []string{"cli", "lists"}, names)

	resp, err = run(t, cfg, "forget", "cli")
	require.NoError(t, err)
	assert.EqualValues(t, 1, data(t, resp)["evicted"])

	resp, err = run(t, cfg, "get", "Item", `{"given_url":"https://a.example"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestImprint_Rejects(t *testing.T) {
	cfg := writeConfig(t, "")
	tests := []struct {
		name   string
		record string
	}{
		{"not json", `{`},
		{"unknown type", `{"_type":"Podcast","url":"x"}`},
		{"no identity", `{"_type":"Video","src":"x"}`},
		{"float", `{"_type":"Item","given_url":"x","word_count":1.5}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := run(t, cfg, "imprint", tt.record)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			require.NotNil(t, resp.Error)
			assert.Equal(t, CodeInvalid, resp.Error.Code)
		})
	}
}

func TestImprint_Stdin(t *testing.T) {
	cfg := writeConfig(t, "")
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetIn(bytes.NewBufferString(itemJSON))
	cmd.SetArgs([]string{"--config", cfg, "imprint", "-"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), `"given_url":"https://a.example"`)
}

func TestGet_UnknownType(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, cfg, "get", "Podcast")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestFetch_WithoutRemote(t *testing.T) {
	cfg := writeConfig(t, "")
	resp, err := run(t, cfg, "fetch", "Saves", `{"state":"unread"}`)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeRemote, resp.Error.Code)
}

func TestAct_OfflineKeepsLocalEffect(t *testing.T) {
	cfg := writeConfig(t, "")
	resp, err := run(t, cfg, "act", reading.ActionAdd, "--args", `{"url":"https://a.example","title":"A"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	outcomes := data(t, resp)["outcomes"].([]any)
	require.Len(t, outcomes, 1)
	assert.Equal(t, "failure", outcomes[0].(map[string]any)["status"])

	resp, err = run(t, cfg, "get", "Saves", `{"state":"unread"}`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, data(t, resp)["total"])
}

func TestAct_RejectsBadInput(t *testing.T) {
	cfg := writeConfig(t, "")
	for _, args := range [][]string{
		{"act", reading.ActionAdd, "--args", `[1]`},
		{"act", reading.ActionAdd, "--priority", "urgent"},
		{"act", reading.ActionAdd, "--query-type", "Podcast"},
	} {
		_, err := run(t, cfg, args...)
		require.Error(t, err, args)
		assert.Equal(t, ExitCommandError, GetExitCode(err), args)
	}
}

func TestActAndFetch_AgainstServer(t *testing.T) {
	srv := reading.NewServer(nil)
	require.NoError(t, srv.Seed(context.Background(), reading.Item("https://b.example", thing.F("title", thing.String("B")))))
	hs := httptest.NewServer(remote.Handler(reading.Registry(), srv))
	defer hs.Close()
	cfg := writeConfig(t, hs.URL)

	resp, err := run(t, cfg, "act", reading.ActionAdd,
		"--args", `{"url":"https://a.example","title":"A"}`,
		"--priority", "high",
		"--query-type", "Saves", "--query", `{"state":"unread"}`)
	require.NoError(t, err)
	rep := data(t, resp)
	outcome := rep["outcomes"].([]any)[0].(map[string]any)
	assert.Equal(t, "success", outcome["status"])
	assert.Equal(t, "high", outcome["priority"])
	assert.EqualValues(t, 2, rep["query"].(map[string]any)["total"])

	resp, err = run(t, cfg, "get", "Saves", `{"state":"unread"}`)
	require.NoError(t, err)
	assert.EqualValues(t, 2, data(t, resp)["total"], "refreshed list persisted")

	resp, err = run(t, cfg, "fetch", "Item", `{"given_url":"https://b.example"}`, "--holder", "pins")
	require.NoError(t, err)
	assert.Equal(t, "B", data(t, resp)["title"])

	resp, err = run(t, cfg, "fetch", "Item", `{"given_url":"https://missing.example"}`)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Equal(t, CodeNotFound, resp.Error.Code)
}

func TestMigrate(t *testing.T) {
	cfg := writeConfig(t, "")
	_, err := run(t, cfg, "imprint", itemJSON)
	require.NoError(t, err)

	resp, err := run(t, cfg, "migrate")
	require.NoError(t, err)
	got := data(t, resp)
	assert.EqualValues(t, 1, got["format_version"])
	assert.Equal(t, map[string]any{"things": 0.0, "holders": 0.0}, got["rewritten"])
}

func TestConfigInitAndShow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "syncspace.yaml")
	buf := &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path, "config", "init"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "wrote "+path)

	buf.Reset()
	cmd = NewRootCommand()
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--config", path, "config", "show"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "backend: sqlite")
	assert.Contains(t, buf.String(), "workers: 4")
}

func TestServe(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	handler := remote.Handler(reading.Registry(), reading.NewServer(nil))
	errc := make(chan error, 1)
	go func() { errc <- serve(ctx, ln, handler, &OutputFormatter{Writer: &bytes.Buffer{}}) }()

	client := remote.NewHTTP("http://"+ln.Addr().String(), reading.Registry(), remote.WithTimeout(5*time.Second))
	resp, err := client.Send(ctx, remote.NewRequest(reading.Saves(reading.StatusUnread)))
	require.NoError(t, err)
	require.NotNil(t, resp.Query)
	total, _ := resp.Query.Get("total")
	assert.Equal(t, thing.Int(0), total)

	cancel()
	select {
	case err := <-errc:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop")
	}
}
