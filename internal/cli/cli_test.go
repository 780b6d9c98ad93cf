package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type env struct {
	home   string
	lists  string
	audit  string
	config string
}

func newEnv(t *testing.T) env {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{"GAMEBLOCKER_LOG_LEVEL", "GAMEBLOCKER_LISTEN", "GAMEBLOCKER_LISTS_DIR", "GAMEBLOCKER_LISTS_URL"} {
		t.Setenv(k, "")
	}

	lists := filepath.Join(home, "lists")
	require.NoError(t, os.MkdirAll(lists, 0700))
	docs := map[string]string{
		"sequences.json":            `{"sequences": [{"id": "wasd", "keys": ["w","a","s","d"], "threshold": 0.6}]}`,
		"allowlist.json":            `{"allowlist": ["school.edu"]}`,
		"blockimmediatelylist.json": `{"blockImmediatelyList": ["games.example"]}`,
		"bannedConnections.json":    `{"bannedConnections": ["tracker.example"]}`,
		"bannedWords.json":          `{"bannedWords": ["cheat", "speedrun"]}`,
	}
	for name, content := range docs {
		require.NoError(t, os.WriteFile(filepath.Join(lists, name), []byte(content), 0600))
	}

	return env{
		home:   home,
		lists:  lists,
		audit:  filepath.Join(home, "blocks.jsonl"),
		config: filepath.Join(home, "config.yaml"),
	}
}

func (e env) run(t *testing.T, args ...string) string {
	t.Helper()

	scanURL, scanHTML, scanText = "", "", ""
	logFilterSource, logFilterDomain, logLast, logSummary = "", "", 0, false

	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	full := append([]string{
		args[0],
		"--config", e.config,
		"--lists", e.lists,
		"--audit-log", e.audit,
		"--log-level", "error",
	}, args[1:]...)
	rootCmd.SetArgs(full)
	require.NoError(t, rootCmd.Execute(), buf.String())
	return buf.String()
}

func TestVersionCommand(t *testing.T) {
	e := newEnv(t)
	out := e.run(t, "version")
	assert.Contains(t, out, "GameBlocker "+Version)
}

func TestListsCommand(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.lists, "allowlist.json"), []byte(`{"allowlist": "nope"}`), 0600))

	out := e.run(t, "lists")
	assert.Contains(t, out, "bannedWords.json")
	assert.Regexp(t, `bannedWords\.json\s+2\s+ok`, out)
	assert.Regexp(t, `allowlist\.json\s+0\s+error:`, out)
	assert.Contains(t, out, "wasd")
}

func TestScanCommand(t *testing.T) {
	e := newEnv(t)
	page := filepath.Join(e.home, "page.html")
	require.NoError(t, os.WriteFile(page, []byte(`<html><body><h1>Speedrun tips</h1></body></html>`), 0600))

	out := e.run(t, "scan", "--url", "https://games.example/")
	assert.Contains(t, out, "BLOCK    games.example is on the block list")

	out = e.run(t, "scan", "--url", "https://www.school.edu/", "--html", page)
	assert.Contains(t, out, "ALLOW")

	out = e.run(t, "scan", "--url", "https://blog.example/", "--html", page)
	assert.Contains(t, out, "BLOCK    Page contained blocked word/phrase: speedrun")

	out = e.run(t, "scan", "--url", "https://blog.example/", "--text", "nothing to see")
	assert.Contains(t, out, "PASS")
}

func TestReplayCommand(t *testing.T) {
	e := newEnv(t)
	trace := filepath.Join(e.home, "trace.jsonl")
	require.NoError(t, os.WriteFile(trace, []byte(`{"type":"navigate","host":"arcade.example"}
{"type":"key","key":"d","repeat":50}
`), 0600))

	out := e.run(t, "replay", trace)
	assert.Contains(t, out, "Replayed 2 events, 50 keys")
	assert.Contains(t, out, "BLOCK    arcade.example (cadence): Game like activity auto detected")
}

func TestLogCommand(t *testing.T) {
	e := newEnv(t)

	out := e.run(t, "log")
	assert.Contains(t, out, "No blocks recorded.")

	content := `{"timestamp":"2026-03-01T10:00:00Z","session_id":"a","domain":"games.example","source":"immediate","reason":"games.example is on the block list"}
{"timestamp":"2026-03-01T10:05:00Z","session_id":"b","domain":"www.arcade.example","source":"cadence","reason":"Game like activity auto detected"}
{"timestamp":"2026-03-01T10:09:00Z","session_id":"c","domain":"arcade.example","source":"words","reason":"Page contained blocked word/phrase: cheat"}
`
	require.NoError(t, os.WriteFile(e.audit, []byte(content), 0600))

	out = e.run(t, "log", "--source", "cadence")
	assert.Contains(t, out, "www.arcade.example")
	assert.NotContains(t, out, "games.example")

	out = e.run(t, "log", "--domain", "arcade.example", "--last", "1")
	assert.Contains(t, out, "blocked word/phrase: cheat")
	assert.NotContains(t, out, "www.arcade.example")

	out = e.run(t, "log", "--summary")
	assert.Contains(t, out, "Total blocks:    3")
	assert.Contains(t, out, "Cadence:         1")
}
