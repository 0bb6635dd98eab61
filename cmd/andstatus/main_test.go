package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"andstatus/internal/config"
	"andstatus/internal/editor"
	"andstatus/internal/models"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLogging_JSON(t *testing.T) {
	originalLogger := log.Logger
	originalLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = originalLogger
		zerolog.SetGlobalLevel(originalLevel)
	}()

	var buf bytes.Buffer
	setupLogging(config.LogConfig{Level: "warn", Format: "json"}, &buf)

	log.Info().Msg("dropped")
	log.Warn().Str("account", "me@example.org").Msg("kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "kept", entry["message"])
	assert.Equal(t, "me@example.org", entry["account"])
	assert.Contains(t, entry, "time")
}

func TestSetupLogging_Console(t *testing.T) {
	originalLogger := log.Logger
	originalLevel := zerolog.GlobalLevel()
	defer func() {
		log.Logger = originalLogger
		zerolog.SetGlobalLevel(originalLevel)
	}()

	var buf bytes.Buffer
	setupLogging(config.LogConfig{Level: "debug", Format: "console"}, &buf)
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())

	log.Debug().Msg("console line")
	assert.Contains(t, buf.String(), "console line")
	assert.False(t, json.Valid(buf.Bytes()))
}

func TestOriginName(t *testing.T) {
	assert.Equal(t, "example.org", originName(models.Account{Name: "me@example.org", OriginID: 2}))
	assert.Equal(t, "origin-2", originName(models.Account{Name: "me", OriginID: 2}))
	assert.Equal(t, "origin-3", originName(models.Account{Name: "me@", OriginID: 3}))
}

// cliEnv points the CLI at temporary databases.
func cliEnv(t *testing.T) {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	for _, k := range []string{
		"ANDSTATUS_ORIGIN_ID", "ANDSTATUS_USER_OID", "ANDSTATUS_USERNAME",
		"ANDSTATUS_STREAM_ENDPOINTS", "ANDSTATUS_STREAM_COMPRESS", "ANDSTATUS_SYNC_MAX_ATTEMPTS",
		"REDIS_ADDR", "OTEL_ENABLED", "LOG_FORMAT",
	} {
		t.Setenv(k, "")
	}
	t.Setenv("ANDSTATUS_DB_PATH", filepath.Join(dir, "andstatus.db"))
	t.Setenv("ANDSTATUS_STATE_PATH", filepath.Join(dir, "state.db"))
	t.Setenv("ANDSTATUS_ACCOUNT", "me@example.org")
	t.Setenv("LOG_LEVEL", "error")

	originalLogger := log.Logger
	originalLevel := zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = originalLogger
		zerolog.SetGlobalLevel(originalLevel)
	})
}

func execute(t *testing.T, args ...string) map[string]any {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.ExecuteContext(context.Background()), "andstatus %s", strings.Join(args, " "))

	var v map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &v), out.String())
	return v
}

func TestCLI_ImportStatsAndDrafts(t *testing.T) {
	cliEnv(t)

	dump := `{"oid":"n1","body":"hello @me","sent_date":"2024-01-02T03:04:05Z","sender":{"oid":"acct:alice@example.org","username":"alice"}}
{"oid":"n2","body":"second","sent_date":"2024-01-02T03:05:05Z","sender":{"oid":"acct:bob@example.org","username":"bob"}}
garbage
`
	require.NoError(t, os.WriteFile("dump.jsonl", []byte(dump), 0o600))

	imported := execute(t, "import", "dump.jsonl", "--timeline", "home")
	assert.Equal(t, "home", imported["timeline"])
	assert.Equal(t, float64(1), imported["skipped_lines"])
	assert.Equal(t, float64(2), imported["messages"])
	assert.Equal(t, float64(0), imported["errors"])

	stats := execute(t, "stats")
	assert.Equal(t, "me@example.org", stats["account"])
	assert.Equal(t, float64(2), stats["messages"])
	assert.Equal(t, float64(3), stats["users"])
	assert.Equal(t, float64(1), stats["accounts"])

	saved := execute(t, "draft", "save", "--body", "a draft")
	draftID := saved["msg_id"]
	require.NotZero(t, draftID)
	assert.Equal(t, "draft", saved["status"])
	assert.Equal(t, "a draft", saved["body"])

	shown := execute(t, "draft", "show")
	assert.Equal(t, draftID, shown["msg_id"])

	discarded := execute(t, "draft", "discard")
	assert.Equal(t, float64(0), discarded["msg_id"])

	stats = execute(t, "stats")
	assert.Equal(t, float64(2), stats["messages"])

	sent := execute(t, "draft", "send", "--body", "ready to go")
	sentID, ok := sent["msg_id"].(float64)
	require.True(t, ok)
	require.NotZero(t, sentID)
	assert.Equal(t, "sending", sent["status"])
	assert.Equal(t, "ready to go", sent["body"])

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"draft", "discard", "--id", strconv.FormatInt(int64(sentID), 10)})
	err := rootCmd.ExecuteContext(context.Background())
	require.ErrorIs(t, err, editor.ErrCannotDiscard)

	stats = execute(t, "stats")
	assert.Equal(t, float64(3), stats["messages"])
}

func TestCLI_RequiresAccount(t *testing.T) {
	cliEnv(t)
	t.Setenv("ANDSTATUS_ACCOUNT", "")

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"stats"})
	err := rootCmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANDSTATUS_ACCOUNT")
}

func TestCLI_InvalidConfig(t *testing.T) {
	cliEnv(t)
	t.Setenv("ANDSTATUS_SYNC_MAX_ATTEMPTS", "lots")

	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetArgs([]string{"stats"})
	err := rootCmd.ExecuteContext(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ANDSTATUS_SYNC_MAX_ATTEMPTS")
}
