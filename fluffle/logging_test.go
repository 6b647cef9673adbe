package fluffle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDBLogLevel_Scan(t *testing.T) {
	t.Parallel()

	var l DBLogLevel
	require.NoError(t, l.Scan("debug"))
	assert.Equal(t, DBLogLevelDebug, l)

	require.NoError(t, l.Scan([]byte("warn")))
	assert.Equal(t, DBLogLevelWarn, l)

	require.Error(t, l.Scan("loud"))
	require.Error(t, l.Scan(1))
	assert.Equal(t, DBLogLevelWarn, l)

	v, err := l.Value()
	require.NoError(t, err)
	assert.Equal(t, "WARN", v)
}

func TestDBLogLevel_JSON(t *testing.T) {
	t.Parallel()

	data, err := json.Marshal(DBLogLevelError)
	require.NoError(t, err)
	assert.Equal(t, `"ERROR"`, string(data))

	var l DBLogLevel
	require.NoError(t, json.Unmarshal([]byte(`"info"`), &l))
	assert.Equal(t, DBLogLevelInfo, l)
	assert.Equal(t, slog.LevelInfo, l.Level())

	require.Error(t, json.Unmarshal([]byte(`"LOUD"`), &l))
	require.Error(t, json.Unmarshal([]byte(`3`), &l))
}

func TestDBLogLevel_Level(t *testing.T) {
	t.Parallel()

	assert.Equal(t, slog.LevelDebug, DBLogLevelDebug.Level())
	assert.Equal(t, slog.LevelError, DBLogLevelError.Level())
	assert.Equal(t, slog.LevelInfo, DBLogLevel("bogus").Level())

	var l DBLogLevel
	require.NoError(t, l.Set("WARN+2"))
	assert.Equal(t, slog.LevelWarn+2, l.Level())
}

func TestLogOutput_Handler(t *testing.T) {
	t.Parallel()

	var console, file bytes.Buffer
	out := logOutput{console: &console, file: &file}
	log := slog.New(out.handler(slog.LevelInfo, "api"))

	log.Debug("not written")
	log.Info("hello", "guild_id", "100")

	assert.NotContains(t, console.String(), "not written")
	assert.Contains(t, console.String(), "hello")
	assert.Contains(t, file.String(), "hello")
	assert.Contains(t, file.String(), "logger=api")
	assert.Contains(t, file.String(), "guild_id=100")

	// the file output is never coloured
	assert.NotContains(t, file.String(), "\x1b[")

	withGroup := slog.New(out.handler(slog.LevelInfo, "").WithGroup("req"))
	withGroup.Info("grouped", "id", 7)
	assert.Contains(t, file.String(), "req.id=7")
}

func TestLogOutput_ConsoleOnly(t *testing.T) {
	t.Parallel()

	var console bytes.Buffer
	h := logOutput{console: &console}.handler(slog.LevelWarn, "gateway")
	_, tee := h.(teeHandler)
	assert.False(t, tee)

	slog.New(h).Warn("careful")
	assert.Contains(t, console.String(), "careful")
}

func TestNewLogOutput_File(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "fluffle.log")
	out, closer := newLogOutput(LogFileConfig{Path: path, MaxSizeMB: 1})
	var console bytes.Buffer
	out.console = &console

	slog.New(out.handler(slog.LevelInfo, "bot")).Info("written to both")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to both")
	assert.Contains(t, console.String(), "written to both")

	out, closer = newLogOutput(LogFileConfig{})
	assert.Nil(t, out.file)
	require.NoError(t, closer.Close())
}

func TestDiscordgoLoggerFunc(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logFunc := discordgoLoggerFunc(context.Background(), handler)

	testCases := []struct {
		msgL     int
		expected string
	}{
		{discordgo.LogError, "level=ERROR"},
		{discordgo.LogWarning, "level=WARN"},
		{discordgo.LogInformational, "level=INFO"},
		{discordgo.LogDebug, "level=DEBUG"},
		{42, "level=INFO"},
	}
	for _, tc := range testCases {
		buf.Reset()
		logFunc(tc.msgL, 0, "heartbeat %s\n", "sent")
		assert.Contains(t, buf.String(), tc.expected)
		assert.Contains(t, buf.String(), `msg="heartbeat sent"`)
	}
}

func TestGORMLogger_Trace(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	handler := slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	g := newGORMLogger(handler, 100*time.Millisecond)
	assert.Same(t, g, g.LogMode(logger.Silent))

	ctx := context.Background()
	query := func() (string, int64) { return "SELECT 1", 1 }

	g.Trace(ctx, time.Now(), query, nil)
	assert.Contains(t, buf.String(), "level=DEBUG")
	assert.Contains(t, buf.String(), `msg="sql completed"`)
	assert.Contains(t, buf.String(), "logger=gorm")

	buf.Reset()
	g.Trace(ctx, time.Now(), query, logger.ErrRecordNotFound)
	assert.Contains(t, buf.String(), "level=DEBUG")

	buf.Reset()
	g.Trace(ctx, time.Now(), query, errors.New("no such table"))
	assert.Contains(t, buf.String(), "level=ERROR")
	assert.Contains(t, buf.String(), "no such table")

	buf.Reset()
	g.Trace(
		ctx,
		time.Now().Add(-time.Second),
		func() (string, int64) { return "SELECT 2", -1 },
		nil,
	)
	assert.Contains(t, buf.String(), "level=WARN")
	assert.Contains(t, buf.String(), `msg="slow sql"`)
	assert.Contains(t, buf.String(), "rows=-")
}
