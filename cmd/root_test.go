package cmd

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/cyanoflame/FluffleDiscordBot-sub000/fluffle"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadConfigFromEnvFile(t *testing.T) {
	// Save the original environment
	originalEnv := os.Environ()
	t.Cleanup(
		func() {
			os.Clearenv()
			for _, envVar := range originalEnv {
				parts := strings.SplitN(envVar, "=", 2)
				os.Setenv(parts[0], parts[1])
			}
			configFile = ""
		},
	)

	// Clear the environment before the test
	os.Clearenv()

	tmpdir := t.TempDir()
	envFile := filepath.Join(tmpdir, "test.env")

	envContent := `
# General/database config

FLUFFLE_DATABASE=/home/foo/fluffle.sqlite3
FLUFFLE_DATABASE_TYPE=sqlite
FLUFFLE_DATABASE_LOG_LEVEL=INFO
FLUFFLE_DATABASE_SLOW_THRESHOLD=200ms
FLUFFLE_LOG_LEVEL=INFO
FLUFFLE_STARTUP_TIMEOUT=30s
FLUFFLE_SHUTDOWN_TIMEOUT=60s
FLUFFLE_DEVELOPMENT=true
FLUFFLE_CHANNEL_SETTINGS_TTL=1m
FLUFFLE_LOG_FILE_PATH=/var/log/fluffle.log
FLUFFLE_LOG_FILE_MAX_BACKUPS=2

# Discord bot config

FLUFFLE_DISCORD_TOKEN=your-discord-bot-token
FLUFFLE_DISCORD_APPLICATION_ID=your-discord-bot-app-id
FLUFFLE_DISCORD_GUILD_ID=
FLUFFLE_DISCORD_OWNER_IDS="1111 2222"
FLUFFLE_DISCORD_LOG_LEVEL=WARN
FLUFFLE_DISCORD_DISCORDGO_LOG_LEVEL=ERROR
FLUFFLE_DISCORD_STARTUP_MESSAGE="I'm here!"
FLUFFLE_DISCORD_GATEWAY_INTENTS=3243773
FLUFFLE_DISCORD_REGISTER_COMMANDS_ON_START=true
FLUFFLE_DISCORD_MENTION_RATE_LIMIT_REQUESTS=2
FLUFFLE_DISCORD_MENTION_RATE_LIMIT_INTERVAL=30s
FLUFFLE_DISCORD_MENTION_RATE_LIMIT_SCOPE=channel

# Discord webhook server

FLUFFLE_DISCORD_WEBHOOK_SERVER_ENABLED=false
FLUFFLE_DISCORD_WEBHOOK_SERVER_LISTEN=127.0.0.1:5001
FLUFFLE_DISCORD_WEBHOOK_SERVER_SSL_CERT=/etc/ssl/cert.pem
FLUFFLE_DISCORD_WEBHOOK_SERVER_SSL_KEY=/etc/ssl/cert.key
FLUFFLE_DISCORD_WEBHOOK_SERVER_SSL_TLS_MIN_VERSION=771
FLUFFLE_DISCORD_WEBHOOK_SERVER_LOG_LEVEL=INFO
FLUFFLE_DISCORD_WEBHOOK_SERVER_PUBLIC_KEY=your_discord_public_key_here
FLUFFLE_DISCORD_WEBHOOK_SERVER_READ_TIMEOUT=5s
FLUFFLE_DISCORD_WEBHOOK_SERVER_READ_HEADER_TIMEOUT=5s
FLUFFLE_DISCORD_WEBHOOK_SERVER_WRITE_TIMEOUT=10s
FLUFFLE_DISCORD_WEBHOOK_SERVER_IDLE_TIMEOUT=30s

# API server

FLUFFLE_API_ENABLED=true
FLUFFLE_API_LISTEN=127.0.0.1:5000
FLUFFLE_API_SSL_CERT=/etc/ssl/cert.pem
FLUFFLE_API_SSL_KEY=/etc/ssl/key.pem
FLUFFLE_API_SSL_TLS_MIN_VERSION=771
FLUFFLE_API_SECRET=your-api-secret
FLUFFLE_API_LOG_LEVEL=DEBUG
FLUFFLE_API_CORS_ALLOW_ORIGINS=https://127.0.0.1:5000 https://localhost:5000
FLUFFLE_API_CORS_ALLOW_METHODS=GET POST PUT PATCH DELETE OPTIONS HEAD
FLUFFLE_API_CORS_ALLOW_CREDENTIALS=true
FLUFFLE_API_CORS_MAX_AGE=12h
FLUFFLE_API_READ_TIMEOUT=5s
FLUFFLE_API_READ_HEADER_TIMEOUT=5s
FLUFFLE_API_WRITE_TIMEOUT=10s
FLUFFLE_API_IDLE_TIMEOUT=30s
FLUFFLE_API_SESSION_MAX_AGE=6h
`

	err := os.WriteFile(envFile, []byte(envContent), 0644)
	require.NoError(t, err)

	rootCmd.SetArgs([]string{fmt.Sprintf("--config=%s", envFile), "version"})
	require.NoError(t, rootCmd.Execute())

	assert.Equal(t, "/home/foo/fluffle.sqlite3", viper.GetString("database"))
	assert.Equal(t, "sqlite", viper.GetString("database_type"))
	assert.Equal(t, 200*time.Millisecond, viper.GetDuration("database_slow_threshold"))
	assert.Equal(t, 30*time.Second, viper.GetDuration("startup_timeout"))
	assert.Equal(t, 60*time.Second, viper.GetDuration("shutdown_timeout"))
	assert.True(t, viper.GetBool("development"))
	assert.Equal(t, "your-discord-bot-token", viper.GetString("discord.token"))
	assert.Equal(t, 3243773, viper.GetInt("discord.gateway_intents"))
	assert.Equal(t, "/etc/ssl/cert.pem", viper.GetString("discord.webhook_server.ssl.cert"))
	assert.Equal(t, 771, viper.GetInt("api.ssl.tls_min_version"))
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		viper.GetStringSlice("api.cors.allow_origins"),
	)

	// Unmarshalled by the root command's PersistentPreRun
	assert.Equal(t, "/home/foo/fluffle.sqlite3", cfg.Database)
	assert.Equal(t, "sqlite", cfg.DatabaseType)
	assert.Equal(t, slog.LevelInfo, cfg.DatabaseLogLevel.Level())
	assert.Equal(t, 200*time.Millisecond, cfg.DatabaseSlowThreshold)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel.Level())
	assert.Equal(t, 30*time.Second, cfg.StartupTimeout)
	assert.Equal(t, 60*time.Second, cfg.ShutdownTimeout)
	assert.Equal(t, time.Minute, cfg.ChannelSettingsTTL)
	assert.True(t, cfg.Development)

	assert.Equal(t, "/var/log/fluffle.log", cfg.LogFile.Path)
	assert.Equal(t, 2, cfg.LogFile.MaxBackups)
	assert.Equal(t, fluffle.DefaultLogFileMaxSizeMB, cfg.LogFile.MaxSizeMB)

	assert.Equal(t, "your-discord-bot-token", cfg.Discord.Token)
	assert.Equal(t, "your-discord-bot-app-id", cfg.Discord.ApplicationID)
	assert.Equal(t, "", cfg.Discord.GuildID)
	assert.Equal(t, []string{"1111", "2222"}, cfg.Discord.OwnerIDs)
	assert.Equal(t, slog.LevelWarn, cfg.Discord.LogLevel.Level())
	assert.Equal(t, slog.LevelError, cfg.Discord.DiscordGoLogLevel.Level())
	assert.Equal(t, "I'm here!", cfg.Discord.StartupMessage)
	assert.Equal(t, discordgo.Intent(3243773), cfg.Discord.GatewayIntents)
	assert.True(t, cfg.Discord.RegisterCommandsOnStart)
	assert.Equal(
		t,
		fluffle.RateLimit{Requests: 2, Interval: 30 * time.Second, Scope: fluffle.RateLimitScopeChannel},
		cfg.Discord.MentionRateLimit.RateLimit(),
	)

	assert.False(t, cfg.Discord.WebhookServer.Enabled)
	assert.Equal(t, "127.0.0.1:5001", cfg.Discord.WebhookServer.Listen)
	assert.Equal(t, "/etc/ssl/cert.pem", cfg.Discord.WebhookServer.SSL.Cert)
	assert.Equal(t, "/etc/ssl/cert.key", cfg.Discord.WebhookServer.SSL.Key)
	assert.Equal(t, uint16(771), cfg.Discord.WebhookServer.SSL.TLSMinVersion)
	assert.Equal(t, slog.LevelInfo, cfg.Discord.WebhookServer.LogLevel.Level())
	assert.Equal(t, "your_discord_public_key_here", cfg.Discord.WebhookServer.PublicKey)
	assert.Equal(t, 5*time.Second, cfg.Discord.WebhookServer.ReadTimeout)
	assert.Equal(t, 5*time.Second, cfg.Discord.WebhookServer.ReadHeaderTimeout)
	assert.Equal(t, 10*time.Second, cfg.Discord.WebhookServer.WriteTimeout)
	assert.Equal(t, 30*time.Second, cfg.Discord.WebhookServer.IdleTimeout)

	assert.True(t, cfg.API.Enabled)
	assert.Equal(t, "127.0.0.1:5000", cfg.API.Listen)
	assert.Equal(t, "tcp", cfg.API.ListenNetwork)
	assert.Equal(t, "/etc/ssl/cert.pem", cfg.API.SSL.Cert)
	assert.Equal(t, "/etc/ssl/key.pem", cfg.API.SSL.Key)
	assert.Equal(t, uint16(771), cfg.API.SSL.TLSMinVersion)
	assert.Equal(t, "your-api-secret", cfg.API.Secret)
	assert.Equal(t, slog.LevelDebug, cfg.API.LogLevel.Level())
	assert.Equal(
		t,
		[]string{"https://127.0.0.1:5000", "https://localhost:5000"},
		cfg.API.CORS.AllowOrigins,
	)
	assert.Equal(
		t,
		[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS", "HEAD"},
		cfg.API.CORS.AllowMethods,
	)
	assert.Equal(t, fluffle.DefaultCORSAllowHeaders, cfg.API.CORS.AllowHeaders)
	assert.True(t, cfg.API.CORS.AllowCredentials)
	assert.Equal(t, 12*time.Hour, cfg.API.CORS.MaxAge)
	assert.Equal(t, 6*time.Hour, cfg.API.SessionMaxAge)
}

func TestLevelToStringHookFunc(t *testing.T) {
	t.Parallel()

	type levels struct {
		Level *slog.LevelVar `mapstructure:"level"`
		Name  string         `mapstructure:"name"`
	}

	var out levels
	decoder, err := mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			DecodeHook: LevelToStringHookFunc(),
			Result:     &out,
		},
	)
	require.NoError(t, err)
	require.NoError(t, decoder.Decode(map[string]any{"level": "warn+2", "name": "DEBUG"}))
	require.NotNil(t, out.Level)
	assert.Equal(t, slog.LevelWarn+2, out.Level.Level())
	assert.Equal(t, "DEBUG", out.Name)

	decoder, err = mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			DecodeHook: LevelToStringHookFunc(),
			Result:     &levels{},
		},
	)
	require.NoError(t, err)
	require.Error(t, decoder.Decode(map[string]any{"level": "LOUD"}))
}

func TestLevelToStringHookFunc_ExistingLevelVar(t *testing.T) {
	t.Parallel()

	type levels struct {
		Level *slog.LevelVar `mapstructure:"level"`
	}

	existing := &slog.LevelVar{}
	existing.Set(slog.LevelError)
	out := levels{Level: existing}

	decoder, err := mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			DecodeHook: LevelToStringHookFunc(),
			Result:     &out,
		},
	)
	require.NoError(t, err)
	require.NoError(t, decoder.Decode(map[string]any{"level": "DEBUG"}))
	assert.Same(t, existing, out.Level)
	assert.Equal(t, slog.LevelDebug, existing.Level())
}

func TestRootCommand_DefaultConfig(t *testing.T) {
	origCfg := cfg
	t.Cleanup(
		func() {
			cfg = origCfg
		},
	)
	cfg = fluffle.DefaultConfig()
	logLevel := cfg.LogLevel
	apiLogLevel := cfg.API.LogLevel

	t.Setenv("FLUFFLE_LOG_LEVEL", "DEBUG")
	t.Setenv("FLUFFLE_API_LOG_LEVEL", "WARN+1")

	out := captureOutput(t)
	rootCmd.SetArgs([]string{"version"})
	require.NoError(t, rootCmd.Execute())
	t.Logf("output: %s", out.String())

	// the level vars are updated in place, so handlers built from the
	// config pick up the loaded levels
	assert.Same(t, logLevel, cfg.LogLevel)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel.Level())
	assert.Same(t, apiLogLevel, cfg.API.LogLevel)
	assert.Equal(t, slog.LevelWarn+1, cfg.API.LogLevel.Level())
	assert.Equal(t, fluffle.DefaultDiscordLogLevel, cfg.Discord.LogLevel.Level())
	assert.Equal(t, fluffle.DefaultDatabaseLogLevel, cfg.DatabaseLogLevel.Level())
}

func TestGetLogLevel(t *testing.T) {
	t.Parallel()

	for s, expected := range map[string]slog.Level{
		"DEBUG": slog.LevelDebug,
		"info":  slog.LevelInfo,
		"WARN":  slog.LevelWarn,
		"error": slog.LevelError,
	} {
		lvl, err := getLogLevel(s)
		require.NoError(t, err)
		assert.Equal(t, expected, lvl)
	}

	_, err := getLogLevel("verbose")
	require.Error(t, err)
}
