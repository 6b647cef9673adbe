package cmd

import (
	"context"
	"fmt"
	"github.com/cyanoflame/FluffleDiscordBot-sub000/fluffle"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = fluffle.DefaultConfig()
	configFile string
	verbose    bool
)

// levelKeys are the config keys holding a *slog.LevelVar
var levelKeys = []string{
	"log_level",
	"database_log_level",
	"discord.log_level",
	"discord.discordgo_log_level",
	"discord.webhook_server.log_level",
	"api.log_level",
}

// sliceKeys are the config keys holding whitespace-separated lists
var sliceKeys = []string{
	"discord.owner_ids",
	"api.cors.allow_headers",
	"api.cors.allow_origins",
	"api.cors.allow_methods",
	"api.cors.expose_headers",
}

var rootCmd = &cobra.Command{
	Use:   "fluffle [flags]",
	Short: "A Discord bot, and tools for managing its application commands",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		err := viper.Unmarshal(
			cfg,
			viper.DecodeHook(
				mapstructure.ComposeDecodeHookFunc(
					mapstructure.StringToTimeDurationHookFunc(),
					LevelToStringHookFunc(),
				),
			),
		)
		if err != nil {
			log.Fatalln(err)
		}
	},
}

func getLogLevel(level string) (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
	return lvl, nil
}

// LevelToStringHookFunc decodes level names ("DEBUG", "warn", "INFO+2")
// into a *slog.LevelVar.
//
// mapstructure dereferences pointers that are already set, so the target
// may be the slog.LevelVar itself. Returning a *slog.LevelVar works for
// both: a struct target is set from the value it points to.
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}

		typ := t
		if typ.Kind() == reflect.Ptr {
			typ = typ.Elem()
		}
		if typ != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, fmt.Errorf("invalid log level: %s", data)
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil && verbose {
			log.Println("No .env file found")
		}
	} else {
		if verbose {
			log.Println("loading env from file", configFile)
		}
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", fluffle.DefaultDatabase)
	viper.SetDefault("database_type", fluffle.DefaultDatabaseType)
	viper.SetDefault(
		"database_slow_threshold",
		fluffle.DefaultDatabaseSlowThreshold,
	)
	viper.SetDefault(
		"database_log_level",
		fluffle.DefaultDatabaseLogLevel.String(),
	)
	viper.SetDefault("development", false)

	viper.SetDefault("runtime_config_ttl", fluffle.DefaultRuntimeConfigTTL)
	viper.SetDefault("channel_settings_ttl", fluffle.DefaultChannelSettingsTTL)

	viper.SetDefault("log_level", fluffle.DefaultLogLevel.String())
	viper.SetDefault("api.log_level", fluffle.DefaultAPILogLevel.String())

	viper.SetDefault("startup_timeout", fluffle.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", fluffle.DefaultShutdownTimeout)

	// Rotating log file
	viper.SetDefault("log_file.path", "")
	viper.SetDefault("log_file.max_size_mb", fluffle.DefaultLogFileMaxSizeMB)
	viper.SetDefault("log_file.max_backups", fluffle.DefaultLogFileMaxBackups)
	viper.SetDefault("log_file.max_age_days", fluffle.DefaultLogFileMaxAgeDays)
	viper.SetDefault("log_file.compress", false)

	// Discord config
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.application_id", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.owner_ids", []string{})
	viper.SetDefault(
		"discord.log_level",
		fluffle.DefaultDiscordLogLevel.String(),
	)
	viper.SetDefault(
		"discord.discordgo_log_level",
		fluffle.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault(
		"discord.gateway_intents",
		fluffle.DefaultDiscordGatewayIntent,
	)
	viper.SetDefault("discord.startup_message", fluffle.DefaultDiscordStartupMessage)
	viper.SetDefault("discord.register_commands_on_start", false)

	defaultMentionLimit := cfg.Discord.MentionRateLimit
	viper.SetDefault("discord.mention_rate_limit.requests", defaultMentionLimit.Requests)
	viper.SetDefault("discord.mention_rate_limit.interval", defaultMentionLimit.Interval)
	viper.SetDefault("discord.mention_rate_limit.scope", string(defaultMentionLimit.Scope))

	// Discord: Webhook server
	viper.SetDefault("discord.webhook_server.enabled", false)
	viper.SetDefault(
		"discord.webhook_server.listen",
		fluffle.DefaultDiscordWebhookServerListen,
	)
	viper.SetDefault("discord.webhook_server.public_key", "")
	viper.SetDefault(
		"discord.webhook_server.read_timeout",
		fluffle.DefaultReadTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.read_header_timeout",
		fluffle.DefaultReadHeaderTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.write_timeout",
		fluffle.DefaultWriteTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.idle_timeout",
		fluffle.DefaultIdleTimeout,
	)
	viper.SetDefault(
		"discord.webhook_server.log_level",
		fluffle.DefaultDiscordWebhookLogLevel.String(),
	)
	viper.SetDefault(
		"discord.webhook_server.ssl.tls_min_version",
		fluffle.DefaultDiscordWebhookServerTLSminVersion,
	)

	fatalErr := func(err error) {
		if err != nil {
			log.Fatalf("error: %v", err)
		}
	}

	// Discord: Webhook server: SSL
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.cert"))
	fatalErr(viper.BindEnv("discord.webhook_server.ssl.key"))

	// API config
	viper.SetDefault("api.enabled", false)
	viper.SetDefault("api.listen", fluffle.DefaultAPIListen)
	viper.SetDefault("api.listen_network", "tcp")
	viper.SetDefault("api.secret", "")

	viper.SetDefault(
		"api.session_max_age",
		fluffle.DefaultAPISessionMaxAge,
	)
	viper.SetDefault("api.read_timeout", fluffle.DefaultReadTimeout)
	viper.SetDefault(
		"api.read_header_timeout",
		fluffle.DefaultReadHeaderTimeout,
	)
	viper.SetDefault("api.write_timeout", fluffle.DefaultWriteTimeout)
	viper.SetDefault("api.idle_timeout", fluffle.DefaultIdleTimeout)

	// API: SSL config
	fatalErr(viper.BindEnv("api.ssl.cert"))
	fatalErr(viper.BindEnv("api.ssl.key"))
	viper.SetDefault("api.ssl.tls_min_version", fluffle.DefaultUITLSMinVersion)

	// API: CORS config
	viper.SetDefault(
		"api.cors.allow_headers",
		fluffle.DefaultCORSAllowHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_methods",
		fluffle.DefaultCORSAllowMethods,
	)
	viper.SetDefault(
		"api.cors.expose_headers",
		fluffle.DefaultCORSExposeHeaders,
	)
	viper.SetDefault(
		"api.cors.allow_origins",
		[]string{},
	)
	viper.SetDefault("api.cors.max_age", fluffle.DefaultCORSMaxAge)
	viper.SetDefault(
		"api.cors.allow_credentials",
		fluffle.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(fluffle.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = fluffle.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Convert values to correct types
	for _, key := range sliceKeys {
		viper.Set(key, viper.GetStringSlice(key))
	}

	if verbose {
		for k, v := range viper.AllSettings() {
			log.Printf("config: %s: %v", k, v)
		}
	}

	// levels are decoded by LevelToStringHookFunc, but are checked here
	// so a typo fails before anything starts
	for _, key := range levelKeys {
		if _, err := getLogLevel(viper.GetString(key)); err != nil {
			log.Fatalf("error parsing %s: %v", key, err)
		}
	}
}

//goland:noinspection GoLinter,GoLinter
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load settings from",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Print the loaded configuration",
	)
}
