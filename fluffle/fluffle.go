package fluffle

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"io"
	"log/slog"
	"net/http"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/cyanoflame/FluffleDiscordBot-sub000/fluffle.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var (
	errShutdownTimeout = errors.New("in-flight handlers did not stop in time")

	shutdownAnnouncementInterval = 10 * time.Second
	runtimeConfigRefreshTimeout  = 30 * time.Second
	commandSyncTimeout           = 30 * time.Second
)

// Fluffle is the bot. It receives interactions (over the gateway, or as
// webhook POSTs) and dispatches them to registered commands, and forwards
// regular messages to triggers.
type Fluffle struct {
	config *Config

	// db is used for reads, writeDB for writes
	db      *gorm.DB
	writeDB DBI

	dbNotifier      DBNotifier
	channelSettings *ChannelSettings

	logger    *slog.Logger
	logOutput logOutput
	logCloser io.Closer

	discord              *Discord
	api                  *API
	discordWebhookServer *DiscordWebhookServer

	registry  *CommandRegistry
	triggers  []Trigger
	triggerMu sync.RWMutex

	runtimeConfig *RuntimeConfig
	cfgMu         sync.RWMutex

	paused       atomic.Bool
	pendingSetup atomic.Bool

	// runMu prevents concurrent runs
	runMu     sync.Mutex
	runCtx    context.Context
	runCtxMu  sync.RWMutex
	startedAt time.Time

	// inflight tracks interaction and message handlers, which are
	// waited on during shutdown
	inflight sync.WaitGroup

	signalStop                    chan struct{}
	signalReady                   chan struct{}
	triggerRuntimeConfigRefreshCh chan bool

	// getInteractionHandlerFunc returns the handler used to respond to
	// an interaction. Defaults to a [GatewayHandler].
	getInteractionHandlerFunc func(
		ctx context.Context,
		i *discordgo.InteractionCreate,
	) InteractionHandler
}

// New returns a bot for the given config, with the built-in commands
// and triggers registered
func New(config *Config) (*Fluffle, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			fmt.Errorf(
				"invalid database type %q (must be %q or %q)",
				config.DatabaseType, dbTypeSQLite, dbTypePostgres,
			),
		)
	}
	if config.Discord == nil {
		return nil, errors.Join(append(errs, errors.New("discord config required"))...)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	out, closer := newLogOutput(config.LogFile)
	f := &Fluffle{
		config:                        config,
		logOutput:                     out,
		logCloser:                     closer,
		registry:                      NewCommandRegistry(),
		signalStop:                    make(chan struct{}, 1),
		signalReady:                   make(chan struct{}, 1),
		triggerRuntimeConfigRefreshCh: make(chan bool, 1),
	}
	f.logger = slog.New(out.handler(config.LogLevel, ""))
	slog.SetDefault(f.logger)

	f.config.Discord.httpClient = f.config.HTTPClient
	disc, err := newDiscord(f.config.Discord)
	if err != nil {
		return nil, errors.Join(append(errs, err)...)
	}
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		out.handler(config.Discord.DiscordGoLogLevel, "discordgo"),
	)
	disc.logger = slog.New(out.handler(config.Discord.LogLevel, "discord"))
	disc.f = f
	f.discord = disc

	errs = append(
		errs,
		f.registry.Register(
			newPingCommand(),
			newHelpCommand(),
			newChannelsCommand(),
			newUserInfoCommand(),
			newMessageInfoCommand(),
		),
	)

	f.AddTrigger(
		WithTriggerRateLimit(
			newMentionTrigger(f.discord.botUserID, DefaultDiscordMentionGreeting),
			config.Discord.MentionRateLimit.RateLimit(),
		),
	)
	for _, kt := range config.Discord.KeywordTriggers {
		tr, e := NewKeywordTrigger(kt.Name, kt.Pattern, kt.Response)
		if e != nil {
			errs = append(errs, e)
			continue
		}
		f.AddTrigger(tr)
	}

	if config.API != nil && config.API.Enabled {
		api, e := newAPI(f, config.API)
		if e != nil {
			errs = append(errs, e)
		}
		f.api = api
	}

	if config.Discord.WebhookServer.Enabled {
		webhookServer, e := newWebhookServer(f, config.Discord.WebhookServer)
		if e != nil {
			errs = append(errs, e)
		}
		f.discordWebhookServer = webhookServer
	}

	if err = errors.Join(errs...); err != nil {
		return nil, err
	}
	return f, nil
}

// ValidateConfig checks the config's `binding` constraints
func (f *Fluffle) ValidateConfig() error {
	return structValidator.Struct(f.config)
}

// RegisterCommand adds commands to the registry. Must be called before
// [Fluffle.Run].
func (f *Fluffle) RegisterCommand(commands ...Command) error {
	return f.registry.Register(commands...)
}

// AddTrigger adds message triggers, which are run in the order added
func (f *Fluffle) AddTrigger(triggers ...Trigger) {
	f.triggerMu.Lock()
	defer f.triggerMu.Unlock()
	f.triggers = append(f.triggers, triggers...)
}

// Triggers returns the registered message triggers
func (f *Fluffle) Triggers() []Trigger {
	f.triggerMu.RLock()
	defer f.triggerMu.RUnlock()
	return slices.Clone(f.triggers)
}

// Registry returns the bot's command registry
func (f *Fluffle) Registry() *CommandRegistry {
	return f.registry
}

// RuntimeConfig returns a copy of the current runtime configuration
func (f *Fluffle) RuntimeConfig() RuntimeConfig {
	f.cfgMu.RLock()
	defer f.cfgMu.RUnlock()
	if f.runtimeConfig == nil {
		return DefaultRuntimeConfig()
	}
	return *f.runtimeConfig
}

// CommandManager returns a manager for the application's commands, in
// the configured guild (or globally). Nil until the discord session
// has been created.
func (f *Fluffle) CommandManager() *CommandManager {
	if f.discord == nil || f.discord.session == nil {
		return nil
	}
	return NewCommandManager(
		f.discord.session,
		f.registry,
		f.config.Discord.ApplicationID,
		f.config.Discord.GuildID,
		f.discord.logger,
	)
}

// CommandManagerFor returns a manager for the guild's commands (global
// if guildID is empty). If the bot isn't running, a REST-only session is
// created, which is enough for the CLI to manage commands.
func (f *Fluffle) CommandManagerFor(guildID string) (*CommandManager, error) {
	if f.discord.session == nil {
		session, err := f.discord.newSession()
		if err != nil {
			return nil, err
		}
		f.discord.session = session
	}
	return NewCommandManager(
		f.discord.session,
		f.registry,
		f.config.Discord.ApplicationID,
		guildID,
		f.discord.logger,
	), nil
}

func (f *Fluffle) isOwner(userID string) bool {
	return userID != "" && slices.Contains(f.config.Discord.OwnerIDs, userID)
}

// runContext returns the context of the current run, which is canceled
// on shutdown
func (f *Fluffle) runContext() context.Context {
	f.runCtxMu.RLock()
	defer f.runCtxMu.RUnlock()
	if f.runCtx == nil {
		return context.Background()
	}
	return f.runCtx
}

func (f *Fluffle) setRunContext(ctx context.Context) {
	f.runCtxMu.Lock()
	defer f.runCtxMu.Unlock()
	f.runCtx = ctx
}

func (f *Fluffle) getLogger(ctx context.Context) *slog.Logger {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		return f.logger
	}
	return logger
}

// interactionHandler returns the REST-backed handler for responding
// to the interaction
func (f *Fluffle) interactionHandler(
	ctx context.Context,
	i *discordgo.InteractionCreate,
) InteractionHandler {
	if f.getInteractionHandlerFunc != nil {
		return f.getInteractionHandlerFunc(ctx, i)
	}
	return newGatewayHandler(
		f.discord.session,
		i,
		f.RuntimeConfig().CommandOptions,
		f.discord.logger.With(slog.Group("interaction", interactionLogAttrs(*i)...)),
	)
}

// Run starts the bot, blocking until ctx is canceled or a stop signal
// is received (from the API, or another instance via [DBNotifier]).
func (f *Fluffle) Run(ctx context.Context) error {
	f.runMu.Lock()
	defer f.runMu.Unlock()

	f.startedAt = time.Now()
	logger := f.logger
	defer func() {
		if err := f.logCloser.Close(); err != nil {
			logger.Error("error closing log file", tint.Err(err))
		}
	}()

	if err := f.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", f.config))

	// canceling this context triggers a graceful shutdown
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	f.setRunContext(ctx)
	defer f.setRunContext(nil)

	go func() {
		select {
		case <-f.signalStop:
			logger.Warn("got stop signal, canceling")
			cancel()
		case <-ctx.Done():
		}
	}()

	runtimeWG := &sync.WaitGroup{}

	startCtx, startCancel := context.WithTimeout(ctx, f.config.StartupTimeout)
	defer startCancel()

	initErr := make(chan error, 1)
	go func() {
		logger.Debug("initializing run...")
		initErr <- f.initRun(startCtx)
	}()

	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out: %w", startCtx.Err())
	case err := <-initErr:
		if err != nil {
			logger.ErrorContext(ctx, "init error", tint.Err(err))
			return err
		}
		logger.InfoContext(ctx, "init complete")
	}

	if f.api != nil {
		go func() {
			httpErr := f.api.Serve(ctx)
			if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
				logger.ErrorContext(ctx, "error serving api HTTP", tint.Err(httpErr))
			}
		}()
		if f.pendingSetup.Load() {
			logger.WarnContext(
				ctx,
				"admin credentials not set, pending initial setup",
				"listen", f.config.API.Listen,
				"path", apiPathSetup,
			)
		}
	}

	if err := f.initDiscordSession(ctx); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return err
	}

	runtimeCfg := f.RuntimeConfig()
	if f.discordWebhookServer != nil {
		f.startWebhookServer(ctx)
	} else if !runtimeCfg.DiscordGatewayEnabled {
		logger.WarnContext(ctx, "discord gateway and webhook server disabled")
	}

	if err := f.discordInit(ctx, runtimeCfg); err != nil {
		return err
	}

	if f.config.Discord.RegisterCommandsOnStart {
		f.syncCommands(ctx)
	}

	f.startRuntimeConfigRefresher(ctx, runtimeWG)
	f.startNotifierListeners(ctx, runtimeWG)

	select {
	case f.signalReady <- struct{}{}:
	default:
	}
	logger.InfoContext(ctx, "ready", "startup_duration", time.Since(f.startedAt))

	<-ctx.Done()
	return f.shutdown(ctx, runtimeWG)
}

func (f *Fluffle) initRun(ctx context.Context) error {
	f.logger.Debug("initializing DB...")
	if err := f.initDB(ctx); err != nil {
		return fmt.Errorf("error initializing database: %w", err)
	}
	f.logger.Debug("finished initializing DB")

	// the paused state is persisted, so a bot paused before a restart
	// comes back paused
	var botState RuntimeConfig
	getStateErr := f.db.WithContext(ctx).Last(&botState).Error
	if getStateErr != nil {
		if !errors.Is(getStateErr, gorm.ErrRecordNotFound) {
			return fmt.Errorf("error getting config: %w", getStateErr)
		}
		botState = DefaultRuntimeConfig()
		if _, err := f.writeDB.Create(ctx, &botState); err != nil {
			return fmt.Errorf("error creating config: %w", err)
		}
	}
	if err := structValidator.Struct(botState); err != nil {
		return fmt.Errorf("invalid runtime config: %w", err)
	}

	f.pendingSetup.Store(botState.AdminUsername == "" || botState.AdminPassword == "")
	f.paused.Store(botState.Paused)
	f.setRuntimeLevels(botState)

	f.cfgMu.Lock()
	f.runtimeConfig = &botState
	f.cfgMu.Unlock()
	return nil
}

// initDB opens and migrates the database, and sets up the channel
// settings store and cross-instance notifier
func (f *Fluffle) initDB(ctx context.Context) error {
	logger := f.getLogger(ctx)

	handler := f.logOutput.handler(f.config.DatabaseLogLevel, "database")
	gormLogger := newGORMLogger(handler, f.config.DatabaseSlowThreshold)
	db, err := getDB(f.config.DatabaseType, f.config.Database, gormLogger)
	if err != nil {
		return fmt.Errorf("error opening database: %w", err)
	}

	if f.config.DatabaseType == dbTypeSQLite {
		if err = configureSQLite(ctx, db); err != nil {
			return err
		}
	}

	logger.Debug("migrating database...")
	if err = migrate(ctx, db); err != nil {
		logger.Error("error migrating database", tint.Err(err))
		return fmt.Errorf("error migrating database: %w", err)
	}
	logger.Debug("finished migrating database")

	f.db = db
	f.writeDB = NewDatabase(db, slog.New(handler), f.config.DatabaseType == dbTypePostgres)

	notifier, err := newDBNotifier(f)
	if err != nil {
		return fmt.Errorf("error creating db notifier: %w", err)
	}
	f.dbNotifier = notifier
	f.channelSettings = NewChannelSettings(
		db,
		f.writeDB,
		notifier,
		f.config.ChannelSettingsTTL,
		f.logger,
	)
	return nil
}

// initDiscordSession creates the discord session (if one wasn't
// provided), and adds the gateway event handlers
func (f *Fluffle) initDiscordSession(ctx context.Context) error {
	logger := f.discord.logger.With(loggerNameKey, "discord_session")

	if f.discord.session == nil {
		disc, err := f.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		f.discord.session = disc
	}

	ctx = WithLogger(ctx, logger)

	for _, h := range f.discord.discordgoRemoveHandlerFuncs {
		h()
	}

	f.discord.session.SetIdentify(
		discordgo.Identify{
			Intents:  f.config.Discord.GatewayIntents,
			Presence: getDiscordPresenceStatusUpdate(f.RuntimeConfig()),
		},
	)

	f.discord.discordgoRemoveHandlerFuncs = []func(){
		f.discord.session.AddHandler(f.discord.handlerConnect()),
		f.discord.session.AddHandler(f.discord.handlerDisconnect()),
		f.discord.session.AddHandler(f.discord.handlerReady()),
		f.discord.session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				handler := f.interactionHandler(ctx, i)
				f.inflight.Add(1)
				go func() {
					defer f.inflight.Done()
					f.handleInteraction(ctx, handler)
				}()
			},
		),
		f.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				f.inflight.Add(1)
				go func() {
					defer f.inflight.Done()
					f.handleDiscordMessage(ctx, m)
				}()
			},
		),
	}
	return nil
}

// discordInit opens the discord websocket connection, if the gateway
// is enabled
func (f *Fluffle) discordInit(ctx context.Context, runtimeCfg RuntimeConfig) error {
	if !runtimeCfg.DiscordGatewayEnabled {
		return nil
	}
	f.logger.InfoContext(ctx, "connecting to discord")
	if err := f.discord.session.Open(); err != nil {
		f.logger.ErrorContext(ctx, "error connecting to discord!", tint.Err(err))
		return fmt.Errorf("error connecting to discord: %w", err)
	}
	return nil
}

// syncCommands overwrites the remote command set with the local one
func (f *Fluffle) syncCommands(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, commandSyncTimeout)
	defer cancel()
	registered, err := f.CommandManager().Sync(ctx)
	if err != nil {
		f.logger.ErrorContext(ctx, "error registering commands", tint.Err(err))
		return
	}
	f.logger.InfoContext(ctx, "registered commands", "count", len(registered))
}

func (f *Fluffle) startWebhookServer(ctx context.Context) {
	go func() {
		httpErr := f.discordWebhookServer.Serve(ctx)
		if httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			f.logger.ErrorContext(ctx, "error serving webhook HTTP", tint.Err(httpErr))
		}
	}()
}

func (f *Fluffle) startNotifierListeners(ctx context.Context, runtimeWG *sync.WaitGroup) {
	channels := []string{
		f.dbNotifier.RuntimeConfigChannelName(),
		f.dbNotifier.ChannelSettingsChannelName(),
		f.dbNotifier.StopChannelName(),
	}
	for _, channel := range channels {
		channel := channel
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			if e := f.dbNotifier.Listen(ctx, channel); e != nil {
				f.logger.ErrorContext(
					ctx,
					"error listening to notifier channel",
					"channel", channel,
					tint.Err(e),
				)
			}
		}()
	}
}

// startRuntimeConfigRefresher reloads the runtime config when signaled
// (by the notifier), and every RuntimeConfigTTL if one is set
func (f *Fluffle) startRuntimeConfigRefresher(ctx context.Context, runtimeWG *sync.WaitGroup) {
	runtimeConfigTTL := f.config.RuntimeConfigTTL
	logger := f.logger

	if runtimeConfigTTL > 0 {
		runtimeWG.Add(1)
		go func() {
			defer runtimeWG.Done()
			ticker := time.NewTicker(runtimeConfigTTL)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					select {
					case f.triggerRuntimeConfigRefreshCh <- false:
						logger.Debug("sent config refresh signal from ticker")
					case <-ctx.Done():
						return
					}
				}
			}
		}()
	}

	runtimeWG.Add(1)
	go func() {
		defer runtimeWG.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case force := <-f.triggerRuntimeConfigRefreshCh:
				refreshCtx, refreshCancel := context.WithTimeout(ctx, runtimeConfigRefreshTimeout)
				f.refreshRuntimeConfig(refreshCtx, force)
				refreshCancel()
			}
		}
	}()
}

// refreshRuntimeConfig reloads the runtime config from the database.
// Unless forced, the reload is skipped if the config was updated within
// RuntimeConfigTTL.
func (f *Fluffle) refreshRuntimeConfig(ctx context.Context, force bool) {
	f.cfgMu.Lock()

	var loaded RuntimeConfig
	if err := f.db.WithContext(ctx).Last(&loaded).Error; err != nil {
		f.cfgMu.Unlock()
		f.logger.ErrorContext(ctx, "error getting runtime config", tint.Err(err))
		return
	}

	lastUpdated := time.Since(time.UnixMilli(loaded.UpdatedAt))
	if !force && lastUpdated <= f.config.RuntimeConfigTTL {
		f.cfgMu.Unlock()
		f.logger.DebugContext(ctx, "runtime config is up to date, skipping refresh")
		return
	}

	var previous RuntimeConfig
	if f.runtimeConfig != nil {
		previous = *f.runtimeConfig
	}
	f.runtimeConfig = &loaded
	f.cfgMu.Unlock()

	f.logger.InfoContext(ctx, "refreshing runtime config", "last_updated", lastUpdated.String())
	f.applyRuntimeConfig(ctx, f.logger, previous, loaded)
}

// applyRuntimeConfig applies a change in runtime config: log levels,
// the paused state, and the gateway connection and presence
func (f *Fluffle) applyRuntimeConfig(
	ctx context.Context,
	logger *slog.Logger,
	previous RuntimeConfig,
	updated RuntimeConfig,
) {
	f.setRuntimeLevels(updated)
	if wasPaused := f.paused.Swap(updated.Paused); wasPaused != updated.Paused {
		logger.WarnContext(ctx, "paused state changed", "paused", updated.Paused)
	}

	if f.discord == nil || f.discord.session == nil {
		return
	}
	session := f.discord.session

	switch {
	case previous.DiscordGatewayEnabled && !updated.DiscordGatewayEnabled:
		logger.WarnContext(ctx, "closing discord gateway connection")
		if err := session.Close(); err != nil {
			logger.ErrorContext(ctx, "error closing discord connection", tint.Err(err))
		}
	case !previous.DiscordGatewayEnabled && updated.DiscordGatewayEnabled:
		logger.InfoContext(ctx, "opening discord gateway connection")
		session.SetIdentify(
			discordgo.Identify{
				Intents:  f.config.Discord.GatewayIntents,
				Presence: getDiscordPresenceStatusUpdate(updated),
			},
		)
		if err := session.Open(); err != nil {
			logger.ErrorContext(ctx, "error opening discord connection", tint.Err(err))
		}
	case updated.DiscordGatewayEnabled &&
		(previous.Paused != updated.Paused ||
			previous.DiscordCustomStatus != updated.DiscordCustomStatus):
		if err := session.UpdateStatusComplex(getDiscordStatusData(updated)); err != nil {
			logger.ErrorContext(ctx, "error updating discord status", tint.Err(err))
		}
	}

	if previous.DiscordGoLogLevel != updated.DiscordGoLogLevel {
		if err := session.SetLogLevel(updated.DiscordGoLogLevel.Level()); err != nil {
			logger.ErrorContext(ctx, "error setting discordgo log level", tint.Err(err))
		}
	}
}

// setRuntimeLevels sets each subsystem's log level from the runtime config
func (f *Fluffle) setRuntimeLevels(state RuntimeConfig) {
	setLevel := func(v *slog.LevelVar, level DBLogLevel) {
		if v != nil && level != "" {
			v.Set(level.Level())
		}
	}
	setLevel(f.config.LogLevel, state.LogLevel)
	setLevel(f.config.DatabaseLogLevel, state.DatabaseLogLevel)
	if f.config.Discord != nil {
		setLevel(f.config.Discord.LogLevel, state.DiscordLogLevel)
		setLevel(f.config.Discord.DiscordGoLogLevel, state.DiscordGoLogLevel)
		setLevel(f.config.Discord.WebhookServer.LogLevel, state.DiscordWebhookLogLevel)
	}
	if f.config.API != nil {
		setLevel(f.config.API.LogLevel, state.APILogLevel)
	}
}

// Pause pauses the bot: only owners may use commands, and triggers
// don't fire. Returns false if the bot was already paused.
func (f *Fluffle) Pause(ctx context.Context) bool {
	if f.paused.Swap(true) {
		return false
	}
	f.logger.WarnContext(ctx, "bot paused")
	f.persistPaused(ctx, true)
	return true
}

// Resume resumes the bot. Returns false if the bot wasn't paused.
func (f *Fluffle) Resume(ctx context.Context) bool {
	if !f.paused.Swap(false) {
		f.logger.WarnContext(ctx, "bot not paused")
		return false
	}
	f.logger.InfoContext(ctx, "bot resumed")
	f.persistPaused(ctx, false)
	return true
}

// persistPaused saves the paused state, and updates the bot's presence
// to match
func (f *Fluffle) persistPaused(ctx context.Context, paused bool) {
	f.cfgMu.Lock()
	var current RuntimeConfig
	if f.runtimeConfig != nil {
		if f.runtimeConfig.Paused != paused && f.writeDB != nil {
			if _, err := f.writeDB.Updates(
				ctx,
				f.runtimeConfig,
				map[string]any{columnRuntimeConfigPaused: paused},
			); err != nil {
				f.logger.ErrorContext(ctx, "unable to save paused state", tint.Err(err))
			}
		}
		f.runtimeConfig.Paused = paused
		current = *f.runtimeConfig
	} else {
		current = DefaultRuntimeConfig()
		current.Paused = paused
	}
	f.cfgMu.Unlock()

	if f.discord == nil || f.discord.session == nil || !current.DiscordGatewayEnabled {
		return
	}
	if err := f.discord.session.UpdateStatusComplex(getDiscordStatusData(current)); err != nil {
		f.logger.ErrorContext(ctx, "unable to update discord status", tint.Err(err))
	}
}

// handleInteraction dispatches an interaction to the matching command
func (f *Fluffle) handleInteraction(ctx context.Context, handler InteractionHandler) {
	i := handler.GetInteraction()
	logger := handler.Logger()
	if logger == nil {
		logger = f.getLogger(ctx)
	}

	if i.Type == discordgo.InteractionPing {
		if err := handler.Respond(
			ctx,
			&discordgo.InteractionResponse{Type: discordgo.InteractionResponsePong},
		); err != nil {
			logger.ErrorContext(ctx, "error responding to ping", tint.Err(err))
		}
		return
	}

	discordUser := getDiscordUser(i)
	if discordUser == nil {
		logger.ErrorContext(ctx, "no user found in interaction", "interaction", structToSlogValue(i))
		return
	}
	logger = logger.With("user_id", discordUser.ID, "username", discordUser.Username)
	ctx = WithLogger(ctx, logger)

	if discordUser.Bot {
		logger.WarnContext(ctx, "user is bot, ignoring")
		return
	}

	switch i.Type {
	case discordgo.InteractionApplicationCommand:
		logger.InfoContext(ctx, "received command")

		wg := &sync.WaitGroup{}
		defer wg.Wait()
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.saveInteractionLog(ctx, i, discordUser, handler)
		}()

		f.dispatchCommand(ctx, logger, handler)
	case discordgo.InteractionApplicationCommandAutocomplete:
		f.dispatchAutocomplete(ctx, logger, handler)
	default:
		logger.DebugContext(ctx, "ignoring interaction", "type", i.Type.String())
	}
}

func (f *Fluffle) saveInteractionLog(
	ctx context.Context,
	i *discordgo.InteractionCreate,
	u *discordgo.User,
	handler InteractionHandler,
) {
	if f.writeDB == nil {
		return
	}
	logger := f.getLogger(ctx)
	interactionLog, err := newInteractionLog(i, u, handler)
	if err != nil {
		logger.ErrorContext(ctx, "error marshaling interaction", tint.Err(err))
		return
	}
	if _, err = f.writeDB.Create(context.WithoutCancel(ctx), interactionLog); err != nil {
		logger.ErrorContext(ctx, "error logging interaction", tint.Err(err))
	}
}

// dispatchCommand runs an application command: the paused state, the
// guild's channel policy and deferral are applied before the command
// executes
func (f *Fluffle) dispatchCommand(
	ctx context.Context,
	logger *slog.Logger,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	data := i.ApplicationCommandData()
	config := handler.Config()
	cc := NewCommandContext(f, handler, i, logger)

	reply := func(content string) {
		if err := cc.ReplyEphemeral(ctx, content); err != nil {
			logger.ErrorContext(ctx, "error responding to interaction", tint.Err(err))
		}
	}

	cmd, ok := f.registry.Get(data.CommandType, data.Name)
	if !ok {
		logger.WarnContext(ctx, "unknown command", tint.Err(ErrUnknownCommand), "command", data.Name)
		reply(config.DiscordErrorMessage)
		return
	}
	logger = logger.With("command", cmd.Name())
	ctx = WithLogger(ctx, logger)
	cc.Logger = logger

	if f.paused.Load() && !cc.IsOwner() {
		logger.InfoContext(ctx, "bot paused, ignoring command")
		reply(config.DiscordPausedMessage)
		return
	}

	if !cmd.BypassChannelPolicy() && i.GuildID != "" && f.channelSettings != nil {
		allowed, err := f.channelSettings.Allowed(ctx, i.GuildID, i.ChannelID)
		if err != nil {
			logger.ErrorContext(ctx, "error checking channel policy", tint.Err(err))
			reply(config.DiscordErrorMessage)
			return
		}
		if !allowed {
			logger.InfoContext(ctx, "command used in denied channel")
			reply(config.DiscordChannelDeniedMessage)
			return
		}
	}

	switch cmd.Defer() {
	case DeferPublic, DeferEphemeral:
		if err := cc.Defer(ctx, cmd.Defer() == DeferEphemeral); err != nil {
			logger.ErrorContext(ctx, "error deferring command", tint.Err(err))
			return
		}
	}

	started := time.Now()
	if err := f.executeCommand(ctx, cmd, cc, config.RecoverPanic); err != nil {
		logger.ErrorContext(ctx, "command failed", tint.Err(err), "duration", time.Since(started))
		reply(config.DiscordErrorMessage)
		return
	}
	logger.InfoContext(ctx, "command finished", "duration", time.Since(started))
}

func (f *Fluffle) executeCommand(
	ctx context.Context,
	cmd Command,
	cc *CommandContext,
	recoverPanic bool,
) (err error) {
	if recoverPanic {
		defer func() {
			if rc := recover(); rc != nil {
				f.handleRecover(ctx, rc)
				err = fmt.Errorf("recovered from panic: %v", rc)
			}
		}()
	}
	return cmd.Execute(ctx, cc)
}

// dispatchAutocomplete responds with the command's suggestions for the
// focused option. Unknown commands, denied users and failing handlers
// get an empty list.
func (f *Fluffle) dispatchAutocomplete(
	ctx context.Context,
	logger *slog.Logger,
	handler InteractionHandler,
) {
	i := handler.GetInteraction()
	data := i.ApplicationCommandData()
	cc := NewCommandContext(f, handler, i, logger)

	var choices []*discordgo.ApplicationCommandOptionChoice
	cmd, ok := f.registry.Get(data.CommandType, data.Name)
	switch {
	case !ok:
		logger.WarnContext(ctx, "autocomplete for unknown command", "command", data.Name)
	case f.paused.Load() && !cc.IsOwner():
		//
	default:
		var err error
		choices, err = f.autocomplete(ctx, cmd, cc, handler.Config().RecoverPanic)
		if err != nil {
			logger.ErrorContext(ctx, "autocomplete failed", tint.Err(err), "command", data.Name)
			choices = nil
		}
	}
	if choices == nil {
		choices = []*discordgo.ApplicationCommandOptionChoice{}
	}

	if err := handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionApplicationCommandAutocompleteResult,
			Data: &discordgo.InteractionResponseData{Choices: choices},
		},
	); err != nil {
		logger.ErrorContext(ctx, "error sending autocomplete choices", tint.Err(err))
	}
}

func (f *Fluffle) autocomplete(
	ctx context.Context,
	cmd Command,
	cc *CommandContext,
	recoverPanic bool,
) (choices []*discordgo.ApplicationCommandOptionChoice, err error) {
	if recoverPanic {
		defer func() {
			if rc := recover(); rc != nil {
				f.handleRecover(ctx, rc)
				choices, err = nil, fmt.Errorf("recovered from panic: %v", rc)
			}
		}()
	}
	return cmd.Autocomplete(ctx, cc)
}

// handleDiscordMessage runs each matching trigger for a message, and
// records which triggers fired
func (f *Fluffle) handleDiscordMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil {
		return
	}
	msg := m.Message
	author := messageAuthor(msg)
	switch {
	case author == nil,
		author.Bot,
		author.ID == f.discord.botUserID(),
		msg.MentionEveryone,
		f.paused.Load():
		return
	}

	logger := f.discord.logger.With(
		slog.Group(
			"message",
			"id", msg.ID,
			"channel_id", msg.ChannelID,
			"guild_id", msg.GuildID,
			"author_id", author.ID,
		),
	)
	ctx = WithLogger(ctx, logger)

	if msg.GuildID != "" && f.channelSettings != nil {
		allowed, err := f.channelSettings.Allowed(ctx, msg.GuildID, msg.ChannelID)
		if err != nil {
			logger.ErrorContext(ctx, "error checking channel policy", tint.Err(err))
			return
		}
		if !allowed {
			return
		}
	}

	recoverPanic := f.RuntimeConfig().RecoverPanic
	tc := &TriggerContext{
		Message: msg,
		Bot:     f,
		Session: f.discord.session,
		Logger:  logger,
	}

	for _, tr := range f.Triggers() {
		if !tr.Matches(msg) {
			continue
		}
		triggerLogger := logger.With("trigger", tr.Name())
		triggerLogger.InfoContext(ctx, "trigger matched")
		if err := f.executeTrigger(ctx, tr, tc, recoverPanic); err != nil {
			triggerLogger.ErrorContext(ctx, "trigger failed", tint.Err(err))
		}
		f.saveDiscordMessage(ctx, msg, tr.Name())
	}
}

func (f *Fluffle) executeTrigger(
	ctx context.Context,
	tr Trigger,
	tc *TriggerContext,
	recoverPanic bool,
) (err error) {
	if recoverPanic {
		defer func() {
			if rc := recover(); rc != nil {
				f.handleRecover(ctx, rc)
				err = fmt.Errorf("recovered from panic: %v", rc)
			}
		}()
	}
	return tr.Execute(ctx, tc)
}

func (f *Fluffle) saveDiscordMessage(ctx context.Context, msg *discordgo.Message, trigger string) {
	if f.writeDB == nil {
		return
	}
	record := NewDiscordMessage(msg, trigger)
	if _, err := f.writeDB.Create(context.WithoutCancel(ctx), &record); err != nil {
		f.getLogger(ctx).ErrorContext(ctx, "error saving discord message", tint.Err(err))
	}
}

func (f *Fluffle) handleRecover(ctx context.Context, rc any) {
	logger := f.getLogger(ctx)
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(errors.New(v)), "stack_trace", stackTrace)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}

// shutdown stops the HTTP servers, waits on in-flight handlers and
// closes the discord session. If that doesn't finish within
// ShutdownTimeout, the servers are force closed.
func (f *Fluffle) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := f.logger
	logger.WarnContext(ctx, "shutting down")

	shutdownStart := time.Now()
	shutdownTimeout := f.config.ShutdownTimeout
	if shutdownTimeout <= 0 {
		logger.Warn("immediate shutdown")
		f.forceClose()
		return nil
	}
	shutdownDeadline := shutdownStart.Add(shutdownTimeout)
	logger.InfoContext(
		ctx,
		"exiting!",
		"shutdown_timeout", shutdownTimeout,
		"shutdown_deadline", shutdownDeadline,
	)

	closeCtx, closeCancel := context.WithDeadline(context.Background(), shutdownDeadline)
	defer closeCancel()

	gracefulShutdownCh := make(chan struct{}, 1)
	go func() {
		stopWG := &sync.WaitGroup{}
		if f.api != nil && f.api.httpServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				logger.InfoContext(ctx, "stopping api server")
				_ = f.api.httpServer.Shutdown(closeCtx)
				logger.InfoContext(ctx, "api server stopped")
			}()
		}
		if f.discordWebhookServer != nil {
			stopWG.Add(1)
			go func() {
				defer stopWG.Done()
				logger.InfoContext(ctx, "stopping webhook server")
				_ = f.discordWebhookServer.httpServer.Shutdown(closeCtx)
				logger.InfoContext(ctx, "webhook server stopped")
			}()
		}
		stopWG.Wait()

		runtimeWG.Wait()
		f.inflight.Wait()
		logger.InfoContext(ctx, "finished handling in-flight requests")

		if f.discord.session != nil {
			logger.InfoContext(ctx, "closing discord session")
			_ = f.discord.session.Close()
			for _, h := range f.discord.discordgoRemoveHandlerFuncs {
				h()
			}
			f.discord.discordgoRemoveHandlerFuncs = nil
		}
		gracefulShutdownCh <- struct{}{}
	}()

	announcementTicker := time.NewTicker(shutdownAnnouncementInterval)
	defer announcementTicker.Stop()

	for {
		select {
		case <-gracefulShutdownCh:
			logger.InfoContext(ctx, "shutdown complete", "shutdown_duration", time.Since(shutdownStart))
			return nil
		case <-announcementTicker.C:
			logger.Warn(fmt.Sprintf("time until hard shutdown: %s", time.Until(shutdownDeadline)))
		case <-closeCtx.Done():
			logger.Warn("handlers did not stop in time, forcing close")
			f.forceClose()
			return errShutdownTimeout
		}
	}
}

func (f *Fluffle) forceClose() {
	if f.api != nil && f.api.httpServer != nil {
		_ = f.api.httpServer.Close()
	}
	if f.discordWebhookServer != nil {
		_ = f.discordWebhookServer.httpServer.Close()
	}
	if f.discord != nil && f.discord.session != nil {
		_ = f.discord.session.Close()
	}
}
