package fluffle

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	gsessions "github.com/gorilla/sessions"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
)

const (
	pprofPrefix            = "/debug"
	apiPrefix              = "/api"
	apiPathPause           = "/pause"
	apiPathResume          = "/resume"
	apiPathQuit            = "/quit"
	apiPathLogin           = "/login"
	apiPathLogout          = "/logout"
	apiPathLoggedIn        = "/logged_in"
	apiHealthCheck         = "/healthz"
	apiPathConfig          = "/config"
	apiPathSetup           = "/setup"
	apiPathSetupStatus     = "/setup/status"
	apiPathCommands        = "/commands"
	apiPathCommandsSync    = "/commands/register"
	apiPathGuildChannels   = "/guilds/:guild_id/channels"
	apiPathGuildChannel    = "/guilds/:guild_id/channels/:channel_id"
	apiQueryParamList      = "list"
	apiNotifyTimeout       = 30 * time.Second
	apiCommandsSyncTimeout = time.Minute
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
)

var structValidator = validator.New()

// API is the admin HTTP API. Everything but login, setup and the health
// check requires a session cookie.
type API struct {
	config              *APIConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	logger              *slog.Logger

	handlers *APIHandlers
}

func newAPI(f *Fluffle, config *APIConfig) (*API, error) {
	logger := slog.New(f.logOutput.handler(config.LogLevel, "api"))

	r := gin.New()
	api := &API{
		config:              config,
		engine:              r,
		loginRequestLimiter: rate.NewLimiter(rate.Limit(1), 1),
		logger:              logger,
	}
	apiHandlers := NewAPIHandlers(f, config, logger)
	api.handlers = apiHandlers
	api.store = apiHandlers.store

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	if config.SSL.Enabled() {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 && f.config.Development {
		corsConfig.AllowOrigins = []string{"*"}
		corsConfig.AllowCredentials = false
	}

	if !f.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		sessions.Sessions(sessionVarName, apiHandlers.store),
	)
	if len(corsConfig.AllowOrigins) > 0 {
		r.Use(cors.New(corsConfig))
	}

	r.POST(apiPathLogin, apiHandlers.loginHandler)
	r.POST(apiPathLogout, apiHandlers.logoutHandler)
	r.GET(apiHealthCheck, apiHandlers.healthCheck)
	r.GET(apiPathSetupStatus, apiHandlers.setupStatus)
	r.POST(apiPathSetup, apiHandlers.adminSetup)

	if f.config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	protected := r.Group(apiPrefix)
	protected.Use(authMiddleware(f, apiHandlers.store))

	protected.GET(apiPathLoggedIn, apiHandlers.loggedIn)
	protected.GET(apiPathConfig, apiHandlers.getConfig)
	protected.PATCH(apiPathConfig, apiHandlers.updateRuntimeConfig)
	protected.POST(apiPathPause, apiHandlers.botPause)
	protected.POST(apiPathResume, apiHandlers.botResume)
	protected.POST(apiPathQuit, apiHandlers.botQuit)
	protected.GET(apiPathCommands, apiHandlers.getCommands)
	protected.POST(apiPathCommandsSync, apiHandlers.syncCommands)
	protected.GET(apiPathGuildChannels, apiHandlers.getGuildChannels)
	protected.POST(apiPathGuildChannels, apiHandlers.addGuildChannel)
	protected.DELETE(apiPathGuildChannels, apiHandlers.resetGuildChannels)
	protected.DELETE(apiPathGuildChannel, apiHandlers.removeGuildChannel)

	return api, nil
}

// Serve listens on the configured network and address. When SSL is
// configured, the listener is wrapped with TLS.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, a.config.ListenNetwork, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		if a.httpServer.TLSConfig != nil {
			ln = tls.NewListener(ln, a.httpServer.TLSConfig)
		}
		a.listener = ln
	}
	a.logger.InfoContext(ctx, "starting API server", "listen", a.listener.Addr())
	return a.httpServer.Serve(a.listener)
}

func (a *API) getSessionUsername(c *gin.Context) (string, error) {
	session, err := a.store.Get(c.Request, sessionVarName)
	if err != nil {
		return "", err
	}
	username, ok := session.Values[sessionVarField].(string)
	if !ok || username == "" {
		return "", errors.New("username not found in session")
	}
	return username, nil
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// APIHandlers contains the handlers for the admin API endpoints
type APIHandlers struct {
	f      *Fluffle
	config *APIConfig
	logger *slog.Logger
	store  CookieStore
}

// NewAPIHandlers sets up the session store. Without a configured secret,
// a random one is generated, so sessions don't survive a restart.
func NewAPIHandlers(f *Fluffle, config *APIConfig, logger *slog.Logger) *APIHandlers {
	var secretKey []byte
	switch sk := config.Secret; {
	case sk == "":
		logger.Warn(
			"api secret not set, generating random secret " +
				"(sessions will not persist across restarts)",
		)
		secretKey = securecookie.GenerateRandomKey(64)
	default:
		secretKey = derive64ByteKey(sk)
	}

	store := NewCookieStore(secretKey)
	store.Options(sessionOptions(config, f.config.Development))
	return &APIHandlers{f: f, config: config, logger: logger, store: store}
}

func sessionOptions(config *APIConfig, development bool) sessions.Options {
	sameSite := http.SameSiteStrictMode
	if development {
		sameSite = http.SameSiteNoneMode
	}
	return sessions.Options{
		Path:     "/",
		HttpOnly: true,
		Secure:   config.SSL.Enabled() || development,
		MaxAge:   int(config.SessionMaxAge.Seconds()),
		SameSite: sameSite,
	}
}

func (h *APIHandlers) setupStatus(c *gin.Context) {
	c.JSON(http.StatusOK, setupResponse{Required: h.f.pendingSetup.Load()})
}

// adminSetup sets the admin credentials, only while none are set
func (h *APIHandlers) adminSetup(c *gin.Context) {
	h.f.cfgMu.Lock()
	defer h.f.cfgMu.Unlock()

	if !h.f.pendingSetup.Load() {
		c.JSON(http.StatusForbidden, httpError{Error: "Forbidden"})
		return
	}

	logger := ginContextLogger(c)
	logger.InfoContext(c, "first time admin setup")

	var payload adminSetupPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		logger.WarnContext(c, "bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	password, err := hashPassword(payload.Password)
	if err != nil {
		logger.ErrorContext(c, "error hashing password", tint.Err(err))
		ginReplyError(c, "error setting admin credentials")
		return
	}

	current := h.f.runtimeConfig
	if _, err = h.f.writeDB.Updates(
		c,
		current,
		map[string]any{
			columnRuntimeConfigAdminUsername: payload.Username,
			columnRuntimeConfigAdminPassword: password,
		},
	); err != nil {
		logger.ErrorContext(c, "error updating admin credentials", tint.Err(err))
		ginReplyError(c, "error updating admin credentials")
		return
	}
	current.AdminUsername = payload.Username
	current.AdminPassword = password
	h.f.pendingSetup.Store(false)
	c.JSON(http.StatusCreated, httpReply{Message: "admin credentials set"})
}

func (h *APIHandlers) loginHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	if !h.f.api.loginRequestLimiter.Allow() {
		logger.WarnContext(c, "login rate limited")
		c.AbortWithStatusJSON(http.StatusTooManyRequests, httpError{Error: "too many requests"})
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	runtimeConfig := h.f.RuntimeConfig()
	if runtimeConfig.AdminUsername == "" || runtimeConfig.AdminPassword == "" {
		logger.WarnContext(c, "admin username and password not set")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	if login.Username != runtimeConfig.AdminUsername {
		logger.WarnContext(c, "admin username incorrect")
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	valid, err := verifyPassword(runtimeConfig.AdminPassword, login.Password)
	if err != nil {
		logger.ErrorContext(c, "error verifying password", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	if !valid {
		logger.WarnContext(c, "invalid login attempt", "username", login.Username)
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}

	session := sessions.Default(c)
	session.Set(sessionVarField, login.Username)
	session.Options(sessionOptions(h.config, h.f.config.Development))
	if err = session.Save(); err != nil {
		logger.ErrorContext(c, "error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	logger.InfoContext(c, "saved user session", "username", login.Username)
	c.JSON(http.StatusOK, loggedInResponse{Username: login.Username})
}

func (h *APIHandlers) healthCheck(c *gin.Context) {
	resp := healthCheckResponse{
		Paused:   h.f.paused.Load(),
		Commands: h.f.registry.Len(),
	}
	if h.f.discord != nil {
		resp.DiscordGatewayConnected = h.f.discord.connected.Load()
		resp.DiscordGatewayLatency = h.f.discord.latency().String()
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandlers) logoutHandler(c *gin.Context) {
	logger := ginContextLogger(c)
	session := sessions.Default(c)
	session.Delete(sessionVarField)
	session.Options(
		sessions.Options{
			Path:   "/",
			MaxAge: -1,
		},
	)
	if err := session.Save(); err != nil {
		logger.ErrorContext(c, "error saving cookie", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

func (h *APIHandlers) loggedIn(c *gin.Context) {
	username, err := h.f.api.getSessionUsername(c)
	if err != nil {
		ginContextLogger(c).WarnContext(c, "error getting session username", tint.Err(err))
		c.JSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
		return
	}
	c.JSON(http.StatusOK, loggedInResponse{Username: username})
}

func (h *APIHandlers) getConfig(c *gin.Context) {
	c.JSON(http.StatusOK, h.f.RuntimeConfig())
}

// updateRuntimeConfig applies a partial update to the runtime config.
// The update is validated within the transaction, and rolled back if the
// resulting config is invalid. Other instances are told to reload.
func (h *APIHandlers) updateRuntimeConfig(c *gin.Context) {
	f := h.f
	logger := ginContextLogger(c)

	var updateRequest RuntimeConfigUpdate
	if err := c.ShouldBindJSON(&updateRequest); err != nil {
		logger.WarnContext(c, "bad payload", tint.Err(err))
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	updateData, err := json.Marshal(updateRequest)
	if err != nil {
		logger.ErrorContext(c, "error marshaling update request", tint.Err(err))
		ginReplyError(c, "error marshaling update request")
		return
	}
	var updates map[string]any
	if err = json.Unmarshal(updateData, &updates); err != nil {
		logger.ErrorContext(c, "error unmarshalling update request", tint.Err(err))
		ginReplyError(c, "error unmarshalling update request")
		return
	}
	if len(updates) == 0 {
		c.JSON(http.StatusOK, f.RuntimeConfig())
		return
	}
	logger.InfoContext(c, "applying updates", "updates", updates)

	f.cfgMu.Lock()
	previous := *f.runtimeConfig
	updated := previous

	statusCode := http.StatusInternalServerError
	err = f.writeDB.Transaction(
		c, func(tx *gorm.DB) error {
			if e := tx.Model(&updated).Updates(updates).Error; e != nil {
				return e
			}
			if e := structValidator.Struct(updated); e != nil {
				statusCode = http.StatusBadRequest
				return e
			}
			return nil
		},
	)
	if err != nil {
		f.cfgMu.Unlock()
		logger.ErrorContext(c, "error updating config", tint.Err(err))
		c.JSON(statusCode, httpError{Error: "error updating config: " + err.Error()})
		return
	}
	*f.runtimeConfig = updated
	f.cfgMu.Unlock()

	f.applyRuntimeConfig(c, logger, previous, updated)
	c.JSON(http.StatusOK, updated)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(c), apiNotifyTimeout)
	defer cancel()
	if !f.dbNotifier.ReloadRuntimeConfig(ctx) {
		logger.ErrorContext(ctx, "error sending config update notification")
	}
}

func (h *APIHandlers) botPause(c *gin.Context) {
	if h.f.Pause(c) {
		ginContextLogger(c).WarnContext(c, "bot paused")
		ginReplyMessage(c, "bot paused")
		return
	}
	c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: "bot already paused"})
}

func (h *APIHandlers) botResume(c *gin.Context) {
	if h.f.Resume(c) {
		ginContextLogger(c).InfoContext(c, "bot resumed")
		ginReplyMessage(c, "bot resumed")
		return
	}
	c.AbortWithStatusJSON(http.StatusConflict, httpError{Error: "bot not paused"})
}

// botQuit asks every instance sharing the database to shut down
func (h *APIHandlers) botQuit(c *gin.Context) {
	logger := ginContextLogger(c)
	logger.WarnContext(c, "sending stop signal")
	ctx, cancel := context.WithTimeout(context.WithoutCancel(c), apiNotifyTimeout)
	defer cancel()

	doneCh := make(chan bool, 1)
	go func() {
		doneCh <- h.f.dbNotifier.Stop(ctx)
	}()
	select {
	case sent := <-doneCh:
		if !sent {
			ginReplyError(c, "error sending stop signal")
			return
		}
		ginReplyMessage(c, "quitting")
	case <-ctx.Done():
		logger.WarnContext(c, "timeout sending stop signal")
		c.JSON(http.StatusGatewayTimeout, httpError{Error: "timeout sending stop signal"})
	}
}

func (h *APIHandlers) commandManager(c *gin.Context) *CommandManager {
	m := h.f.CommandManager()
	if m == nil {
		c.AbortWithStatusJSON(
			http.StatusServiceUnavailable,
			httpError{Error: "discord session not started"},
		)
	}
	return m
}

// getCommands compares local and registered commands
func (h *APIHandlers) getCommands(c *gin.Context) {
	m := h.commandManager(c)
	if m == nil {
		return
	}
	diffs, err := m.Diff(c)
	if err != nil {
		ginContextLogger(c).ErrorContext(c, "error getting commands", tint.Err(err))
		c.JSON(http.StatusBadGateway, httpError{Error: "error getting commands: " + err.Error()})
		return
	}
	resp := make([]commandDiffResponse, 0, len(diffs))
	for _, d := range diffs {
		resp = append(
			resp,
			commandDiffResponse{
				Name:   d.Name,
				Type:   d.TypeName(),
				State:  d.State,
				Local:  d.Local,
				Remote: d.Remote,
			},
		)
	}
	c.JSON(http.StatusOK, resp)
}

// syncCommands overwrites the registered commands with the local set
func (h *APIHandlers) syncCommands(c *gin.Context) {
	m := h.commandManager(c)
	if m == nil {
		return
	}
	logger := ginContextLogger(c)
	logger.InfoContext(c, "registering commands")

	ctx, cancel := context.WithTimeout(c, apiCommandsSyncTimeout)
	defer cancel()
	created, err := m.Sync(ctx)
	if err != nil {
		logger.ErrorContext(c, "error registering commands", tint.Err(err))
		c.JSON(http.StatusBadGateway, httpError{Error: "error registering commands"})
		return
	}
	c.JSON(http.StatusCreated, created)
}

// guildParams validates the guild ID path parameter and the optional
// list query parameter
func guildParams(c *gin.Context) (guildID string, list ChannelList, ok bool) {
	guildID = c.Param("guild_id")
	if _, err := strconv.ParseUint(guildID, 10, 64); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: "invalid guild_id"})
		return "", "", false
	}
	list, err := ParseChannelList(c.Query(apiQueryParamList))
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return "", "", false
	}
	return guildID, list, true
}

func (h *APIHandlers) getGuildChannels(c *gin.Context) {
	guildID, list, ok := guildParams(c)
	if !ok {
		return
	}
	settings, err := h.f.channelSettings.List(c, guildID, list)
	if err != nil {
		ginContextLogger(c).ErrorContext(c, "error listing channels", tint.Err(err))
		ginReplyError(c, "error listing channels")
		return
	}
	c.JSON(http.StatusOK, settings)
}

func (h *APIHandlers) addGuildChannel(c *gin.Context) {
	logger := ginContextLogger(c)
	guildID, _, ok := guildParams(c)
	if !ok {
		return
	}
	var payload guildChannelPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Error: err.Error()})
		return
	}

	setting := GuildChannelSetting{
		GuildID:     guildID,
		ChannelID:   payload.ChannelID,
		ChannelName: payload.ChannelName,
		List:        payload.List,
	}
	if username, err := h.f.api.getSessionUsername(c); err == nil {
		setting.CreatedBy = "api:" + username
	}
	previous, err := h.f.channelSettings.Add(c, setting)
	if err != nil {
		logger.ErrorContext(c, "error adding channel", tint.Err(err))
		ginReplyError(c, "error adding channel")
		return
	}
	c.JSON(
		http.StatusCreated,
		guildChannelResponse{
			GuildID:   guildID,
			ChannelID: setting.ChannelID,
			List:      setting.List,
			Previous:  previous,
		},
	)
}

func (h *APIHandlers) removeGuildChannel(c *gin.Context) {
	guildID, list, ok := guildParams(c)
	if !ok {
		return
	}
	channelID := c.Param("channel_id")
	if _, err := strconv.ParseUint(channelID, 10, 64); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: "invalid channel_id"})
		return
	}
	removed, err := h.f.channelSettings.Remove(c, guildID, channelID, list)
	if err != nil {
		ginContextLogger(c).ErrorContext(c, "error removing channel", tint.Err(err))
		ginReplyError(c, "error removing channel")
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, httpError{Error: "channel not found"})
		return
	}
	ginReplyMessage(c, "channel removed")
}

func (h *APIHandlers) resetGuildChannels(c *gin.Context) {
	guildID, list, ok := guildParams(c)
	if !ok {
		return
	}
	removed, err := h.f.channelSettings.Reset(c, guildID, list)
	if err != nil {
		ginContextLogger(c).ErrorContext(c, "error resetting channels", tint.Err(err))
		ginReplyError(c, "error resetting channels")
		return
	}
	c.JSON(http.StatusOK, resetChannelsResponse{Removed: removed})
}

type loggedInResponse struct {
	Username string `json:"username"`
}

type healthCheckResponse struct {
	Paused                  bool   `json:"paused"`
	Commands                int    `json:"commands"`
	DiscordGatewayConnected bool   `json:"discord_gateway_connected"`
	DiscordGatewayLatency   string `json:"discord_gateway_latency,omitempty"`
}

// httpReply represents a standard HTTP response message
type httpReply struct {
	Message string `json:"message"`
}

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type adminSetupPayload struct {
	Username        string `json:"username" binding:"required"`
	Password        string `json:"password" binding:"required,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// setupResponse reports whether admin credentials still need to be set
type setupResponse struct {
	Required bool `json:"required"`
}

type commandDiffResponse struct {
	Name   string                        `json:"name"`
	Type   string                        `json:"type"`
	State  CommandDiffState              `json:"state"`
	Local  *discordgo.ApplicationCommand `json:"local,omitempty"`
	Remote *discordgo.ApplicationCommand `json:"remote,omitempty"`
}

type guildChannelPayload struct {
	ChannelID   string      `json:"channel_id" binding:"required,numeric"`
	ChannelName string      `json:"channel_name"`
	List        ChannelList `json:"list" binding:"required,oneof=whitelist blacklist"`
}

type guildChannelResponse struct {
	GuildID   string      `json:"guild_id"`
	ChannelID string      `json:"channel_id"`
	List      ChannelList `json:"list"`
	Previous  ChannelList `json:"previous,omitempty"`
}

type resetChannelsResponse struct {
	Removed int64 `json:"removed"`
}

// authMiddleware rejects requests without a logged-in session
func authMiddleware(f *Fluffle, store CookieStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		if f.pendingSetup.Load() {
			logger.WarnContext(c, "admin username and password not set")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}

		session, err := store.Get(c.Request, sessionVarName)
		if err != nil || session == nil {
			logger.WarnContext(c, "error getting session", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}

		username, ok := session.Values[sessionVarField].(string)
		if !ok || username == "" {
			logger.WarnContext(c, "username not found in session")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Set(string(loggerContextKey), logger.With(sessionVarField, username))
		c.Next()
	}
}

// requestIDMiddleware assigns each request an ID, returned in the
// X-Request-ID header and included in request logs
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the request's logger, creating one with the
// request details if it doesn't exist yet
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	return setGinContextLogger(c, slog.Default())
}

func setGinContextLogger(c *gin.Context, base *slog.Logger) *slog.Logger {
	requestID, _ := c.Get(xRequestIDHeader)
	path := c.Request.URL.Path
	if raw := c.Request.URL.RawQuery; raw != "" {
		path = path + "?" + raw
	}

	requestLogger := base.With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it's finished, with its
// duration and response status
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		requestLogger := setGinContextLogger(c, logger)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.ErrorContext(
				c,
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL.Path),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.InfoContext(
			c,
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL.Path),
			"duration", latency,
			response,
		)
	}
}

// ginReplyMessage sends a JSON message with HTTP 200
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError aborts with a JSON error and HTTP 500
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

//nolint:gochecknoinits // the validator tag has to match gin's
func init() {
	structValidator.SetTagName("binding")
}
