package fluffle

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

const apiDiscordInteractions = "/discord/interactions"

var (
	// webhookResponseTimeout is how long a webhook request waits for the
	// initial interaction response. Discord fails the interaction after
	// 3 seconds.
	webhookResponseTimeout = 3 * time.Second

	errWebhookResponseWindowClosed = errors.New("webhook response window closed")
)

// DiscordWebhookServer receives interactions as HTTP POSTs from Discord,
// as an alternative to the gateway
type DiscordWebhookServer struct {
	config     DiscordWebhookServerConfig
	httpServer *http.Server
	listener   net.Listener
	engine     *gin.Engine
	logger     *slog.Logger
}

// Serve listens on the configured address, with TLS if certificates
// are configured
func (d *DiscordWebhookServer) Serve(ctx context.Context) error {
	if d.listener == nil {
		listenCfg := &net.ListenConfig{}
		ln, err := listenCfg.Listen(ctx, defaultListenNetwork, d.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", d.config.Listen, err)
		}
		d.listener = ln
	}
	if d.httpServer.TLSConfig == nil {
		d.logger.WarnContext(ctx, "starting webhook server without TLS", "listen", d.listener.Addr())
		return d.httpServer.Serve(d.listener)
	}
	d.logger.InfoContext(ctx, "starting webhook server", "listen", d.listener.Addr())
	return d.httpServer.ServeTLS(d.listener, "", "")
}

// newWebhookServer returns a server verifying each request's signature
// with the application's public key, before handing the interaction to
// the bot
func newWebhookServer(
	f *Fluffle,
	config DiscordWebhookServerConfig,
) (*DiscordWebhookServer, error) {
	if len(f.discord.publicKey) == 0 {
		return nil, errors.New("webhook server requires discord.webhook_server.public_key")
	}
	logger := slog.New(f.logOutput.handler(config.LogLevel, "discord_webhook"))

	r := gin.New()
	server := &DiscordWebhookServer{config: config, engine: r, logger: logger}
	server.httpServer = &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
	}
	if config.SSL.Enabled() {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading webhook SSL certs: %w", err)
		}
		server.httpServer.TLSConfig = tlsCfg
	}

	if !f.config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(logger),
		discordRequestAuthenticationMiddleware(f.discord.publicKey),
	)
	r.POST(apiDiscordInteractions, webhookReceiveHandler(f))
	return server, nil
}

// WebhookHandler is an [InteractionHandler] for interactions received by
// the webhook server. The initial response is written as the HTTP
// response body. Everything after that (edits, follow-ups) goes through
// the REST API, like [GatewayHandler].
type WebhookHandler struct {
	InteractionHandler

	responseCh chan *discordgo.InteractionResponse
	written    chan struct{}
	closed     chan struct{}
	once       *sync.Once
}

func newWebhookHandler(rest InteractionHandler) WebhookHandler {
	return WebhookHandler{
		InteractionHandler: rest,
		responseCh:         make(chan *discordgo.InteractionResponse),
		written:            make(chan struct{}),
		closed:             make(chan struct{}),
		once:               &sync.Once{},
	}
}

func (WebhookHandler) InteractionReceiveMethod() DiscordInteractionReceiveMethod {
	return discordInteractionReceiveMethodWebhook
}

// Respond hands the first response to the waiting HTTP request, and
// waits for it to be written. Later responses use the REST callback.
func (w WebhookHandler) Respond(
	ctx context.Context,
	response *discordgo.InteractionResponse,
) error {
	first := false
	w.once.Do(func() { first = true })
	if !first {
		return w.InteractionHandler.Respond(ctx, response)
	}

	select {
	case w.responseCh <- response:
	case <-w.closed:
		return errWebhookResponseWindowClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-w.written:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// webhookReceiveHandler returns a [gin.HandlerFunc] handling interaction
// POSTs. The interaction is handled in the background, under the bot's
// run context rather than the request's, so commands keep going after
// the initial response is written.
func webhookReceiveHandler(f *Fluffle) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			logger.ErrorContext(c, "error reading body", tint.Err(err))
			c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "error reading body"})
			return
		}

		var interaction discordgo.InteractionCreate
		if e := json.Unmarshal(body, &interaction); e != nil {
			logger.ErrorContext(c, "error unmarshalling body", tint.Err(e))
			c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: "error unmarshalling body"})
			return
		}

		runCtx := f.runContext()
		handler := newWebhookHandler(f.interactionHandler(runCtx, &interaction))
		done := make(chan struct{})
		f.inflight.Add(1)
		go func() {
			defer f.inflight.Done()
			defer close(done)
			f.handleInteraction(WithLogger(runCtx, logger), handler)
		}()

		timer := time.NewTimer(webhookResponseTimeout)
		defer timer.Stop()

		select {
		case response := <-handler.responseCh:
			c.JSON(http.StatusOK, response)
			c.Writer.Flush()
			close(handler.written)
		case <-done:
			logger.WarnContext(c, "interaction finished without responding")
			close(handler.closed)
			c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: "no response"})
		case <-timer.C:
			logger.WarnContext(c, "timed out waiting for interaction response")
			close(handler.closed)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, httpError{Error: "timed out"})
		case <-runCtx.Done():
			close(handler.closed)
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, httpError{Error: "shutting down"})
		}
	}
}

// discordRequestAuthenticationMiddleware rejects requests without a
// valid signature from Discord.
// See: https://discord.com/developers/docs/interactions/overview#setting-up-an-endpoint-validating-security-request-headers
//
//nolint:lll // can't split link
func discordRequestAuthenticationMiddleware(publicKey ed25519.PublicKey) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !verifyRequest(c.Request, publicKey) {
			ginContextLogger(c).WarnContext(c, "invalid signature")
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "invalid signature"})
			return
		}
		c.Next()
	}
}

// verifyRequest checks the request's ed25519 signature, which covers
// the timestamp header followed by the body. The body is restored so
// it can be read again.
func verifyRequest(r *http.Request, key ed25519.PublicKey) bool {
	signature := r.Header.Get("X-Signature-Ed25519")
	if signature == "" {
		return false
	}
	sig, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	if len(sig) != ed25519.SignatureSize || sig[63]&224 != 0 {
		return false
	}

	timestamp := r.Header.Get("X-Signature-Timestamp")
	if timestamp == "" {
		return false
	}

	var msg bytes.Buffer
	msg.WriteString(timestamp)

	var body bytes.Buffer
	defer func() {
		_ = r.Body.Close()
		r.Body = io.NopCloser(&body)
	}()
	if _, err = io.Copy(&msg, io.TeeReader(r.Body, &body)); err != nil {
		return false
	}
	return ed25519.Verify(key, msg.Bytes(), sig)
}
