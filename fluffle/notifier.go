package fluffle

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lmittmann/tint"
	"log/slog"
	"strings"
	"time"
)

const (
	postgresNotifyChannelRuntimeConfigUpdated = "fluffle_reload_runtime_config"
	postgresNotifyChannelChannelSettings      = "fluffle_channel_settings_updated"
	postgresNotifyChannelStop                 = "fluffle_stop"
	recordSeparator                           = string(rune(30))
)

var (
	dbNotifierSendTimeout = 15 * time.Second
	dbNotifierRetryDelay  = 5 * time.Second
)

// DBNotifier notifies bot instances sharing a database of changes made
// by another instance.
type DBNotifier interface {
	ChannelSettingsChannelName() string

	// ChannelSettingsUpdated tells other instances to drop their cached
	// channel policy for the guild. An empty guildID drops every guild.
	ChannelSettingsUpdated(ctx context.Context, guildID string) bool

	RuntimeConfigChannelName() string

	// ReloadRuntimeConfig sends a notification to bot instances to
	// reload their runtime configuration from the DB
	ReloadRuntimeConfig(context.Context) bool

	StopChannelName() string

	// Stop sends a shutdown signal to all bots
	Stop(context.Context) bool

	// ID returns the identifier for this notifier. Instances use it to
	// filter out their own notifications.
	ID() string
	Listen(ctx context.Context, channel string) error
}

func newDBNotifier(f *Fluffle) (DBNotifier, error) {
	notifyID := uuid.NewString()
	log := f.logger.With(loggerNameKey, "db_notifier")
	switch f.config.DatabaseType {
	case dbTypeSQLite:
		return &sqliteNotifier{logger: log, f: f, id: notifyID}, nil
	case dbTypePostgres:
		return &postgresNotifier{logger: log, f: f, id: notifyID}, nil
	default:
		return nil, errors.New("invalid database type")
	}
}

// sqliteNotifier is used for sqlite databases, which only ever have a
// single bot instance, so notifications are delivered in-process.
type sqliteNotifier struct {
	logger *slog.Logger
	f      *Fluffle
	id     string
}

func (s *sqliteNotifier) Listen(_ context.Context, channel string) error {
	s.logger.Debug("listener called", "channel", channel)
	return nil
}

func (s *sqliteNotifier) ID() string {
	return s.id
}

func (sqliteNotifier) StopChannelName() string {
	return ""
}

func (sqliteNotifier) RuntimeConfigChannelName() string {
	return ""
}

func (sqliteNotifier) ChannelSettingsChannelName() string {
	return ""
}

func (s *sqliteNotifier) Stop(ctx context.Context) bool {
	s.logger.Info("notifying stop signal")
	select {
	case s.f.signalStop <- struct{}{}:
		return true
	case <-ctx.Done():
		s.logger.Warn("timeout sending stop signal")
		return false
	}
}

// ReloadRuntimeConfig queues a refresh, unless one is already pending
func (s *sqliteNotifier) ReloadRuntimeConfig(_ context.Context) bool {
	s.logger.Info("got runtime config reload notification")
	select {
	case s.f.triggerRuntimeConfigRefreshCh <- true:
	default:
		s.logger.Debug("runtime config refresh already pending")
	}
	return true
}

// ChannelSettingsUpdated is a no-op, the local cache is invalidated by
// the writer
func (s *sqliteNotifier) ChannelSettingsUpdated(_ context.Context, guildID string) bool {
	s.logger.Debug("channel settings updated", "guild_id", guildID)
	return true
}

// postgresNotifier delivers notifications with NOTIFY/LISTEN
type postgresNotifier struct {
	f      *Fluffle
	logger *slog.Logger
	id     string
}

func (postgresNotifier) RuntimeConfigChannelName() string {
	return postgresNotifyChannelRuntimeConfigUpdated
}

func (postgresNotifier) ChannelSettingsChannelName() string {
	return postgresNotifyChannelChannelSettings
}

func (postgresNotifier) StopChannelName() string {
	return postgresNotifyChannelStop
}

func (p *postgresNotifier) ID() string {
	return p.id
}

func (p *postgresNotifier) notify(ctx context.Context, channel, payload string) bool {
	err := p.f.writeDB.DB().WithContext(ctx).Exec(
		"SELECT pg_notify(?, ?)",
		channel,
		payload,
	).Error
	if err != nil {
		p.logger.ErrorContext(
			ctx,
			"error sending NOTIFY",
			"channel", channel,
			tint.Err(err),
		)
		return false
	}
	p.logger.InfoContext(
		ctx,
		"sent notification",
		"channel", channel,
		"pg_notify_id", p.ID(),
	)
	return true
}

func (p *postgresNotifier) Stop(ctx context.Context) bool {
	return p.notify(ctx, p.StopChannelName(), p.ID())
}

func (p *postgresNotifier) ReloadRuntimeConfig(ctx context.Context) bool {
	return p.notify(ctx, p.RuntimeConfigChannelName(), p.ID())
}

func (p *postgresNotifier) ChannelSettingsUpdated(ctx context.Context, guildID string) bool {
	return p.notify(
		ctx,
		p.ChannelSettingsChannelName(),
		newGuildNotificationMessage(p.ID(), guildID),
	)
}

func (p *postgresNotifier) Listen(ctx context.Context, channel string) error {
	p.logger.Info("starting db listener", "channel", channel)

	config, err := pgxpool.ParseConfig(p.f.config.Database)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error parsing database config", tint.Err(err))
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error creating connection pool", tint.Err(err))
		return err
	}
	defer pool.Close()

	conn, err := pool.Acquire(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Error acquiring connection", tint.Err(err))
		return err
	}
	defer conn.Release()

	_, err = conn.Exec(ctx, fmt.Sprintf("LISTEN %s", channel))
	if err != nil {
		p.logger.ErrorContext(ctx, "Error setting up listener", tint.Err(err))
		return err
	}
	logger := p.logger.With("channel", channel)
	logger.InfoContext(ctx, "Started listening on channel")

	for ctx.Err() == nil {
		notification, e := conn.Conn().WaitForNotification(ctx)
		if e != nil {
			if ctx.Err() != nil {
				break
			}
			logger.ErrorContext(ctx, "Error waiting for notification", tint.Err(e))
			select {
			case <-ctx.Done():
			case <-time.After(dbNotifierRetryDelay):
			}
			continue
		}
		p.handleNotification(ctx, logger, channel, notification.Payload)
	}

	return nil
}

func (p *postgresNotifier) handleNotification(
	ctx context.Context,
	logger *slog.Logger,
	channel string,
	payload string,
) {
	notifierID, guildID := parseGuildNotification(payload)
	if notifierID == p.ID() {
		logger.Debug("Received notification from self, ignoring", "payload", payload)
		return
	}

	switch channel {
	case p.ChannelSettingsChannelName():
		logger.InfoContext(ctx, "Received channel settings notification", "guild_id", guildID)
		if guildID == "" {
			p.f.channelSettings.InvalidateAll()
		} else {
			p.f.channelSettings.Invalidate(guildID)
		}
	case p.RuntimeConfigChannelName():
		logger.InfoContext(ctx, "Received notification for runtime config update")
		select {
		case p.f.triggerRuntimeConfigRefreshCh <- true:
			logger.Info("sent runtime config refresh signal from postgres listener")
		case <-time.After(dbNotifierSendTimeout):
			logger.Warn("timed out sending config refresh signal")
		}
	case p.StopChannelName():
		logger.InfoContext(ctx, "received stop signal via NOTIFY")
		select {
		case p.f.signalStop <- struct{}{}:
			logger.Info("forwarded stop signal")
		case <-time.After(dbNotifierSendTimeout):
			logger.Warn("timed out forwarding stop signal")
		}
	default:
		logger.Warn("Received unknown notification")
	}
}

func parseGuildNotification(s string) (notifierID, guildID string) {
	before, after, _ := strings.Cut(s, recordSeparator)
	return before, after
}

func newGuildNotificationMessage(notifierID string, guildID string) string {
	return strings.Join([]string{notifierID, guildID}, recordSeparator)
}
