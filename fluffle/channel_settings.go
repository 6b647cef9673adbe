package fluffle

import (
	"context"
	"errors"
	"fmt"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	columnGuildChannelSettingGuildID   = "guild_id"
	columnGuildChannelSettingChannelID = "channel_id"
	columnGuildChannelSettingList      = "list"

	// channelSettingsCacheSize is the number of guild policies kept
	// in memory
	channelSettingsCacheSize = 10_000
)

// ChannelList is the list a channel belongs to
type ChannelList string

const (
	ChannelListWhitelist ChannelList = "whitelist"
	ChannelListBlacklist ChannelList = "blacklist"
)

var ErrInvalidChannelList = errors.New("invalid channel list")

// Valid reports whether l is a known list
func (l ChannelList) Valid() bool {
	return l == ChannelListWhitelist || l == ChannelListBlacklist
}

// ParseChannelList parses a list name. An empty string means both lists.
func ParseChannelList(s string) (ChannelList, error) {
	l := ChannelList(s)
	if s == "" || l.Valid() {
		return l, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidChannelList, s)
}

// GuildChannelSetting puts a channel on a guild's whitelist or blacklist.
// A channel is on at most one list.
//
//nolint:lll // struct tags can't be split
type GuildChannelSetting struct {
	ModelUintID
	ModelUnixTime
	GuildID     string      `json:"guild_id" gorm:"not null;uniqueIndex:idx_guild_channel;index" binding:"required,numeric"`
	ChannelID   string      `json:"channel_id" gorm:"not null;uniqueIndex:idx_guild_channel" binding:"required,numeric"`
	ChannelName string      `json:"channel_name" gorm:"type:string"`
	List        ChannelList `json:"list" gorm:"type:string;not null;check:list in ('whitelist', 'blacklist')" binding:"required,oneof=whitelist blacklist"`
	CreatedBy   string      `json:"created_by" gorm:"type:string"`
}

func (s GuildChannelSetting) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("guild_id", s.GuildID),
		slog.String("channel_id", s.ChannelID),
		slog.String("list", string(s.List)),
	)
}

// ChannelPolicy is a guild's whitelist and blacklist
type ChannelPolicy struct {
	Whitelist map[string]struct{}
	Blacklist map[string]struct{}
}

func newChannelPolicy(settings []GuildChannelSetting) ChannelPolicy {
	p := ChannelPolicy{
		Whitelist: map[string]struct{}{},
		Blacklist: map[string]struct{}{},
	}
	for _, s := range settings {
		switch s.List {
		case ChannelListWhitelist:
			p.Whitelist[s.ChannelID] = struct{}{}
		case ChannelListBlacklist:
			p.Blacklist[s.ChannelID] = struct{}{}
		}
	}
	return p
}

// Allows reports whether commands and triggers may be used in the
// channel. When the whitelist isn't empty, only whitelisted channels are
// allowed. Otherwise, every channel not on the blacklist is.
func (p ChannelPolicy) Allows(channelID string) bool {
	if len(p.Whitelist) > 0 {
		_, ok := p.Whitelist[channelID]
		return ok
	}
	_, denied := p.Blacklist[channelID]
	return !denied
}

// ChannelSettings stores guild channel whitelists/blacklists, caching
// each guild's policy.
//
// Writes invalidate the local cache, and notify other instances sharing
// the database through the [DBNotifier].
type ChannelSettings struct {
	db       *gorm.DB
	writeDB  DBI
	notifier DBNotifier
	logger   *slog.Logger
	cache    *expirable.LRU[string, ChannelPolicy]
	loads    singleflight.Group

	// version is incremented on every invalidation. A load only caches
	// its result if no invalidation happened while it ran.
	version atomic.Uint64
}

// NewChannelSettings returns a store reading from db and writing through
// writeDB. A ttl of 0 caches policies until invalidated.
func NewChannelSettings(
	db *gorm.DB,
	writeDB DBI,
	notifier DBNotifier,
	ttl time.Duration,
	logger *slog.Logger,
) *ChannelSettings {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChannelSettings{
		db:       db,
		writeDB:  writeDB,
		notifier: notifier,
		logger:   logger.With(loggerNameKey, "channel_settings"),
		cache:    expirable.NewLRU[string, ChannelPolicy](channelSettingsCacheSize, nil, ttl),
	}
}

// Policy returns the guild's channel policy, loading it from the
// database if it isn't cached.
//
// Concurrent loads for a guild are shared. The shared load isn't tied to
// the cancellation of whichever caller started it: each caller stops
// waiting when its own ctx is done.
func (c *ChannelSettings) Policy(ctx context.Context, guildID string) (ChannelPolicy, error) {
	if policy, ok := c.cache.Get(guildID); ok {
		return policy, nil
	}

	loadCtx := context.WithoutCancel(ctx)
	ch := c.loads.DoChan(
		guildID, func() (any, error) {
			version := c.version.Load()
			var settings []GuildChannelSetting
			ctx, cancel := withTimeout(loadCtx)
			defer cancel()
			if err := c.db.WithContext(ctx).Where(
				columnGuildChannelSettingGuildID+" = ?",
				guildID,
			).Find(&settings).Error; err != nil {
				return ChannelPolicy{}, fmt.Errorf("error loading channel settings: %w", err)
			}
			policy := newChannelPolicy(settings)
			if c.version.Load() == version {
				c.cache.Add(guildID, policy)
			}
			c.logger.DebugContext(
				ctx,
				"loaded channel policy",
				"guild_id", guildID,
				"whitelisted", len(policy.Whitelist),
				"blacklisted", len(policy.Blacklist),
			)
			return policy, nil
		},
	)
	select {
	case res := <-ch:
		if res.Err != nil {
			return ChannelPolicy{}, res.Err
		}
		return res.Val.(ChannelPolicy), nil
	case <-ctx.Done():
		return ChannelPolicy{}, ctx.Err()
	}
}

// Allowed reports whether the guild's policy allows the channel. Direct
// messages (no guild) are always allowed.
func (c *ChannelSettings) Allowed(ctx context.Context, guildID, channelID string) (bool, error) {
	if guildID == "" {
		return true, nil
	}
	policy, err := c.Policy(ctx, guildID)
	if err != nil {
		return false, err
	}
	return policy.Allows(channelID), nil
}

// Add puts the channel on the given list, moving it off the other list
// if needed. It returns the list the channel was previously on, if any.
func (c *ChannelSettings) Add(
	ctx context.Context,
	setting GuildChannelSetting,
) (previous ChannelList, err error) {
	if !setting.List.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidChannelList, setting.List)
	}
	if setting.GuildID == "" || setting.ChannelID == "" {
		return "", errors.New("guild and channel IDs are required")
	}

	err = c.writeDB.Transaction(
		ctx, func(tx *gorm.DB) error {
			var existing GuildChannelSetting
			findErr := tx.Where(
				columnGuildChannelSettingGuildID+" = ? AND "+columnGuildChannelSettingChannelID+" = ?",
				setting.GuildID,
				setting.ChannelID,
			).Take(&existing).Error
			switch {
			case errors.Is(findErr, gorm.ErrRecordNotFound):
				return tx.Create(&setting).Error
			case findErr != nil:
				return findErr
			}
			previous = existing.List
			return tx.Model(&existing).Updates(
				map[string]any{
					columnGuildChannelSettingList: setting.List,
					"channel_name":                setting.ChannelName,
					"created_by":                  setting.CreatedBy,
				},
			).Error
		},
	)
	if err != nil {
		return "", fmt.Errorf("error saving channel setting: %w", err)
	}

	c.logger.InfoContext(ctx, "channel added", "setting", setting, "previous", previous)
	c.changed(ctx, setting.GuildID)
	return previous, nil
}

// Remove takes the channel off the given list, or off either list if
// list is empty. It reports whether anything was removed.
func (c *ChannelSettings) Remove(
	ctx context.Context,
	guildID string,
	channelID string,
	list ChannelList,
) (bool, error) {
	if list != "" && !list.Valid() {
		return false, fmt.Errorf("%w: %q", ErrInvalidChannelList, list)
	}
	conds := []any{
		columnGuildChannelSettingGuildID + " = ? AND " + columnGuildChannelSettingChannelID + " = ?",
		guildID,
		channelID,
	}
	if list != "" {
		conds[0] = conds[0].(string) + " AND " + columnGuildChannelSettingList + " = ?"
		conds = append(conds, list)
	}
	removed, err := c.writeDB.Delete(ctx, &GuildChannelSetting{}, conds...)
	if err != nil {
		return false, fmt.Errorf("error removing channel setting: %w", err)
	}
	if removed > 0 {
		c.logger.InfoContext(
			ctx,
			"channel removed",
			"guild_id", guildID,
			"channel_id", channelID,
			"list", list,
		)
		c.changed(ctx, guildID)
	}
	return removed > 0, nil
}

// List returns the guild's settings for the given list, or both lists if
// list is empty, oldest first
func (c *ChannelSettings) List(
	ctx context.Context,
	guildID string,
	list ChannelList,
) ([]GuildChannelSetting, error) {
	if list != "" && !list.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannelList, list)
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	q := c.db.WithContext(ctx).Where(columnGuildChannelSettingGuildID+" = ?", guildID)
	if list != "" {
		q = q.Where(columnGuildChannelSettingList+" = ?", list)
	}
	var settings []GuildChannelSetting
	if err := q.Order("created_at, id").Find(&settings).Error; err != nil {
		return nil, fmt.Errorf("error listing channel settings: %w", err)
	}
	return settings, nil
}

// Reset clears the given list, or both lists if list is empty. It
// returns the number of channels removed.
func (c *ChannelSettings) Reset(
	ctx context.Context,
	guildID string,
	list ChannelList,
) (int64, error) {
	if list != "" && !list.Valid() {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannelList, list)
	}
	conds := []any{columnGuildChannelSettingGuildID + " = ?", guildID}
	if list != "" {
		conds = []any{
			columnGuildChannelSettingGuildID + " = ? AND " + columnGuildChannelSettingList + " = ?",
			guildID,
			list,
		}
	}
	removed, err := c.writeDB.Delete(ctx, &GuildChannelSetting{}, conds...)
	if err != nil {
		return 0, fmt.Errorf("error resetting channel settings: %w", err)
	}
	c.logger.InfoContext(
		ctx,
		"channel settings reset",
		"guild_id", guildID,
		"list", list,
		"removed", removed,
	)
	if removed > 0 {
		c.changed(ctx, guildID)
	}
	return removed, nil
}

// Invalidate drops the guild's cached policy
func (c *ChannelSettings) Invalidate(guildID string) {
	c.version.Add(1)
	c.cache.Remove(guildID)
}

// InvalidateAll drops every cached policy
func (c *ChannelSettings) InvalidateAll() {
	c.version.Add(1)
	c.cache.Purge()
}

// changed invalidates the guild locally, and tells other instances
func (c *ChannelSettings) changed(ctx context.Context, guildID string) {
	c.Invalidate(guildID)
	if c.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dbNotifierSendTimeout)
	defer cancel()
	if !c.notifier.ChannelSettingsUpdated(ctx, guildID) {
		c.logger.WarnContext(
			ctx,
			"failed to notify other instances of channel settings update",
			"guild_id", guildID,
		)
	}
}
