package fluffle

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"
	"strings"
	"sync"
	"time"
)

// RateLimitScope determines which requests share a rate limit bucket
type RateLimitScope string

const (
	RateLimitScopeUser    RateLimitScope = "user"
	RateLimitScopeChannel RateLimitScope = "channel"
	RateLimitScopeGuild   RateLimitScope = "guild"
)

// key returns the bucket key for a request. Guild-scoped limits fall back
// to the channel outside of guilds.
func (s RateLimitScope) key(userID, channelID, guildID string) string {
	switch s {
	case RateLimitScopeChannel:
		return "c:" + channelID
	case RateLimitScopeGuild:
		if guildID == "" {
			return "c:" + channelID
		}
		return "g:" + guildID
	default:
		return "u:" + userID
	}
}

// RateLimit allows Requests per Interval for each key in Scope
type RateLimit struct {
	Requests int
	Interval time.Duration
	Scope    RateLimitScope
}

func (r RateLimit) enabled() bool {
	return r.Requests > 0 && r.Interval > 0
}

func (r RateLimit) String() string {
	return fmt.Sprintf("%d/%s per %s", r.Requests, r.Interval, r.Scope)
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// keyedLimiter is a set of token buckets, one per key. A bucket idle for
// a full interval has refilled completely, so it's dropped and recreated
// on demand.
type keyedLimiter struct {
	mu        sync.Mutex
	limit     RateLimit
	entries   map[string]*limiterEntry
	lastPrune time.Time
	now       func() time.Time
}

func newKeyedLimiter(limit RateLimit) *keyedLimiter {
	return &keyedLimiter{
		limit:   limit,
		entries: map[string]*limiterEntry{},
		now:     time.Now,
	}
}

// allow takes a token from the key's bucket. When none is available, it
// returns how long until one will be.
func (k *keyedLimiter) allow(key string) (bool, time.Duration) {
	if !k.limit.enabled() {
		return true, 0
	}
	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	k.prune(now)

	entry, ok := k.entries[key]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(
				rate.Every(k.limit.Interval/time.Duration(k.limit.Requests)),
				k.limit.Requests,
			),
		}
		k.entries[key] = entry
	}
	entry.lastSeen = now

	reservation := entry.limiter.ReserveN(now, 1)
	if !reservation.OK() {
		return false, k.limit.Interval
	}
	if delay := reservation.DelayFrom(now); delay > 0 {
		reservation.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (k *keyedLimiter) prune(now time.Time) {
	if now.Sub(k.lastPrune) < k.limit.Interval {
		return
	}
	k.lastPrune = now
	for key, entry := range k.entries {
		if now.Sub(entry.lastSeen) >= k.limit.Interval {
			delete(k.entries, key)
		}
	}
}

func (k *keyedLimiter) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// retryAfterText renders a wait like "3 seconds", rounding up to at
// least one second
func retryAfterText(wait time.Duration) string {
	if wait < time.Second {
		wait = time.Second
	}
	wait = wait.Round(time.Second)
	now := time.Now()
	return strings.TrimSpace(humanize.RelTime(now, now.Add(wait), "", ""))
}

// rateLimitMessage fills in the configured rate limit message
func rateLimitMessage(format string, wait time.Duration) string {
	if format == "" {
		format = DefaultDiscordRateLimitMessage
	}
	if !strings.Contains(format, "%s") {
		return format
	}
	return fmt.Sprintf(format, retryAfterText(wait))
}

// RateLimitedCommand wraps a [Command], rejecting executions over the
// limit. Every other method is forwarded to the wrapped command.
type RateLimitedCommand struct {
	Command
	limit   RateLimit
	limiter *keyedLimiter
}

// WithRateLimit wraps cmd so each key in the limit's scope may execute
// it at most limit.Requests times per limit.Interval
func WithRateLimit(cmd Command, limit RateLimit) *RateLimitedCommand {
	if limit.Scope == "" {
		limit.Scope = RateLimitScopeUser
	}
	return &RateLimitedCommand{
		Command: cmd,
		limit:   limit,
		limiter: newKeyedLimiter(limit),
	}
}

func (r *RateLimitedCommand) Unwrap() Command {
	return r.Command
}

func (r *RateLimitedCommand) RateLimit() RateLimit {
	return r.limit
}

func (r *RateLimitedCommand) Execute(ctx context.Context, cc *CommandContext) error {
	var userID string
	if u := cc.User(); u != nil {
		userID = u.ID
	}
	key := r.limit.Scope.key(userID, cc.ChannelID(), cc.GuildID())
	ok, wait := r.limiter.allow(key)
	if ok {
		return r.Command.Execute(ctx, cc)
	}

	cc.Logger.InfoContext(
		ctx,
		"rate limited command",
		"command", r.Name(),
		"key", key,
		"retry_after", wait,
		"limit", r.limit.String(),
	)
	return cc.Respond(
		ctx,
		&discordgo.InteractionResponseData{
			Content: rateLimitMessage(cc.Handler.Config().DiscordRateLimitMessage, wait),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	)
}

// RateLimitedTrigger wraps a [Trigger], silently skipping executions over
// the limit
type RateLimitedTrigger struct {
	Trigger
	limit   RateLimit
	limiter *keyedLimiter
}

func WithTriggerRateLimit(tr Trigger, limit RateLimit) *RateLimitedTrigger {
	if limit.Scope == "" {
		limit.Scope = RateLimitScopeUser
	}
	return &RateLimitedTrigger{
		Trigger: tr,
		limit:   limit,
		limiter: newKeyedLimiter(limit),
	}
}

func (r *RateLimitedTrigger) Unwrap() Trigger {
	return r.Trigger
}

func (r *RateLimitedTrigger) Execute(ctx context.Context, tc *TriggerContext) error {
	var userID string
	if u := messageAuthor(tc.Message); u != nil {
		userID = u.ID
	}
	key := r.limit.Scope.key(userID, tc.Message.ChannelID, tc.Message.GuildID)
	if ok, wait := r.limiter.allow(key); !ok {
		tc.Logger.DebugContext(
			ctx,
			"rate limited trigger",
			"trigger", r.Name(),
			"key", key,
			"retry_after", wait,
		)
		return nil
	}
	return r.Trigger.Execute(ctx, tc)
}
