package fluffle

import (
	"context"
	"fmt"
	"time"
)

const commandPing = "ping"

// pingRateLimit allows each user 3 pings every 10 seconds
var pingRateLimit = RateLimit{
	Requests: 3,
	Interval: 10 * time.Second,
	Scope:    RateLimitScopeUser,
}

func newPingCommand() Command {
	cmd := NewSlashCommand(commandPing, "Check whether the bot is responding").
		WithHandler(handlePing)
	return WithRateLimit(cmd, pingRateLimit)
}

func handlePing(ctx context.Context, cc *CommandContext) error {
	var latency time.Duration
	if cc.Bot != nil && cc.Bot.discord != nil {
		latency = cc.Bot.discord.latency()
	}
	return cc.ReplyEphemeral(ctx, pongMessage(latency))
}

func pongMessage(latency time.Duration) string {
	if latency <= 0 {
		return "Pong! (gateway latency unavailable)"
	}
	return fmt.Sprintf("Pong! Gateway latency: %dms", latency.Milliseconds())
}
