package fluffle

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"slices"
	"sync"
)

// CommandContext carries a single command interaction through routing,
// proxies and the command's handler.
//
// It tracks whether the interaction has been deferred or answered, so
// [CommandContext.Respond] can send the initial response, fill in a
// deferred one, or send a follow-up as appropriate.
type CommandContext struct {
	Interaction *discordgo.InteractionCreate
	Handler     InteractionHandler
	Bot         *Fluffle
	Logger      *slog.Logger

	// Set for context menu commands
	TargetUser    *discordgo.User
	TargetMember  *discordgo.Member
	TargetMessage *discordgo.Message

	path    []string
	options []*discordgo.ApplicationCommandInteractionDataOption

	mu        sync.Mutex
	deferred  bool
	ephemeral bool
	responded bool
}

// NewCommandContext returns a context for the given interaction. The
// leaf options are initially the interaction's top-level options.
func NewCommandContext(
	bot *Fluffle,
	handler InteractionHandler,
	i *discordgo.InteractionCreate,
	logger *slog.Logger,
) *CommandContext {
	if logger == nil {
		logger = slog.Default()
	}
	cc := &CommandContext{
		Interaction: i,
		Handler:     handler,
		Bot:         bot,
		Logger:      logger,
	}
	switch i.Type {
	case discordgo.InteractionApplicationCommand,
		discordgo.InteractionApplicationCommandAutocomplete:
		cc.options = i.ApplicationCommandData().Options
	}
	return cc
}

// Path returns the subcommand route taken to reach the handler, ex:
// ["whitelist", "add"]. Empty for commands without subcommands.
func (c *CommandContext) Path() []string {
	return slices.Clone(c.path)
}

// Options returns the options passed to the leaf handler
func (c *CommandContext) Options() []*discordgo.ApplicationCommandInteractionDataOption {
	return c.options
}

func (c *CommandContext) setRoute(
	path []string,
	options []*discordgo.ApplicationCommandInteractionDataOption,
) {
	c.path = path
	c.options = options
}

// Option returns the leaf option with the given name, or nil
func (c *CommandContext) Option(name string) *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range c.options {
		if opt.Name == name {
			return opt
		}
	}
	return nil
}

// StringOption returns the value of a string option
func (c *CommandContext) StringOption(name string) (string, bool) {
	opt := c.Option(name)
	if opt == nil || opt.Type != discordgo.ApplicationCommandOptionString {
		return "", false
	}
	return opt.StringValue(), true
}

// IntOption returns the value of an integer option
func (c *CommandContext) IntOption(name string) (int64, bool) {
	opt := c.Option(name)
	if opt == nil || opt.Type != discordgo.ApplicationCommandOptionInteger {
		return 0, false
	}
	return opt.IntValue(), true
}

// BoolOption returns the value of a boolean option
func (c *CommandContext) BoolOption(name string) (bool, bool) {
	opt := c.Option(name)
	if opt == nil || opt.Type != discordgo.ApplicationCommandOptionBoolean {
		return false, false
	}
	return opt.BoolValue(), true
}

// ChannelOption returns the channel passed for a channel option, using
// the interaction's resolved data. Only the ID is set when the channel
// wasn't resolved.
func (c *CommandContext) ChannelOption(name string) (*discordgo.Channel, bool) {
	opt := c.Option(name)
	if opt == nil || opt.Type != discordgo.ApplicationCommandOptionChannel {
		return nil, false
	}
	id, ok := opt.Value.(string)
	if !ok || id == "" {
		return nil, false
	}
	if resolved := c.Interaction.ApplicationCommandData().Resolved; resolved != nil {
		if ch, found := resolved.Channels[id]; found && ch != nil {
			return ch, true
		}
	}
	return &discordgo.Channel{ID: id}, true
}

// Focused returns the option being autocompleted
func (c *CommandContext) Focused() *discordgo.ApplicationCommandInteractionDataOption {
	return focusedOption(c.options)
}

// User returns the user who invoked the command
func (c *CommandContext) User() *discordgo.User {
	return getDiscordUser(c.Interaction)
}

func (c *CommandContext) GuildID() string {
	return c.Interaction.GuildID
}

func (c *CommandContext) ChannelID() string {
	return c.Interaction.ChannelID
}

// IsOwner reports whether the invoking user is a configured bot owner
func (c *CommandContext) IsOwner() bool {
	u := c.User()
	if u == nil || c.Bot == nil {
		return false
	}
	return c.Bot.isOwner(u.ID)
}

// Deferred reports whether the interaction was acknowledged with a
// deferred response
func (c *CommandContext) Deferred() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deferred
}

// Responded reports whether a response has been sent (not counting
// a deferral)
func (c *CommandContext) Responded() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.responded
}

// Defer acknowledges the interaction, showing a 'thinking' state until
// the response is sent. It does nothing if the interaction was already
// deferred or answered.
func (c *CommandContext) Defer(ctx context.Context, ephemeral bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.deferred || c.responded {
		return nil
	}

	data := &discordgo.InteractionResponseData{}
	if ephemeral {
		data.Flags = discordgo.MessageFlagsEphemeral
	}
	if err := c.Handler.Respond(
		ctx,
		&discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
			Data: data,
		},
	); err != nil {
		return fmt.Errorf("error deferring interaction: %w", err)
	}
	c.deferred = true
	c.ephemeral = ephemeral
	return nil
}

// Respond sends data as the initial response. If the interaction was
// deferred, the deferred response is edited instead, and once a
// response has been sent, further calls send follow-up messages.
//
// The ephemeral flag of a deferred response can't be changed by an edit.
// An ephemeral response to a public deferral deletes the deferred message
// and is sent as an ephemeral follow-up instead, so it stays private.
func (c *CommandContext) Respond(
	ctx context.Context,
	data *discordgo.InteractionResponseData,
) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if data.Content != "" {
		data.Content = truncate(data.Content, discordMaxMessageLength)
	}

	followup := func() error {
		_, err := c.Handler.Followup(
			ctx,
			&discordgo.WebhookParams{
				Content:         data.Content,
				Components:      data.Components,
				Embeds:          data.Embeds,
				AllowedMentions: data.AllowedMentions,
				Flags:           data.Flags,
			},
		)
		if err != nil {
			return fmt.Errorf("error sending follow-up: %w", err)
		}
		return nil
	}

	switch {
	case c.responded:
		if err := followup(); err != nil {
			return err
		}
	case c.deferred && !c.ephemeral && data.Flags&discordgo.MessageFlagsEphemeral != 0:
		c.Handler.Delete(ctx)
		if err := followup(); err != nil {
			return err
		}
	case c.deferred:
		edit := &discordgo.WebhookEdit{
			Content:         &data.Content,
			AllowedMentions: data.AllowedMentions,
		}
		if data.Embeds != nil {
			edit.Embeds = &data.Embeds
		}
		if data.Components != nil {
			edit.Components = &data.Components
		}
		if _, err := c.Handler.Edit(ctx, edit); err != nil {
			return fmt.Errorf("error editing deferred response: %w", err)
		}
	default:
		if err := c.Handler.Respond(
			ctx,
			&discordgo.InteractionResponse{
				Type: discordgo.InteractionResponseChannelMessageWithSource,
				Data: data,
			},
		); err != nil {
			return fmt.Errorf("error responding to interaction: %w", err)
		}
	}
	c.responded = true
	return nil
}

// Reply responds with a plain message
func (c *CommandContext) Reply(ctx context.Context, content string) error {
	return c.Respond(ctx, &discordgo.InteractionResponseData{Content: content})
}

// ReplyEphemeral responds with a message only the invoking user can see
func (c *CommandContext) ReplyEphemeral(ctx context.Context, content string) error {
	return c.Respond(
		ctx,
		&discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	)
}

// Replyf formats and sends an ephemeral reply
func (c *CommandContext) Replyf(ctx context.Context, format string, args ...any) error {
	return c.ReplyEphemeral(ctx, fmt.Sprintf(format, args...))
}
