package fluffle

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
	"unicode/utf8"
)

// UserCommandFunc handles a user context menu command. member is nil
// outside of guilds.
type UserCommandFunc func(
	ctx context.Context,
	cc *CommandContext,
	user *discordgo.User,
	member *discordgo.Member,
) error

// MessageCommandFunc handles a message context menu command
type MessageCommandFunc func(
	ctx context.Context,
	cc *CommandContext,
	message *discordgo.Message,
) error

// ContextMenuCommand is a command shown when right-clicking a user or
// a message
type ContextMenuCommand struct {
	name                     string
	commandType              discordgo.ApplicationCommandType
	userHandler              UserCommandFunc
	messageHandler           MessageCommandFunc
	defaultMemberPermissions *int64
	contexts                 []discordgo.InteractionContextType
	deferMode                DeferMode
	bypassChannelPolicy      bool
}

// NewUserCommand returns a user context menu command
func NewUserCommand(name string, fn UserCommandFunc) *ContextMenuCommand {
	return &ContextMenuCommand{
		name:        name,
		commandType: discordgo.UserApplicationCommand,
		userHandler: fn,
	}
}

// NewMessageCommand returns a message context menu command
func NewMessageCommand(name string, fn MessageCommandFunc) *ContextMenuCommand {
	return &ContextMenuCommand{
		name:           name,
		commandType:    discordgo.MessageApplicationCommand,
		messageHandler: fn,
	}
}

func (c *ContextMenuCommand) WithDefaultMemberPermissions(permissions int64) *ContextMenuCommand {
	c.defaultMemberPermissions = &permissions
	return c
}

func (c *ContextMenuCommand) WithContexts(
	contexts ...discordgo.InteractionContextType,
) *ContextMenuCommand {
	c.contexts = contexts
	return c
}

func (c *ContextMenuCommand) WithDefer(mode DeferMode) *ContextMenuCommand {
	c.deferMode = mode
	return c
}

func (c *ContextMenuCommand) WithChannelPolicyBypass() *ContextMenuCommand {
	c.bypassChannelPolicy = true
	return c
}

func (c *ContextMenuCommand) Name() string {
	return c.name
}

func (c *ContextMenuCommand) Type() discordgo.ApplicationCommandType {
	return c.commandType
}

func (c *ContextMenuCommand) Defer() DeferMode {
	return c.deferMode
}

func (c *ContextMenuCommand) BypassChannelPolicy() bool {
	return c.bypassChannelPolicy
}

func (c *ContextMenuCommand) Definition() *discordgo.ApplicationCommand {
	cmd := &discordgo.ApplicationCommand{
		Type: c.commandType,
		Name: c.name,
	}
	if c.defaultMemberPermissions != nil {
		perms := *c.defaultMemberPermissions
		cmd.DefaultMemberPermissions = &perms
	}
	if len(c.contexts) > 0 {
		contexts := append([]discordgo.InteractionContextType{}, c.contexts...)
		cmd.Contexts = &contexts
	}
	return cmd
}

// Validate checks the name length, and that the command has a handler
// for its type. Unlike slash commands, context menu names may contain
// spaces and capital letters.
func (c *ContextMenuCommand) Validate() error {
	var errs []error
	n := utf8.RuneCountInString(c.name)
	if n == 0 || n > discordMaxNameLength || strings.TrimSpace(c.name) == "" {
		errs = append(
			errs,
			fmt.Errorf("context menu name %q must be 1-%d characters", c.name, discordMaxNameLength),
		)
	}
	switch c.commandType {
	case discordgo.UserApplicationCommand:
		if c.userHandler == nil {
			errs = append(errs, fmt.Errorf("user command %q has no handler", c.name))
		}
	case discordgo.MessageApplicationCommand:
		if c.messageHandler == nil {
			errs = append(errs, fmt.Errorf("message command %q has no handler", c.name))
		}
	default:
		errs = append(errs, fmt.Errorf("context menu %q: invalid type %d", c.name, c.commandType))
	}
	return errors.Join(errs...)
}

// Execute resolves the target user or message, and passes it to the
// handler
func (c *ContextMenuCommand) Execute(ctx context.Context, cc *CommandContext) error {
	data := cc.Interaction.ApplicationCommandData()
	resolved := data.Resolved
	if data.TargetID == "" || resolved == nil {
		return fmt.Errorf("%w: %s", ErrMissingTarget, c.name)
	}

	switch c.commandType {
	case discordgo.UserApplicationCommand:
		if c.userHandler == nil {
			return fmt.Errorf("%w: %s", ErrNoHandler, c.name)
		}
		user := resolved.Users[data.TargetID]
		if user == nil {
			return fmt.Errorf("%w: %s: user %s", ErrMissingTarget, c.name, data.TargetID)
		}
		member := resolved.Members[data.TargetID]
		if member != nil && member.User == nil {
			member.User = user
		}
		cc.TargetUser = user
		cc.TargetMember = member
		return c.userHandler(ctx, cc, user, member)
	case discordgo.MessageApplicationCommand:
		if c.messageHandler == nil {
			return fmt.Errorf("%w: %s", ErrNoHandler, c.name)
		}
		msg := resolved.Messages[data.TargetID]
		if msg == nil {
			return fmt.Errorf("%w: %s: message %s", ErrMissingTarget, c.name, data.TargetID)
		}
		cc.TargetMessage = msg
		return c.messageHandler(ctx, cc, msg)
	default:
		return fmt.Errorf("%w: %s", ErrNoHandler, c.name)
	}
}

// Autocomplete returns no choices, context menu commands have no options
func (*ContextMenuCommand) Autocomplete(
	context.Context,
	*CommandContext,
) ([]*discordgo.ApplicationCommandOptionChoice, error) {
	return capChoices(nil), nil
}
