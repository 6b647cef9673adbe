package fluffle

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"math/bits"
	"strings"
)

// PermissionNames maps permission bits to the names Discord shows in its
// UI
var PermissionNames = map[int64]string{
	discordgo.PermissionCreateInstantInvite:    "Create Invite",
	discordgo.PermissionKickMembers:            "Kick Members",
	discordgo.PermissionBanMembers:             "Ban Members",
	discordgo.PermissionAdministrator:          "Administrator",
	discordgo.PermissionManageChannels:         "Manage Channels",
	discordgo.PermissionManageGuild:            "Manage Server",
	discordgo.PermissionAddReactions:           "Add Reactions",
	discordgo.PermissionViewAuditLogs:          "View Audit Log",
	discordgo.PermissionVoicePrioritySpeaker:   "Priority Speaker",
	discordgo.PermissionVoiceStreamVideo:       "Video",
	discordgo.PermissionViewChannel:            "View Channels",
	discordgo.PermissionSendMessages:           "Send Messages",
	discordgo.PermissionSendTTSMessages:        "Send Text-to-Speech Messages",
	discordgo.PermissionManageMessages:         "Manage Messages",
	discordgo.PermissionEmbedLinks:             "Embed Links",
	discordgo.PermissionAttachFiles:            "Attach Files",
	discordgo.PermissionReadMessageHistory:     "Read Message History",
	discordgo.PermissionMentionEveryone:        "Mention @everyone, @here, and All Roles",
	discordgo.PermissionUseExternalEmojis:      "Use External Emoji",
	discordgo.PermissionViewGuildInsights:      "View Server Insights",
	discordgo.PermissionVoiceConnect:           "Connect",
	discordgo.PermissionVoiceSpeak:             "Speak",
	discordgo.PermissionVoiceMuteMembers:       "Mute Members",
	discordgo.PermissionVoiceDeafenMembers:     "Deafen Members",
	discordgo.PermissionVoiceMoveMembers:       "Move Members",
	discordgo.PermissionVoiceUseVAD:            "Use Voice Activity",
	discordgo.PermissionChangeNickname:         "Change Nickname",
	discordgo.PermissionManageNicknames:        "Manage Nicknames",
	discordgo.PermissionManageRoles:            "Manage Roles",
	discordgo.PermissionManageWebhooks:         "Manage Webhooks",
	discordgo.PermissionManageGuildExpressions: "Manage Expressions",
	discordgo.PermissionUseApplicationCommands: "Use Application Commands",
	discordgo.PermissionVoiceRequestToSpeak:    "Request to Speak",
	discordgo.PermissionManageEvents:           "Manage Events",
	discordgo.PermissionManageThreads:          "Manage Threads",
	discordgo.PermissionCreatePublicThreads:    "Create Public Threads",
	discordgo.PermissionCreatePrivateThreads:   "Create Private Threads",
	discordgo.PermissionUseExternalStickers:    "Use External Stickers",
	discordgo.PermissionSendMessagesInThreads:  "Send Messages in Threads",
	discordgo.PermissionUseEmbeddedActivities:  "Use Activities",
	discordgo.PermissionModerateMembers:        "Timeout Members",
	discordgo.PermissionUseSoundboard:          "Use Soundboard",
	discordgo.PermissionCreateGuildExpressions: "Create Expressions",
	discordgo.PermissionCreateEvents:           "Create Events",
	discordgo.PermissionUseExternalSounds:      "Use External Sounds",
	discordgo.PermissionSendVoiceMessages:      "Send Voice Messages",
	discordgo.PermissionSendPolls:              "Create Polls",
	discordgo.PermissionUseExternalApps:        "Use External Apps",
}

// permissionNames lists the names of each bit set in permissions, lowest
// bit first
func permissionNames(permissions int64) []string {
	var names []string
	p := uint64(permissions)
	for p != 0 {
		bit := int64(1) << bits.TrailingZeros64(p)
		p &^= uint64(bit)
		name, ok := PermissionNames[bit]
		if !ok {
			name = fmt.Sprintf("0x%x", bit)
		}
		names = append(names, name)
	}
	return names
}

// PermissionPolicy describes who may use a command or trigger
type PermissionPolicy struct {
	// Required permissions, all of which the member must have in the
	// channel. Administrators and bot owners bypass this.
	Required int64

	// GuildOnly denies use outside of guilds
	GuildOnly bool

	// OwnersOnly allows only the configured bot owners
	OwnersOnly bool
}

// permissionDenial describes why a policy check failed
type permissionDenial struct {
	reason  string
	missing int64
}

// check evaluates the policy for a user with the given computed channel
// permissions. permissions is ignored outside of guilds.
func (p PermissionPolicy) check(
	isOwner bool,
	guildID string,
	permissions int64,
) *permissionDenial {
	if p.OwnersOnly && !isOwner {
		return &permissionDenial{reason: "owners only"}
	}
	if guildID == "" {
		if p.GuildOnly {
			return &permissionDenial{reason: "guild only"}
		}
		return nil
	}
	if p.Required == 0 || isOwner {
		return nil
	}
	if permissions&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	if missing := p.Required &^ permissions; missing != 0 {
		return &permissionDenial{reason: "missing permissions", missing: missing}
	}
	return nil
}

// message returns the text shown to a denied user
func (d *permissionDenial) message(config CommandOptions) string {
	switch {
	case d.reason == "guild only":
		return DefaultDiscordGuildOnlyMessage
	case d.missing != 0:
		msg := config.DiscordPermissionDeniedMessage
		if msg == "" {
			msg = DefaultDiscordPermissionDeniedMessage
		}
		return fmt.Sprintf(
			"%s\nMissing: `%s`",
			msg,
			strings.Join(permissionNames(d.missing), "`, `"),
		)
	default:
		if config.DiscordPermissionDeniedMessage != "" {
			return config.DiscordPermissionDeniedMessage
		}
		return DefaultDiscordPermissionDeniedMessage
	}
}

// PermissionCommand wraps a [Command], only executing it for users the
// policy allows
type PermissionCommand struct {
	Command
	policy PermissionPolicy
}

// WithPermissions wraps cmd with the given policy. The command's
// definition is updated so Discord hides it from members lacking the
// required permissions.
func WithPermissions(cmd Command, policy PermissionPolicy) *PermissionCommand {
	return &PermissionCommand{Command: cmd, policy: policy}
}

func (p *PermissionCommand) Unwrap() Command {
	return p.Command
}

func (p *PermissionCommand) Policy() PermissionPolicy {
	return p.policy
}

func (p *PermissionCommand) Definition() *discordgo.ApplicationCommand {
	def := p.Command.Definition()
	if p.policy.Required != 0 {
		perms := p.policy.Required
		def.DefaultMemberPermissions = &perms
	}
	if p.policy.GuildOnly {
		contexts := []discordgo.InteractionContextType{discordgo.InteractionContextGuild}
		def.Contexts = &contexts
	}
	return def
}

func (p *PermissionCommand) denial(cc *CommandContext) *permissionDenial {
	var permissions int64
	if cc.Interaction.Member != nil {
		permissions = cc.Interaction.Member.Permissions
	}
	return p.policy.check(cc.IsOwner(), cc.GuildID(), permissions)
}

func (p *PermissionCommand) Execute(ctx context.Context, cc *CommandContext) error {
	denied := p.denial(cc)
	if denied == nil {
		return p.Command.Execute(ctx, cc)
	}
	cc.Logger.InfoContext(
		ctx,
		"permission denied",
		"command", p.Name(),
		"reason", denied.reason,
		"missing", permissionNames(denied.missing),
	)
	return cc.Respond(
		ctx,
		&discordgo.InteractionResponseData{
			Content: denied.message(cc.Handler.Config()),
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	)
}

// Autocomplete returns no choices to users the policy denies
func (p *PermissionCommand) Autocomplete(
	ctx context.Context,
	cc *CommandContext,
) ([]*discordgo.ApplicationCommandOptionChoice, error) {
	if p.denial(cc) != nil {
		return capChoices(nil), nil
	}
	return p.Command.Autocomplete(ctx, cc)
}

// PermissionTrigger wraps a [Trigger], silently skipping messages from
// authors the policy denies
type PermissionTrigger struct {
	Trigger
	policy PermissionPolicy
}

func WithTriggerPermissions(tr Trigger, policy PermissionPolicy) *PermissionTrigger {
	return &PermissionTrigger{Trigger: tr, policy: policy}
}

func (p *PermissionTrigger) Unwrap() Trigger {
	return p.Trigger
}

func (p *PermissionTrigger) Execute(ctx context.Context, tc *TriggerContext) error {
	author := messageAuthor(tc.Message)
	if author == nil {
		return nil
	}
	isOwner := tc.Bot != nil && tc.Bot.isOwner(author.ID)

	var permissions int64
	if tc.Message.GuildID != "" && p.policy.Required != 0 && !isOwner {
		perms, err := tc.Session.UserChannelPermissions(
			author.ID,
			tc.Message.ChannelID,
			discordgo.WithContext(ctx),
		)
		if err != nil {
			tc.Logger.ErrorContext(ctx, "error getting member permissions", tint.Err(err))
			return nil
		}
		permissions = perms
	}

	if denied := p.policy.check(isOwner, tc.Message.GuildID, permissions); denied != nil {
		tc.Logger.DebugContext(
			ctx,
			"trigger permission denied",
			"trigger", p.Name(),
			"reason", denied.reason,
		)
		return nil
	}
	return p.Trigger.Execute(ctx, tc)
}
