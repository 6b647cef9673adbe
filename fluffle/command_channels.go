package fluffle

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"strings"
	"time"
)

const (
	commandChannels           = "channels"
	commandChannelsOptChannel = "channel"
	commandChannelsOptList    = "list"
)

// channelOptionTypes are the channel types that can be put on a list
var channelOptionTypes = []discordgo.ChannelType{
	discordgo.ChannelTypeGuildText,
	discordgo.ChannelTypeGuildNews,
	discordgo.ChannelTypeGuildVoice,
	discordgo.ChannelTypeGuildForum,
	discordgo.ChannelTypeGuildPublicThread,
	discordgo.ChannelTypeGuildPrivateThread,
}

// newChannelsCommand manages the guild's channel whitelist and
// blacklist. It always bypasses the channel policy, so a guild can't
// lock itself out.
func newChannelsCommand() Command {
	listGroup := func(list ChannelList) *SubcommandGroup {
		return NewSubcommandGroup(string(list), fmt.Sprintf("Manage the channel %s", list)).
			WithSubcommands(
				NewSubcommand("add", fmt.Sprintf("Add a channel to the %s", list)).
					WithOptions(
						&discordgo.ApplicationCommandOption{
							Type:         discordgo.ApplicationCommandOptionChannel,
							Name:         commandChannelsOptChannel,
							Description:  "Channel to add",
							Required:     true,
							ChannelTypes: channelOptionTypes,
						},
					).
					WithHandler(channelsAddHandler(list)),
				NewSubcommand("remove", fmt.Sprintf("Remove a channel from the %s", list)).
					WithOptions(
						&discordgo.ApplicationCommandOption{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        commandChannelsOptChannel,
							Description: "Channel to remove",
							Required:    true,
						},
					).
					WithHandler(channelsRemoveHandler(list)).
					WithAutocomplete(commandChannelsOptChannel, channelsRemoveAutocomplete(list)),
				NewSubcommand("list", fmt.Sprintf("Show the channels on the %s", list)).
					WithHandler(channelsListHandler(list)),
			)
	}

	cmd := NewSlashCommand(commandChannels, "Choose which channels the bot responds in").
		WithGroups(listGroup(ChannelListWhitelist), listGroup(ChannelListBlacklist)).
		WithSubcommands(
			NewSubcommand("reset", "Clear the whitelist, the blacklist, or both").
				WithOptions(
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        commandChannelsOptList,
						Description: "List to clear (both if omitted)",
						Choices: []*discordgo.ApplicationCommandOptionChoice{
							{Name: string(ChannelListWhitelist), Value: string(ChannelListWhitelist)},
							{Name: string(ChannelListBlacklist), Value: string(ChannelListBlacklist)},
						},
					},
				).
				WithHandler(handleChannelsReset),
			NewSubcommand("status", "Show whether the bot responds in this channel").
				WithHandler(handleChannelsStatus),
		).
		WithDefer(DeferEphemeral).
		WithChannelPolicyBypass()

	return WithPermissions(
		cmd,
		PermissionPolicy{
			Required:  discordgo.PermissionManageChannels,
			GuildOnly: true,
		},
	)
}

func channelSettingsFor(cc *CommandContext) (*ChannelSettings, error) {
	if cc.Bot == nil || cc.Bot.channelSettings == nil {
		return nil, errors.New("channel settings unavailable")
	}
	return cc.Bot.channelSettings, nil
}

func channelsAddHandler(list ChannelList) ExecuteFunc {
	return func(ctx context.Context, cc *CommandContext) error {
		store, err := channelSettingsFor(cc)
		if err != nil {
			return err
		}
		channel, ok := cc.ChannelOption(commandChannelsOptChannel)
		if !ok {
			return cc.ReplyEphemeral(ctx, "Pick a channel to add.")
		}

		setting := GuildChannelSetting{
			GuildID:     cc.GuildID(),
			ChannelID:   channel.ID,
			ChannelName: channel.Name,
			List:        list,
		}
		if u := cc.User(); u != nil {
			setting.CreatedBy = u.ID
		}
		previous, err := store.Add(ctx, setting)
		if err != nil {
			return err
		}

		switch previous {
		case list:
			return cc.Replyf(ctx, "<#%s> is already on the %s.", channel.ID, list)
		case "":
			return cc.Replyf(ctx, "Added <#%s> to the %s.", channel.ID, list)
		default:
			return cc.Replyf(ctx, "Moved <#%s> from the %s to the %s.", channel.ID, previous, list)
		}
	}
}

func channelsRemoveHandler(list ChannelList) ExecuteFunc {
	return func(ctx context.Context, cc *CommandContext) error {
		store, err := channelSettingsFor(cc)
		if err != nil {
			return err
		}
		channelID, _ := cc.StringOption(commandChannelsOptChannel)
		channelID = parseChannelMention(channelID)
		if channelID == "" {
			return cc.ReplyEphemeral(ctx, "Pick a channel to remove.")
		}

		removed, err := store.Remove(ctx, cc.GuildID(), channelID, list)
		if err != nil {
			return err
		}
		if !removed {
			return cc.Replyf(ctx, "<#%s> isn't on the %s.", channelID, list)
		}
		return cc.Replyf(ctx, "Removed <#%s> from the %s.", channelID, list)
	}
}

// channelsRemoveAutocomplete suggests channels on the list whose name or
// ID contains what's been typed
func channelsRemoveAutocomplete(list ChannelList) AutocompleteFunc {
	return func(
		ctx context.Context,
		cc *CommandContext,
		focused *discordgo.ApplicationCommandInteractionDataOption,
	) ([]*discordgo.ApplicationCommandOptionChoice, error) {
		store, err := channelSettingsFor(cc)
		if err != nil {
			return nil, err
		}
		settings, err := store.List(ctx, cc.GuildID(), list)
		if err != nil {
			return nil, err
		}

		typed, _ := focused.Value.(string)
		typed = strings.ToLower(strings.TrimPrefix(typed, "#"))
		var choices []*discordgo.ApplicationCommandOptionChoice
		for _, s := range settings {
			label := channelLabel(s)
			if typed != "" &&
				!strings.Contains(strings.ToLower(label), typed) &&
				!strings.Contains(s.ChannelID, typed) {
				continue
			}
			choices = append(
				choices,
				&discordgo.ApplicationCommandOptionChoice{Name: label, Value: s.ChannelID},
			)
		}
		return choices, nil
	}
}

func channelsListHandler(list ChannelList) ExecuteFunc {
	return func(ctx context.Context, cc *CommandContext) error {
		store, err := channelSettingsFor(cc)
		if err != nil {
			return err
		}
		settings, err := store.List(ctx, cc.GuildID(), list)
		if err != nil {
			return err
		}
		if len(settings) == 0 {
			return cc.Replyf(ctx, "The %s is empty.", list)
		}

		lines := make([]string, 0, len(settings)+1)
		lines = append(lines, fmt.Sprintf("**Channel %s** (%d)", list, len(settings)))
		for _, s := range settings {
			line := fmt.Sprintf("<#%s>", s.ChannelID)
			if s.CreatedAt > 0 {
				line += " added " + humanize.Time(time.UnixMilli(s.CreatedAt))
			}
			if s.CreatedBy != "" {
				line += fmt.Sprintf(" by <@%s>", s.CreatedBy)
			}
			lines = append(lines, line)
		}
		return cc.Respond(
			ctx,
			&discordgo.InteractionResponseData{
				Content:         strings.Join(lines, "\n"),
				Flags:           discordgo.MessageFlagsEphemeral,
				AllowedMentions: &discordgo.MessageAllowedMentions{},
			},
		)
	}
}

func handleChannelsReset(ctx context.Context, cc *CommandContext) error {
	store, err := channelSettingsFor(cc)
	if err != nil {
		return err
	}
	value, _ := cc.StringOption(commandChannelsOptList)
	list, err := ParseChannelList(value)
	if err != nil {
		return cc.ReplyEphemeral(ctx, err.Error())
	}

	removed, err := store.Reset(ctx, cc.GuildID(), list)
	if err != nil {
		return err
	}
	target := "whitelist and blacklist"
	if list != "" {
		target = string(list)
	}
	return cc.Replyf(ctx, "Cleared the %s (%s removed).", target, pluralChannels(removed))
}

func handleChannelsStatus(ctx context.Context, cc *CommandContext) error {
	store, err := channelSettingsFor(cc)
	if err != nil {
		return err
	}
	policy, err := store.Policy(ctx, cc.GuildID())
	if err != nil {
		return err
	}
	return cc.ReplyEphemeral(ctx, channelStatusMessage(policy, cc.ChannelID()))
}

func channelStatusMessage(policy ChannelPolicy, channelID string) string {
	var b strings.Builder
	if policy.Allows(channelID) {
		fmt.Fprintf(&b, "Commands are **enabled** in <#%s>.\n", channelID)
	} else {
		fmt.Fprintf(&b, "Commands are **disabled** in <#%s>.\n", channelID)
	}
	switch {
	case len(policy.Whitelist) > 0:
		fmt.Fprintf(
			&b,
			"Whitelist mode: only %s may be used.",
			pluralChannels(int64(len(policy.Whitelist))),
		)
		if len(policy.Blacklist) > 0 {
			fmt.Fprintf(
				&b,
				" The blacklist (%s) is ignored while the whitelist is in use.",
				pluralChannels(int64(len(policy.Blacklist))),
			)
		}
	case len(policy.Blacklist) > 0:
		fmt.Fprintf(&b, "Blacklist mode: %s denied.", pluralChannels(int64(len(policy.Blacklist))))
	default:
		b.WriteString("No channel lists are set, every channel is allowed.")
	}
	return b.String()
}

func pluralChannels(n int64) string {
	if n == 1 {
		return "1 channel"
	}
	return humanize.Comma(n) + " channels"
}

func channelLabel(s GuildChannelSetting) string {
	if s.ChannelName != "" {
		return "#" + s.ChannelName
	}
	return s.ChannelID
}

// parseChannelMention accepts a channel ID or a <#id> mention
func parseChannelMention(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "<#") && strings.HasSuffix(s, ">") {
		return s[2 : len(s)-1]
	}
	return s
}
