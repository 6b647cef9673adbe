package fluffle

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"
	"strings"
	"time"
)

const (
	commandUserInfo    = "User Info"
	commandMessageInfo = "Message Info"
)

func newUserInfoCommand() Command {
	return NewUserCommand(commandUserInfo, handleUserInfo)
}

func newMessageInfoCommand() Command {
	return NewMessageCommand(commandMessageInfo, handleMessageInfo)
}

func handleUserInfo(
	ctx context.Context,
	cc *CommandContext,
	user *discordgo.User,
	member *discordgo.Member,
) error {
	return cc.Respond(
		ctx,
		&discordgo.InteractionResponseData{
			Content:         userInfo(user, member, time.Now()),
			Flags:           discordgo.MessageFlagsEphemeral,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	)
}

func userInfo(user *discordgo.User, member *discordgo.Member, now time.Time) string {
	lines := []string{
		fmt.Sprintf("**%s** (<@%s>)", user.String(), user.ID),
		fmt.Sprintf("ID: `%s`", user.ID),
	}
	if user.GlobalName != "" {
		lines = append(lines, "Display name: "+user.GlobalName)
	}
	if created, err := discordgo.SnowflakeTimestamp(user.ID); err == nil {
		lines = append(
			lines,
			fmt.Sprintf("Account created: <t:%d:D> (%s)", created.Unix(), humanize.RelTime(created, now, "ago", "from now")),
		)
	}
	if user.Bot {
		lines = append(lines, "Bot account")
	}
	if member != nil {
		if member.Nick != "" {
			lines = append(lines, "Nickname: "+member.Nick)
		}
		if !member.JoinedAt.IsZero() {
			lines = append(
				lines,
				fmt.Sprintf(
					"Joined server: <t:%d:D> (%s)",
					member.JoinedAt.Unix(),
					humanize.RelTime(member.JoinedAt, now, "ago", "from now"),
				),
			)
		}
		if len(member.Roles) > 0 {
			roles := make([]string, len(member.Roles))
			for i, r := range member.Roles {
				roles[i] = "<@&" + r + ">"
			}
			lines = append(lines, "Roles: "+strings.Join(roles, " "))
		}
	}
	return strings.Join(lines, "\n")
}

func handleMessageInfo(ctx context.Context, cc *CommandContext, msg *discordgo.Message) error {
	return cc.Respond(
		ctx,
		&discordgo.InteractionResponseData{
			Content:         messageInfo(msg, cc.GuildID(), time.Now()),
			Flags:           discordgo.MessageFlagsEphemeral,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	)
}

func messageInfo(msg *discordgo.Message, guildID string, now time.Time) string {
	lines := []string{fmt.Sprintf("Message `%s`", msg.ID)}
	if author := messageAuthor(msg); author != nil {
		lines = append(lines, fmt.Sprintf("Author: %s (<@%s>)", author.String(), author.ID))
	}
	if created, err := discordgo.SnowflakeTimestamp(msg.ID); err == nil {
		lines = append(
			lines,
			fmt.Sprintf("Sent: <t:%d:f> (%s)", created.Unix(), humanize.RelTime(created, now, "ago", "from now")),
		)
	}
	if msg.EditedTimestamp != nil {
		lines = append(lines, fmt.Sprintf("Edited: <t:%d:f>", msg.EditedTimestamp.Unix()))
	}
	lines = append(lines, fmt.Sprintf("Length: %s characters", humanize.Comma(int64(len([]rune(msg.Content))))))
	if n := len(msg.Attachments); n > 0 {
		lines = append(lines, fmt.Sprintf("Attachments: %d", n))
	}
	if n := len(msg.Embeds); n > 0 {
		lines = append(lines, fmt.Sprintf("Embeds: %d", n))
	}
	if msg.Pinned {
		lines = append(lines, "Pinned")
	}

	location := guildID
	if location == "" {
		location = "@me"
	}
	lines = append(
		lines,
		fmt.Sprintf("Link: https://discord.com/channels/%s/%s/%s", location, msg.ChannelID, msg.ID),
	)
	return strings.Join(lines, "\n")
}
