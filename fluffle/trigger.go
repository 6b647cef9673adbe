package fluffle

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"log/slog"
	"regexp"
)

// Trigger reacts to regular (non-interaction) messages
type Trigger interface {
	Name() string

	// Matches reports whether the trigger should run for the message
	Matches(m *discordgo.Message) bool

	Execute(ctx context.Context, tc *TriggerContext) error
}

// TriggerContext carries a message to a trigger
type TriggerContext struct {
	Message *discordgo.Message
	Bot     *Fluffle
	Session DiscordSessionHandler
	Logger  *slog.Logger
}

// Reply sends content as a reply to the message, without pinging
// its author
func (t *TriggerContext) Reply(ctx context.Context, content string) (*discordgo.Message, error) {
	return t.Session.ChannelMessageSendComplex(
		t.Message.ChannelID,
		&discordgo.MessageSend{
			Content:         truncate(content, discordMaxMessageLength),
			Reference:       t.Message.SoftReference(),
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
		discordgo.WithContext(ctx),
	)
}

// Send sends content to the message's channel
func (t *TriggerContext) Send(ctx context.Context, content string) (*discordgo.Message, error) {
	return t.Session.ChannelMessageSend(
		t.Message.ChannelID,
		truncate(content, discordMaxMessageLength),
		discordgo.WithContext(ctx),
	)
}

// MentionTrigger greets users who @mention the bot and nobody else
type MentionTrigger struct {
	botUserID func() string
	greeting  string
}

func NewMentionTrigger(botUserID string, greeting string) *MentionTrigger {
	return newMentionTrigger(func() string { return botUserID }, greeting)
}

// newMentionTrigger looks up the bot's user ID on each message, so it
// follows the ID reported once the gateway is ready
func newMentionTrigger(botUserID func() string, greeting string) *MentionTrigger {
	if greeting == "" {
		greeting = DefaultDiscordMentionGreeting
	}
	return &MentionTrigger{botUserID: botUserID, greeting: greeting}
}

func (*MentionTrigger) Name() string {
	return "mention"
}

func (t *MentionTrigger) Matches(m *discordgo.Message) bool {
	return len(m.Mentions) == 1 && messageMentionsUser(m, t.botUserID())
}

func (t *MentionTrigger) Execute(ctx context.Context, tc *TriggerContext) error {
	_, err := tc.Reply(ctx, t.greeting)
	return err
}

// KeywordTrigger replies with a canned response to messages matching
// a pattern
type KeywordTrigger struct {
	name     string
	pattern  *regexp.Regexp
	response string
}

func NewKeywordTrigger(name string, pattern string, response string) (*KeywordTrigger, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern for trigger %q: %w", name, err)
	}
	return &KeywordTrigger{name: name, pattern: re, response: response}, nil
}

func (t *KeywordTrigger) Name() string {
	return t.name
}

func (t *KeywordTrigger) Matches(m *discordgo.Message) bool {
	return m.Content != "" && t.pattern.MatchString(m.Content)
}

func (t *KeywordTrigger) Execute(ctx context.Context, tc *TriggerContext) error {
	_, err := tc.Reply(ctx, t.response)
	return err
}
