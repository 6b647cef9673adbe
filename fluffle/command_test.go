package fluffle

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
)

func noopHandler(context.Context, *CommandContext) error {
	return nil
}

// newWhitelistCommand returns a command shaped like:
//
//	/lists whitelist add <channel>
//	/lists whitelist remove <channel>
//	/lists status
func newWhitelistCommand(calls *[]string) *SlashCommand {
	record := func(name string) ExecuteFunc {
		return func(_ context.Context, cc *CommandContext) error {
			*calls = append(*calls, name+":"+strings.Join(cc.Path(), "/"))
			return nil
		}
	}
	channelOpt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "channel",
		Description: "The channel",
		Required:    true,
	}
	return NewSlashCommand("lists", "Manage lists").
		WithGroups(
			NewSubcommandGroup("whitelist", "Whitelisted channels").WithSubcommands(
				NewSubcommand("add", "Add a channel").
					WithOptions(channelOpt).
					WithHandler(record("add")),
				NewSubcommand("remove", "Remove a channel").
					WithOptions(channelOpt).
					WithHandler(record("remove")).
					WithAutocomplete(
						"channel",
						func(
							_ context.Context,
							_ *CommandContext,
							focused *discordgo.ApplicationCommandInteractionDataOption,
						) ([]*discordgo.ApplicationCommandOptionChoice, error) {
							return []*discordgo.ApplicationCommandOptionChoice{
								{Name: "typed " + focused.StringValue(), Value: focused.StringValue()},
							}, nil
						},
					),
			),
		).
		WithSubcommands(NewSubcommand("status", "Show status").WithHandler(record("status")))
}

func TestSlashCommand_Definition(t *testing.T) {
	t.Parallel()

	var calls []string
	cmd := newWhitelistCommand(&calls).WithDefaultMemberPermissions(discordgo.PermissionManageChannels)
	require.NoError(t, cmd.Validate())

	def := cmd.Definition()
	assert.Equal(t, discordgo.ChatApplicationCommand, def.Type)
	assert.Equal(t, "lists", def.Name)
	require.NotNil(t, def.DefaultMemberPermissions)
	assert.Equal(t, int64(discordgo.PermissionManageChannels), *def.DefaultMemberPermissions)

	require.Len(t, def.Options, 2)
	group := def.Options[0]
	assert.Equal(t, discordgo.ApplicationCommandOptionSubCommandGroup, group.Type)
	assert.Equal(t, "whitelist", group.Name)
	require.Len(t, group.Options, 2)
	assert.Equal(t, "add", group.Options[0].Name)
	assert.False(t, group.Options[0].Options[0].Autocomplete)
	assert.Equal(t, "remove", group.Options[1].Name)
	assert.True(t, group.Options[1].Options[0].Autocomplete)

	assert.Equal(t, discordgo.ApplicationCommandOptionSubCommand, def.Options[1].Type)
	assert.Equal(t, "status", def.Options[1].Name)
}

func TestSlashCommand_DefinitionDoesNotShareOptions(t *testing.T) {
	t.Parallel()

	opt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "query",
		Description: "Search query",
	}
	cmd := NewSlashCommand("search", "Search").
		WithOptions(opt).
		WithHandler(noopHandler).
		WithAutocomplete("query", nil)

	def := cmd.Definition()
	require.Len(t, def.Options, 1)
	assert.True(t, def.Options[0].Autocomplete)
	assert.False(t, opt.Autocomplete)
}

func TestSlashCommand_Validate(t *testing.T) {
	t.Parallel()

	stringOpt := func(name string, required bool) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionString,
			Name:        name,
			Description: "an option",
			Required:    required,
		}
	}

	tooManyOptions := make([]*discordgo.ApplicationCommandOption, 26)
	for i := range tooManyOptions {
		tooManyOptions[i] = stringOpt(fmt.Sprintf("opt%d", i), false)
	}

	tooManyChoices := stringOpt("choice", false)
	for i := 0; i < 26; i++ {
		tooManyChoices.Choices = append(
			tooManyChoices.Choices,
			&discordgo.ApplicationCommandOptionChoice{Name: fmt.Sprint(i), Value: i},
		)
	}

	tests := []struct {
		name    string
		cmd     *SlashCommand
		wantErr string
	}{
		{
			name: "valid",
			cmd:  NewSlashCommand("ping", "Ping!").WithHandler(noopHandler),
		},
		{
			name:    "uppercase name",
			cmd:     NewSlashCommand("Ping", "Ping!").WithHandler(noopHandler),
			wantErr: "must be lowercase",
		},
		{
			name:    "name with spaces",
			cmd:     NewSlashCommand("two words", "Ping!").WithHandler(noopHandler),
			wantErr: "letters, numbers",
		},
		{
			name:    "name too long",
			cmd:     NewSlashCommand(strings.Repeat("a", 33), "Ping!").WithHandler(noopHandler),
			wantErr: "letters, numbers",
		},
		{
			name:    "empty description",
			cmd:     NewSlashCommand("ping", "").WithHandler(noopHandler),
			wantErr: "description must be",
		},
		{
			name:    "long description",
			cmd:     NewSlashCommand("ping", strings.Repeat("x", 101)).WithHandler(noopHandler),
			wantErr: "description must be",
		},
		{
			name:    "no handler",
			cmd:     NewSlashCommand("ping", "Ping!"),
			wantErr: "needs a handler",
		},
		{
			name: "required after optional",
			cmd: NewSlashCommand("ping", "Ping!").
				WithHandler(noopHandler).
				WithOptions(stringOpt("a", false), stringOpt("b", true)),
			wantErr: "follows an optional option",
		},
		{
			name: "duplicate option",
			cmd: NewSlashCommand("ping", "Ping!").
				WithHandler(noopHandler).
				WithOptions(stringOpt("a", false), stringOpt("a", false)),
			wantErr: "duplicate option",
		},
		{
			name: "too many options",
			cmd: NewSlashCommand("ping", "Ping!").
				WithHandler(noopHandler).
				WithOptions(tooManyOptions...),
			wantErr: "exceeds limit",
		},
		{
			name: "too many choices",
			cmd: NewSlashCommand("ping", "Ping!").
				WithHandler(noopHandler).
				WithOptions(tooManyChoices),
			wantErr: "choices (limit 25)",
		},
		{
			name: "autocomplete on undeclared option",
			cmd: NewSlashCommand("ping", "Ping!").
				WithHandler(noopHandler).
				WithAutocomplete("missing", nil),
			wantErr: "undeclared option",
		},
		{
			name: "autocomplete on boolean",
			cmd: NewSlashCommand("ping", "Ping!").
				WithHandler(noopHandler).
				WithOptions(
					&discordgo.ApplicationCommandOption{
						Type:        discordgo.ApplicationCommandOptionBoolean,
						Name:        "flag",
						Description: "a flag",
					},
				).
				WithAutocomplete("flag", nil),
			wantErr: "can't autocomplete",
		},
		{
			name: "subcommands with handler",
			cmd: NewSlashCommand("cfg", "Config").
				WithHandler(noopHandler).
				WithSubcommands(NewSubcommand("get", "Get").WithHandler(noopHandler)),
			wantErr: "can't have a handler",
		},
		{
			name: "subcommands with options",
			cmd: NewSlashCommand("cfg", "Config").
				WithOptions(stringOpt("a", false)).
				WithSubcommands(NewSubcommand("get", "Get").WithHandler(noopHandler)),
			wantErr: "can't be mixed with options",
		},
		{
			name: "subcommand without handler",
			cmd: NewSlashCommand("cfg", "Config").
				WithSubcommands(NewSubcommand("get", "Get")),
			wantErr: "has no handler",
		},
		{
			name: "empty group",
			cmd: NewSlashCommand("cfg", "Config").
				WithGroups(NewSubcommandGroup("grp", "Group")),
			wantErr: "has no subcommands",
		},
		{
			name: "group and subcommand share a name",
			cmd: NewSlashCommand("cfg", "Config").
				WithGroups(
					NewSubcommandGroup("get", "Group").
						WithSubcommands(NewSubcommand("one", "One").WithHandler(noopHandler)),
				).
				WithSubcommands(NewSubcommand("get", "Get").WithHandler(noopHandler)),
			wantErr: "duplicate subcommand",
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				err := tc.cmd.Validate()
				if tc.wantErr == "" {
					require.NoError(t, err)
					return
				}
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
			},
		)
	}
}

func TestSlashCommand_Execute_Routes(t *testing.T) {
	t.Parallel()

	user := newDiscordUser("1", "user")
	tests := []struct {
		name    string
		options []*discordgo.ApplicationCommandInteractionDataOption
		want    string
		wantErr error
	}{
		{
			name: "group subcommand",
			options: []*discordgo.ApplicationCommandInteractionDataOption{
				groupOption("whitelist", subcommandOption("add", stringOption("channel", "200"))),
			},
			want: "add:whitelist/add",
		},
		{
			name: "subcommand",
			options: []*discordgo.ApplicationCommandInteractionDataOption{
				subcommandOption("status"),
			},
			want: "status:status",
		},
		{
			name: "unknown group",
			options: []*discordgo.ApplicationCommandInteractionDataOption{
				groupOption("blacklist", subcommandOption("add")),
			},
			wantErr: ErrUnknownSubcommand,
		},
		{
			name: "unknown subcommand in group",
			options: []*discordgo.ApplicationCommandInteractionDataOption{
				groupOption("whitelist", subcommandOption("clear")),
			},
			wantErr: ErrUnknownSubcommand,
		},
		{
			name: "group without subcommand",
			options: []*discordgo.ApplicationCommandInteractionDataOption{
				groupOption("whitelist"),
			},
			wantErr: ErrUnknownSubcommand,
		},
		{
			name:    "no subcommand",
			wantErr: ErrNoHandler,
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				var calls []string
				cmd := newWhitelistCommand(&calls)
				i := newCommandInteraction(user, "lists", tc.options...)
				cc := newTestCommandContext(t, nil, newMockDiscordSession(), i)

				err := cmd.Execute(context.Background(), cc)
				if tc.wantErr != nil {
					require.ErrorIs(t, err, tc.wantErr)
					assert.Empty(t, calls)
					return
				}
				require.NoError(t, err)
				assert.Equal(t, []string{tc.want}, calls)
			},
		)
	}
}

func TestSlashCommand_Execute_LeafOptions(t *testing.T) {
	t.Parallel()

	var got string
	cmd := NewSlashCommand("cfg", "Config").WithSubcommands(
		NewSubcommand("set", "Set a value").
			WithOptions(
				&discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "value",
					Description: "The value",
				},
			).
			WithHandler(
				func(_ context.Context, cc *CommandContext) error {
					got, _ = cc.StringOption("value")
					return nil
				},
			),
	)
	i := newCommandInteraction(
		newDiscordUser("1", "user"),
		"cfg",
		subcommandOption("set", stringOption("value", "hello")),
	)
	cc := newTestCommandContext(t, nil, newMockDiscordSession(), i)
	require.NoError(t, cmd.Execute(context.Background(), cc))
	assert.Equal(t, "hello", got)
	assert.Equal(t, []string{"set"}, cc.Path())
}

func TestSlashCommand_Execute_HandlerError(t *testing.T) {
	t.Parallel()

	boom := errors.New("boom")
	cmd := NewSlashCommand("fail", "Fails").WithHandler(
		func(context.Context, *CommandContext) error {
			return boom
		},
	)
	i := newCommandInteraction(newDiscordUser("1", "user"), "fail")
	cc := newTestCommandContext(t, nil, newMockDiscordSession(), i)
	require.ErrorIs(t, cmd.Execute(context.Background(), cc), boom)
}

func TestSlashCommand_Autocomplete(t *testing.T) {
	t.Parallel()

	var calls []string
	cmd := newWhitelistCommand(&calls)
	user := newDiscordUser("1", "user")

	i := newAutocompleteInteraction(
		user,
		"lists",
		groupOption("whitelist", subcommandOption("remove", focusedStringOption("channel", "gen"))),
	)
	cc := newTestCommandContext(t, nil, newMockDiscordSession(), i)
	choices, err := cmd.Autocomplete(context.Background(), cc)
	require.NoError(t, err)
	require.Len(t, choices, 1)
	assert.Equal(t, "typed gen", choices[0].Name)

	// no handler for the focused option
	i = newAutocompleteInteraction(
		user,
		"lists",
		groupOption("whitelist", subcommandOption("add", focusedStringOption("channel", "gen"))),
	)
	cc = newTestCommandContext(t, nil, newMockDiscordSession(), i)
	choices, err = cmd.Autocomplete(context.Background(), cc)
	require.NoError(t, err)
	assert.NotNil(t, choices)
	assert.Empty(t, choices)

	// nothing focused
	i = newAutocompleteInteraction(
		user,
		"lists",
		groupOption("whitelist", subcommandOption("remove", stringOption("channel", "gen"))),
	)
	cc = newTestCommandContext(t, nil, newMockDiscordSession(), i)
	choices, err = cmd.Autocomplete(context.Background(), cc)
	require.NoError(t, err)
	assert.Empty(t, choices)
}

func TestCapChoices(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, capChoices(nil))
	assert.Empty(t, capChoices(nil))

	choices := make([]*discordgo.ApplicationCommandOptionChoice, 40)
	assert.Len(t, capChoices(choices), discordMaxChoices)
}

func TestDeferMode_String(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "none", DeferNone.String())
	assert.Equal(t, "public", DeferPublic.String())
	assert.Equal(t, "ephemeral", DeferEphemeral.String())
	assert.Equal(t, "DeferMode(9)", DeferMode(9).String())
}

func TestContextMenuCommand_Validate(t *testing.T) {
	t.Parallel()

	userFn := func(context.Context, *CommandContext, *discordgo.User, *discordgo.Member) error {
		return nil
	}
	require.NoError(t, NewUserCommand("User Info", userFn).Validate())
	require.Error(t, NewUserCommand("", userFn).Validate())
	require.Error(t, NewUserCommand(strings.Repeat("a", 33), userFn).Validate())
	require.ErrorContains(t, NewUserCommand("User Info", nil).Validate(), "has no handler")
	require.ErrorContains(t, NewMessageCommand("Quote", nil).Validate(), "has no handler")

	def := NewMessageCommand("Quote", nil).
		WithDefaultMemberPermissions(discordgo.PermissionSendMessages).
		Definition()
	assert.Equal(t, discordgo.MessageApplicationCommand, def.Type)
	assert.Empty(t, def.Description)
	require.NotNil(t, def.DefaultMemberPermissions)
}

func newContextMenuInteraction(
	user *discordgo.User,
	name string,
	commandType discordgo.ApplicationCommandType,
	targetID string,
	resolved *discordgo.ApplicationCommandInteractionDataResolved,
) *discordgo.InteractionCreate {
	i := newCommandInteraction(user, name)
	i.Data = discordgo.ApplicationCommandInteractionData{
		ID:          "cmd-" + name,
		Name:        name,
		CommandType: commandType,
		TargetID:    targetID,
		Resolved:    resolved,
	}
	return i
}

func TestContextMenuCommand_ExecuteUser(t *testing.T) {
	t.Parallel()

	target := newDiscordUser("77", "target")
	var gotUser *discordgo.User
	var gotMember *discordgo.Member
	cmd := NewUserCommand(
		"Inspect",
		func(_ context.Context, _ *CommandContext, u *discordgo.User, m *discordgo.Member) error {
			gotUser, gotMember = u, m
			return nil
		},
	)

	i := newContextMenuInteraction(
		newDiscordUser("1", "user"),
		"Inspect",
		discordgo.UserApplicationCommand,
		target.ID,
		&discordgo.ApplicationCommandInteractionDataResolved{
			Users:   map[string]*discordgo.User{target.ID: target},
			Members: map[string]*discordgo.Member{target.ID: {Nick: "nick"}},
		},
	)
	cc := newTestCommandContext(t, nil, newMockDiscordSession(), i)
	require.NoError(t, cmd.Execute(context.Background(), cc))
	assert.Equal(t, target, gotUser)
	require.NotNil(t, gotMember)
	assert.Equal(t, target, gotMember.User)
	assert.Equal(t, target, cc.TargetUser)
}

func TestContextMenuCommand_ExecuteMessage(t *testing.T) {
	t.Parallel()

	msg := &discordgo.Message{ID: "55", Content: "quoted"}
	var got *discordgo.Message
	cmd := NewMessageCommand(
		"Quote",
		func(_ context.Context, _ *CommandContext, m *discordgo.Message) error {
			got = m
			return nil
		},
	)
	i := newContextMenuInteraction(
		newDiscordUser("1", "user"),
		"Quote",
		discordgo.MessageApplicationCommand,
		msg.ID,
		&discordgo.ApplicationCommandInteractionDataResolved{
			Messages: map[string]*discordgo.Message{msg.ID: msg},
		},
	)
	cc := newTestCommandContext(t, nil, newMockDiscordSession(), i)
	require.NoError(t, cmd.Execute(context.Background(), cc))
	assert.Equal(t, msg, got)
	assert.Equal(t, msg, cc.TargetMessage)

	// target not resolved
	i = newContextMenuInteraction(
		newDiscordUser("1", "user"),
		"Quote",
		discordgo.MessageApplicationCommand,
		"56",
		&discordgo.ApplicationCommandInteractionDataResolved{},
	)
	cc = newTestCommandContext(t, nil, newMockDiscordSession(), i)
	require.ErrorIs(t, cmd.Execute(context.Background(), cc), ErrMissingTarget)

	// no target at all
	i = newContextMenuInteraction(
		newDiscordUser("1", "user"),
		"Quote",
		discordgo.MessageApplicationCommand,
		"",
		nil,
	)
	cc = newTestCommandContext(t, nil, newMockDiscordSession(), i)
	require.ErrorIs(t, cmd.Execute(context.Background(), cc), ErrMissingTarget)
}

func TestCommandRegistry(t *testing.T) {
	t.Parallel()

	r := NewCommandRegistry()
	ping := NewSlashCommand("ping", "Ping!").WithHandler(noopHandler)
	info := NewUserCommand(
		"info",
		func(context.Context, *CommandContext, *discordgo.User, *discordgo.Member) error {
			return nil
		},
	)
	require.NoError(t, r.Register(ping, info))
	assert.Equal(t, 2, r.Len())

	got, ok := r.Get(discordgo.ChatApplicationCommand, "ping")
	require.True(t, ok)
	assert.Equal(t, ping, got)

	// a slash command and a context menu command may share a name
	_, ok = r.Get(discordgo.ChatApplicationCommand, "info")
	assert.False(t, ok)
	infoSlash := NewSlashCommand("info", "Info").WithHandler(noopHandler)
	require.NoError(t, r.Register(infoSlash))

	err := r.Register(NewSlashCommand("ping", "Again").WithHandler(noopHandler))
	require.ErrorIs(t, err, ErrCommandExists)

	defs := r.Definitions()
	require.Len(t, defs, 3)
	assert.Equal(t, "ping", defs[0].Name)
	assert.Equal(t, discordgo.UserApplicationCommand, defs[1].Type)
	assert.Equal(t, "info", defs[2].Name)
}

func TestCommandRegistry_RegisterIsAtomic(t *testing.T) {
	t.Parallel()

	r := NewCommandRegistry()
	err := r.Register(
		NewSlashCommand("good", "Good").WithHandler(noopHandler),
		NewSlashCommand("bad", ""),
	)
	require.Error(t, err)
	assert.Zero(t, r.Len())

	err = r.Register(
		NewSlashCommand("dup", "Dup").WithHandler(noopHandler),
		NewSlashCommand("dup", "Dup").WithHandler(noopHandler),
	)
	require.ErrorIs(t, err, ErrCommandExists)
	assert.Zero(t, r.Len())
}

func TestCommandContext_Respond(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	session := newMockDiscordSession()
	cc := newTestCommandContext(t, nil, session, newCommandInteraction(newDiscordUser("1", "u"), "ping"))

	require.NoError(t, cc.Reply(ctx, "first"))
	require.NoError(t, cc.Reply(ctx, "second"))

	responses := session.interactionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, discordgo.InteractionResponseChannelMessageWithSource, responses[0].Type)
	assert.Equal(t, "first", responses[0].Data.Content)
	assert.Equal(t, "second", session.lastContent(t))
	assert.True(t, cc.Responded())
}

func TestCommandContext_DeferThenRespond(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	session := newMockDiscordSession()
	cc := newTestCommandContext(t, nil, session, newCommandInteraction(newDiscordUser("1", "u"), "ping"))

	require.NoError(t, cc.Defer(ctx, true))
	require.NoError(t, cc.Defer(ctx, false))
	assert.True(t, cc.Deferred())
	assert.False(t, cc.Responded())

	require.NoError(t, cc.Replyf(ctx, "took %d seconds", 5))

	responses := session.interactionResponses()
	require.Len(t, responses, 1)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, responses[0].Type)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, responses[0].Data.Flags)

	edits := session.interactionEdits()
	require.Len(t, edits, 1)
	assert.Equal(t, "took 5 seconds", *edits[0].Content)
}

func TestCommandContext_EphemeralAfterPublicDefer(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	session := newMockDiscordSession()
	cc := newTestCommandContext(t, nil, session, newCommandInteraction(newDiscordUser("1", "u"), "ping"))

	require.NoError(t, cc.Defer(ctx, false))
	require.NoError(t, cc.ReplyEphemeral(ctx, "only you"))
	assert.True(t, cc.Responded())

	assert.Empty(t, session.interactionEdits())
	assert.Equal(t, 1, session.interactionDeletes())
	followups := session.interactionFollowups()
	require.Len(t, followups, 1)
	assert.Equal(t, "only you", followups[0].Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, followups[0].Flags)

	// public replies to a public deferral still edit it
	session = newMockDiscordSession()
	cc = newTestCommandContext(t, nil, session, newCommandInteraction(newDiscordUser("1", "u"), "ping"))
	require.NoError(t, cc.Defer(ctx, false))
	require.NoError(t, cc.Reply(ctx, "everyone"))
	assert.Zero(t, session.interactionDeletes())
	assert.Empty(t, session.interactionFollowups())
	assert.Equal(t, "everyone", session.lastContent(t))
}

func TestCommandContext_RespondTruncates(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	cc := newTestCommandContext(t, nil, session, newCommandInteraction(newDiscordUser("1", "u"), "ping"))
	require.NoError(t, cc.Reply(context.Background(), strings.Repeat("a", 2500)))
	assert.Len(t, session.lastContent(t), discordMaxMessageLength)
}

func TestCommandContext_RespondError(t *testing.T) {
	t.Parallel()

	session := newMockDiscordSession()
	session.respondErr = errMockSession
	cc := newTestCommandContext(t, nil, session, newCommandInteraction(newDiscordUser("1", "u"), "ping"))
	require.ErrorIs(t, cc.Reply(context.Background(), "hi"), errMockSession)
	assert.False(t, cc.Responded())
}

func TestCommandContext_Options(t *testing.T) {
	t.Parallel()

	i := newCommandInteraction(
		newDiscordUser("1", "u"),
		"opts",
		stringOption("name", "fluffle"),
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  "count",
			Type:  discordgo.ApplicationCommandOptionInteger,
			Value: float64(3),
		},
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  "loud",
			Type:  discordgo.ApplicationCommandOptionBoolean,
			Value: true,
		},
		&discordgo.ApplicationCommandInteractionDataOption{
			Name:  "where",
			Type:  discordgo.ApplicationCommandOptionChannel,
			Value: "300",
		},
	)
	i.Data = func() discordgo.ApplicationCommandInteractionData {
		data := i.ApplicationCommandData()
		data.Resolved = &discordgo.ApplicationCommandInteractionDataResolved{
			Channels: map[string]*discordgo.Channel{"300": {ID: "300", Name: "general"}},
		}
		return data
	}()
	cc := newTestCommandContext(t, nil, newMockDiscordSession(), i)

	name, ok := cc.StringOption("name")
	assert.True(t, ok)
	assert.Equal(t, "fluffle", name)

	count, ok := cc.IntOption("count")
	assert.True(t, ok)
	assert.Equal(t, int64(3), count)

	loud, ok := cc.BoolOption("loud")
	assert.True(t, ok)
	assert.True(t, loud)

	ch, ok := cc.ChannelOption("where")
	assert.True(t, ok)
	assert.Equal(t, "general", ch.Name)

	_, ok = cc.StringOption("count")
	assert.False(t, ok)
	_, ok = cc.StringOption("missing")
	assert.False(t, ok)
	assert.Nil(t, cc.Focused())
}

func TestCommandContext_IsOwner(t *testing.T) {
	bot, _ := newTestBot(t, nil)

	owner := newTestCommandContext(t, bot, newMockDiscordSession(), newCommandInteraction(newDiscordUser(testOwnerID, "owner"), "ping"))
	assert.True(t, owner.IsOwner())

	other := newTestCommandContext(t, bot, newMockDiscordSession(), newCommandInteraction(newDiscordUser("2", "other"), "ping"))
	assert.False(t, other.IsOwner())

	noBot := newTestCommandContext(t, nil, newMockDiscordSession(), newCommandInteraction(newDiscordUser(testOwnerID, "owner"), "ping"))
	assert.False(t, noBot.IsOwner())
}
