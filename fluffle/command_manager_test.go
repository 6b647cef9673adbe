package fluffle

import (
	"context"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"log/slog"
	"testing"
)

func newTestCommandManager(t testing.TB, guildID string) (*CommandManager, *mockDiscordSession) {
	t.Helper()
	registry := NewCommandRegistry()
	require.NoError(
		t,
		registry.Register(
			NewSlashCommand("alpha", "The first command").WithHandler(noopHandler),
			NewUserCommand(
				"Beta",
				func(context.Context, *CommandContext, *discordgo.User, *discordgo.Member) error {
					return nil
				},
			),
		),
	)

	session := newMockDiscordSession()
	session.commands[guildID] = []*discordgo.ApplicationCommand{
		{ID: "1", Name: "alpha", Description: "An outdated description", Type: discordgo.ChatApplicationCommand},
		{ID: "2", Name: "old", Description: "Not defined anymore", Type: discordgo.ChatApplicationCommand},
	}
	return NewCommandManager(session, registry, testApplicationID, guildID, slog.Default()), session
}

func diffStates(diffs []CommandDiff) map[string]CommandDiffState {
	states := map[string]CommandDiffState{}
	for _, d := range diffs {
		states[d.Name] = d.State
	}
	return states
}

func remoteNames(cmds []*discordgo.ApplicationCommand) []string {
	names := make([]string, 0, len(cmds))
	for _, c := range cmds {
		names = append(names, c.Name)
	}
	return names
}

func TestCommandManager_Diff(t *testing.T) {
	t.Parallel()

	m, _ := newTestCommandManager(t, "")
	diffs, err := m.Diff(context.Background())
	require.NoError(t, err)
	require.Len(t, diffs, 3)

	// local commands first, in registration order
	assert.Equal(t, "alpha", diffs[0].Name)
	assert.Equal(t, CommandChanged, diffs[0].State)
	require.NotNil(t, diffs[0].Remote)
	assert.Equal(t, "1", diffs[0].Remote.ID)

	assert.Equal(t, "Beta", diffs[1].Name)
	assert.Equal(t, CommandLocalOnly, diffs[1].State)
	assert.Equal(t, "user", diffs[1].TypeName())
	assert.Nil(t, diffs[1].Remote)

	assert.Equal(t, "old", diffs[2].Name)
	assert.Equal(t, CommandRemoteOnly, diffs[2].State)
	assert.Nil(t, diffs[2].Local)
	assert.Equal(t, "slash", diffs[2].TypeName())
}

func TestCommandManager_Register(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, session := newTestCommandManager(t, "")

	changed, err := m.Register(ctx)
	require.NoError(t, err)
	require.Len(t, changed, 2)
	assert.Equal(t, "Beta", changed[0].Name)
	assert.Equal(t, "alpha", changed[1].Name)
	for _, d := range changed {
		assert.Equal(t, CommandSynced, d.State)
		require.NotNil(t, d.Remote)
		assert.NotEmpty(t, d.Remote.ID)
	}

	// alpha was edited in place, not recreated
	assert.Equal(t, "1", changed[1].Remote.ID)
	assert.ElementsMatch(t, []string{"alpha", "old", "Beta"}, remoteNames(session.remoteCommands("")))

	diffs, err := m.Diff(ctx)
	require.NoError(t, err)
	assert.Equal(
		t,
		map[string]CommandDiffState{
			"alpha": CommandSynced,
			"Beta":  CommandSynced,
			"old":   CommandRemoteOnly,
		},
		diffStates(diffs),
	)

	changed, err = m.Register(ctx)
	require.NoError(t, err)
	assert.Empty(t, changed)
}

func TestCommandManager_RegisterNamed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, session := newTestCommandManager(t, "55")

	changed, err := m.Register(ctx, "Beta")
	require.NoError(t, err)
	require.Len(t, changed, 1)
	assert.Equal(t, "55", changed[0].Remote.GuildID)
	assert.Len(t, session.remoteCommands("55"), 3)
	assert.Empty(t, session.remoteCommands(""))

	// remote-only commands can't be registered
	_, err = m.Register(ctx, "old")
	require.ErrorIs(t, err, ErrUnknownCommand)

	_, err = m.Register(ctx, "nope")
	require.ErrorIs(t, err, ErrUnknownCommand)
}

func TestCommandManager_Sync(t *testing.T) {
	t.Parallel()

	m, session := newTestCommandManager(t, "")
	created, err := m.Sync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "Beta"}, remoteNames(created))
	assert.Equal(t, []string{"alpha", "Beta"}, remoteNames(session.remoteCommands("")))

	diffs, err := m.Diff(context.Background())
	require.NoError(t, err)
	assert.Equal(
		t,
		map[string]CommandDiffState{"alpha": CommandSynced, "Beta": CommandSynced},
		diffStates(diffs),
	)
}

func TestCommandManager_Rename(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, session := newTestCommandManager(t, "")

	renamed, err := m.Rename(ctx, "old", "older")
	require.NoError(t, err)
	assert.Equal(t, "older", renamed.Name)
	assert.Equal(t, "2", renamed.ID)
	assert.Equal(t, "Not defined anymore", renamed.Description)
	assert.ElementsMatch(t, []string{"alpha", "older"}, remoteNames(session.remoteCommands("")))

	_, err = m.Rename(ctx, "older", "alpha")
	require.ErrorIs(t, err, ErrCommandExists)

	_, err = m.Rename(ctx, "older", "Not Valid")
	require.Error(t, err)

	_, err = m.Rename(ctx, "missing", "found")
	require.ErrorIs(t, err, ErrRemoteCommandNotFound)
}

func TestCommandManager_Delete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, session := newTestCommandManager(t, "")

	deleted, err := m.Delete(ctx, "old", "missing")
	require.ErrorIs(t, err, ErrRemoteCommandNotFound)
	assert.Equal(t, []string{"old"}, deleted)
	assert.Equal(t, []string{"alpha"}, remoteNames(session.remoteCommands("")))

	_, err = m.Delete(ctx)
	require.Error(t, err)
}

func TestCommandManager_Clear(t *testing.T) {
	t.Parallel()

	m, session := newTestCommandManager(t, "")
	require.NoError(t, m.Clear(context.Background()))
	assert.Empty(t, session.remoteCommands(""))
}

func TestCommandManager_RemoteError(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m, session := newTestCommandManager(t, "")
	session.commandsErr = errMockSession

	_, err := m.Diff(ctx)
	require.ErrorIs(t, err, errMockSession)
	_, err = m.Register(ctx)
	require.ErrorIs(t, err, errMockSession)
	_, err = m.Sync(ctx)
	require.ErrorIs(t, err, errMockSession)
	_, err = m.Rename(ctx, "old", "older")
	require.ErrorIs(t, err, errMockSession)
	require.ErrorIs(t, m.Clear(ctx), errMockSession)
}

func TestCommandFingerprint(t *testing.T) {
	t.Parallel()

	perms := int64(discordgo.PermissionManageChannels)
	local := &discordgo.ApplicationCommand{
		Type:                     discordgo.ChatApplicationCommand,
		Name:                     "channels",
		Description:              "Manage channels",
		DefaultMemberPermissions: &perms,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:         discordgo.ApplicationCommandOptionChannel,
				Name:         "channel",
				Description:  "Channel",
				Required:     true,
				ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildText},
			},
		},
	}

	// Discord fills in IDs, versions and defaults
	allContexts := []discordgo.InteractionContextType{
		discordgo.InteractionContextPrivateChannel,
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
	}
	remote := *local
	remote.ID = "123"
	remote.Version = "456"
	remote.ApplicationID = testApplicationID
	remote.Type = 0
	remote.Contexts = &allContexts
	remote.Options = []*discordgo.ApplicationCommandOption{
		{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         "channel",
			Description:  "Channel",
			Required:     true,
			ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildVoice},
		},
	}
	assert.Equal(t, commandFingerprint(local), commandFingerprint(&remote))

	changed := remote
	changed.Description = "Something else"
	assert.NotEqual(t, commandFingerprint(local), commandFingerprint(&changed))

	guildOnly := []discordgo.InteractionContextType{discordgo.InteractionContextGuild}
	changed = remote
	changed.Contexts = &guildOnly
	assert.NotEqual(t, commandFingerprint(local), commandFingerprint(&changed))
}
