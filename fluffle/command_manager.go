package fluffle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/errgroup"
	"log/slog"
	"slices"
	"sort"
	"sync"
)

// commandManagerConcurrency limits concurrent command REST calls
var commandManagerConcurrency = 4

// CommandDiffState compares a local command to its registered version
type CommandDiffState string

const (
	CommandSynced     CommandDiffState = "synced"
	CommandChanged    CommandDiffState = "changed"
	CommandLocalOnly  CommandDiffState = "local_only"
	CommandRemoteOnly CommandDiffState = "remote_only"
)

// CommandDiff is the state of a single command, locally and on Discord
type CommandDiff struct {
	Name   string                           `json:"name"`
	Type   discordgo.ApplicationCommandType `json:"type"`
	State  CommandDiffState                 `json:"state"`
	Local  *discordgo.ApplicationCommand    `json:"local,omitempty"`
	Remote *discordgo.ApplicationCommand    `json:"remote,omitempty"`
}

// TypeName returns a short name for the command type
func (c CommandDiff) TypeName() string {
	return commandTypeName(c.Type)
}

func commandTypeName(t discordgo.ApplicationCommandType) string {
	switch t {
	case discordgo.ChatApplicationCommand:
		return "slash"
	case discordgo.UserApplicationCommand:
		return "user"
	case discordgo.MessageApplicationCommand:
		return "message"
	default:
		return fmt.Sprintf("type_%d", t)
	}
}

// CommandManager compares the locally defined commands with those
// registered with Discord, and registers, renames or deletes them
type CommandManager struct {
	session  DiscordSessionHandler
	registry *CommandRegistry
	appID    string
	guildID  string
	logger   *slog.Logger
}

// NewCommandManager returns a manager for the application's commands.
// An empty guildID manages global commands.
func NewCommandManager(
	session DiscordSessionHandler,
	registry *CommandRegistry,
	appID string,
	guildID string,
	logger *slog.Logger,
) *CommandManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &CommandManager{
		session:  session,
		registry: registry,
		appID:    appID,
		guildID:  guildID,
		logger:   logger.With(loggerNameKey, "command_manager", "guild_id", guildID),
	}
}

// GuildID returns the scope being managed. Empty means global.
func (m *CommandManager) GuildID() string {
	return m.guildID
}

func (m *CommandManager) remote(ctx context.Context) ([]*discordgo.ApplicationCommand, error) {
	commands, err := m.session.ApplicationCommands(
		m.appID,
		m.guildID,
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error listing registered commands: %w", err)
	}
	return commands, nil
}

// Diff compares local and remote commands. Local commands come first,
// in registration order, followed by remote-only commands sorted by name.
func (m *CommandManager) Diff(ctx context.Context) ([]CommandDiff, error) {
	remote, err := m.remote(ctx)
	if err != nil {
		return nil, err
	}

	remoteByKey := make(map[registryKey]*discordgo.ApplicationCommand, len(remote))
	for _, r := range remote {
		remoteByKey[registryKey{commandType: commandType(r), name: r.Name}] = r
	}

	var diffs []CommandDiff
	seen := map[registryKey]bool{}
	for _, local := range m.registry.Definitions() {
		key := registryKey{commandType: commandType(local), name: local.Name}
		seen[key] = true
		d := CommandDiff{Name: local.Name, Type: key.commandType, Local: local}
		r, ok := remoteByKey[key]
		switch {
		case !ok:
			d.State = CommandLocalOnly
		case commandFingerprint(local) == commandFingerprint(r):
			d.State = CommandSynced
			d.Remote = r
		default:
			d.State = CommandChanged
			d.Remote = r
		}
		diffs = append(diffs, d)
	}

	var remoteOnly []CommandDiff
	for key, r := range remoteByKey {
		if seen[key] {
			continue
		}
		remoteOnly = append(
			remoteOnly,
			CommandDiff{Name: r.Name, Type: key.commandType, State: CommandRemoteOnly, Remote: r},
		)
	}
	sort.Slice(
		remoteOnly, func(i, j int) bool {
			if remoteOnly[i].Name == remoteOnly[j].Name {
				return remoteOnly[i].Type < remoteOnly[j].Type
			}
			return remoteOnly[i].Name < remoteOnly[j].Name
		},
	)
	return append(diffs, remoteOnly...), nil
}

// Register creates local-only commands and updates changed ones. With no
// names, every local command is considered. Naming a command that isn't
// defined locally is an error.
func (m *CommandManager) Register(ctx context.Context, names ...string) ([]CommandDiff, error) {
	diffs, err := m.Diff(ctx)
	if err != nil {
		return nil, err
	}

	selected, err := selectDiffs(diffs, names, func(d CommandDiff) bool { return d.Local != nil })
	if err != nil {
		return nil, err
	}

	var mu sync.Mutex
	var changed []CommandDiff
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(commandManagerConcurrency)
	for _, d := range selected {
		d := d
		switch d.State {
		case CommandLocalOnly:
			g.Go(
				func() error {
					created, createErr := m.session.ApplicationCommandCreate(
						m.appID, m.guildID, d.Local, discordgo.WithContext(gctx),
					)
					if createErr != nil {
						return fmt.Errorf("error creating %q: %w", d.Name, createErr)
					}
					mu.Lock()
					defer mu.Unlock()
					changed = append(
						changed,
						CommandDiff{
							Name: d.Name, Type: d.Type, State: CommandSynced,
							Local: d.Local, Remote: created,
						},
					)
					return nil
				},
			)
		case CommandChanged:
			g.Go(
				func() error {
					updated, editErr := m.session.ApplicationCommandEdit(
						m.appID, m.guildID, d.Remote.ID, d.Local, discordgo.WithContext(gctx),
					)
					if editErr != nil {
						return fmt.Errorf("error updating %q: %w", d.Name, editErr)
					}
					mu.Lock()
					defer mu.Unlock()
					changed = append(
						changed,
						CommandDiff{
							Name: d.Name, Type: d.Type, State: CommandSynced,
							Local: d.Local, Remote: updated,
						},
					)
					return nil
				},
			)
		default:
			m.logger.DebugContext(ctx, "command already synced", "command", d.Name)
		}
	}
	err = g.Wait()
	sortDiffs(changed)
	return changed, err
}

// Sync replaces every remote command with the local set
func (m *CommandManager) Sync(ctx context.Context) ([]*discordgo.ApplicationCommand, error) {
	created, err := m.session.ApplicationCommandBulkOverwrite(
		m.appID,
		m.guildID,
		m.registry.Definitions(),
		discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error overwriting commands: %w", err)
	}
	m.logger.InfoContext(ctx, "synced commands", "count", len(created))
	return created, nil
}

// Rename changes a registered command's name. newName must be a valid
// name, and not already registered for the same command type.
func (m *CommandManager) Rename(
	ctx context.Context,
	oldName string,
	newName string,
) (*discordgo.ApplicationCommand, error) {
	remote, err := m.remote(ctx)
	if err != nil {
		return nil, err
	}

	var target *discordgo.ApplicationCommand
	for _, r := range remote {
		if r.Name == oldName {
			target = r
			break
		}
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %s", ErrRemoteCommandNotFound, oldName)
	}

	if commandType(target) == discordgo.ChatApplicationCommand {
		if err = validateSlashName("command", newName); err != nil {
			return nil, err
		}
	} else if n := len([]rune(newName)); n == 0 || n > discordMaxNameLength {
		return nil, fmt.Errorf("context menu name %q must be 1-%d characters", newName, discordMaxNameLength)
	}

	for _, r := range remote {
		if r.Name == newName && commandType(r) == commandType(target) {
			return nil, fmt.Errorf("%w: %s", ErrCommandExists, newName)
		}
	}

	edit := *target
	edit.Name = newName
	updated, err := m.session.ApplicationCommandEdit(
		m.appID, m.guildID, target.ID, &edit, discordgo.WithContext(ctx),
	)
	if err != nil {
		return nil, fmt.Errorf("error renaming %q: %w", oldName, err)
	}
	m.logger.InfoContext(ctx, "renamed command", "old", oldName, "new", newName)
	return updated, nil
}

// Delete deletes the named remote commands. Every command is attempted,
// and the errors for those which failed are returned together.
func (m *CommandManager) Delete(ctx context.Context, names ...string) ([]string, error) {
	if len(names) == 0 {
		return nil, errors.New("no commands named")
	}
	remote, err := m.remote(ctx)
	if err != nil {
		return nil, err
	}

	var targets []*discordgo.ApplicationCommand
	var errs []error
	for _, name := range names {
		found := false
		for _, r := range remote {
			if r.Name == name {
				targets = append(targets, r)
				found = true
			}
		}
		if !found {
			errs = append(errs, fmt.Errorf("%w: %s", ErrRemoteCommandNotFound, name))
		}
	}

	var mu sync.Mutex
	var deleted []string
	g := errgroup.Group{}
	g.SetLimit(commandManagerConcurrency)
	for _, t := range targets {
		t := t
		g.Go(
			func() error {
				if delErr := m.session.ApplicationCommandDelete(
					m.appID, m.guildID, t.ID, discordgo.WithContext(ctx),
				); delErr != nil {
					mu.Lock()
					errs = append(errs, fmt.Errorf("error deleting %q: %w", t.Name, delErr))
					mu.Unlock()
					return nil
				}
				mu.Lock()
				deleted = append(deleted, t.Name)
				mu.Unlock()
				return nil
			},
		)
	}
	_ = g.Wait()
	slices.Sort(deleted)
	return deleted, errors.Join(errs...)
}

// Clear removes every registered command in the scope
func (m *CommandManager) Clear(ctx context.Context) error {
	if _, err := m.session.ApplicationCommandBulkOverwrite(
		m.appID,
		m.guildID,
		[]*discordgo.ApplicationCommand{},
		discordgo.WithContext(ctx),
	); err != nil {
		return fmt.Errorf("error clearing commands: %w", err)
	}
	m.logger.InfoContext(ctx, "cleared commands")
	return nil
}

// selectDiffs returns the diffs for the given names, or every diff
// matching include when no names are given
func selectDiffs(
	diffs []CommandDiff,
	names []string,
	include func(CommandDiff) bool,
) ([]CommandDiff, error) {
	if len(names) == 0 {
		var rv []CommandDiff
		for _, d := range diffs {
			if include(d) {
				rv = append(rv, d)
			}
		}
		return rv, nil
	}

	var rv []CommandDiff
	var errs []error
	for _, name := range names {
		found := false
		for _, d := range diffs {
			if d.Name == name && include(d) {
				rv = append(rv, d)
				found = true
			}
		}
		if !found {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownCommand, name))
		}
	}
	return rv, errors.Join(errs...)
}

func sortDiffs(diffs []CommandDiff) {
	sort.Slice(
		diffs, func(i, j int) bool {
			if diffs[i].Name == diffs[j].Name {
				return diffs[i].Type < diffs[j].Type
			}
			return diffs[i].Name < diffs[j].Name
		},
	)
}

// commandType returns the command's type, which Discord omits for
// slash commands in some responses
func commandType(c *discordgo.ApplicationCommand) discordgo.ApplicationCommandType {
	if c.Type == 0 {
		return discordgo.ChatApplicationCommand
	}
	return c.Type
}

// commandFingerprint hashes the parts of a command that are defined
// locally, ignoring IDs, versions, and defaults Discord fills in
func commandFingerprint(c *discordgo.ApplicationCommand) uint64 {
	data, err := json.Marshal(normalizeCommand(c))
	if err != nil {
		return 0
	}
	return xxhash.Sum64(data)
}

func normalizeCommand(c *discordgo.ApplicationCommand) map[string]any {
	obj := map[string]any{
		"name":        c.Name,
		"type":        commandType(c),
		"description": c.Description,
	}
	if c.DefaultMemberPermissions != nil && *c.DefaultMemberPermissions != discordgo.PermissionAll {
		obj["default_member_permissions"] = *c.DefaultMemberPermissions
	}
	if c.NSFW != nil && *c.NSFW {
		obj["nsfw"] = true
	}
	if c.Contexts != nil && !isDefaultContexts(*c.Contexts) {
		contexts := slices.Clone(*c.Contexts)
		slices.Sort(contexts)
		obj["contexts"] = contexts
	}
	if c.IntegrationTypes != nil && !isDefaultIntegrationTypes(*c.IntegrationTypes) {
		types := slices.Clone(*c.IntegrationTypes)
		slices.Sort(types)
		obj["integration_types"] = types
	}
	if len(c.Options) > 0 {
		obj["options"] = normalizeOptions(c.Options)
	}
	return obj
}

func isDefaultContexts(contexts []discordgo.InteractionContextType) bool {
	if len(contexts) == 0 {
		return true
	}
	all := []discordgo.InteractionContextType{
		discordgo.InteractionContextGuild,
		discordgo.InteractionContextBotDM,
		discordgo.InteractionContextPrivateChannel,
	}
	sorted := slices.Clone(contexts)
	slices.Sort(sorted)
	return slices.Equal(sorted, all)
}

func isDefaultIntegrationTypes(types []discordgo.ApplicationIntegrationType) bool {
	return len(types) == 0 ||
		(len(types) == 1 && types[0] == discordgo.ApplicationIntegrationGuildInstall)
}

// normalizeOptions keeps option order, which is significant to users
func normalizeOptions(opts []*discordgo.ApplicationCommandOption) []map[string]any {
	normalized := make([]map[string]any, 0, len(opts))
	for _, o := range opts {
		entry := map[string]any{
			"name":        o.Name,
			"description": o.Description,
			"type":        o.Type,
		}
		if o.Required {
			entry["required"] = true
		}
		if o.Autocomplete {
			entry["autocomplete"] = true
		}
		if len(o.ChannelTypes) > 0 {
			types := slices.Clone(o.ChannelTypes)
			slices.Sort(types)
			entry["channel_types"] = types
		}
		if o.MinValue != nil {
			entry["min_value"] = *o.MinValue
		}
		if o.MaxValue != 0 {
			entry["max_value"] = o.MaxValue
		}
		if o.MinLength != nil {
			entry["min_length"] = *o.MinLength
		}
		if o.MaxLength != 0 {
			entry["max_length"] = o.MaxLength
		}
		if len(o.Choices) > 0 {
			choices := make([]map[string]any, len(o.Choices))
			for j, c := range o.Choices {
				choices[j] = map[string]any{
					"name":  c.Name,
					"value": c.Value,
				}
			}
			entry["choices"] = choices
		}
		if len(o.Options) > 0 {
			entry["options"] = normalizeOptions(o.Options)
		}
		normalized = append(normalized, entry)
	}
	return normalized
}
