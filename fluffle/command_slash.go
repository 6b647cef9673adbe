package fluffle

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
)

// SlashCommand builds a chat input command. A slash command either has
// its own handler and options, or subcommands and subcommand groups
// which do.
//
//	cmd := NewSlashCommand("channels", "Manage channel lists").
//		WithGroups(
//			NewSubcommandGroup("whitelist", "Manage the whitelist").
//				WithSubcommands(NewSubcommand("add", "Whitelist a channel").WithHandler(add)),
//		)
type SlashCommand struct {
	name                     string
	description              string
	options                  []*discordgo.ApplicationCommandOption
	handler                  ExecuteFunc
	autocomplete             map[string]AutocompleteFunc
	subcommands              []*Subcommand
	groups                   []*SubcommandGroup
	defaultMemberPermissions *int64
	contexts                 []discordgo.InteractionContextType
	integrationTypes         []discordgo.ApplicationIntegrationType
	nsfw                     bool
	deferMode                DeferMode
	bypassChannelPolicy      bool
}

func NewSlashCommand(name string, description string) *SlashCommand {
	return &SlashCommand{
		name:         name,
		description:  description,
		autocomplete: map[string]AutocompleteFunc{},
	}
}

// WithOptions appends root options. Mutually exclusive with subcommands.
func (s *SlashCommand) WithOptions(options ...*discordgo.ApplicationCommandOption) *SlashCommand {
	s.options = append(s.options, options...)
	return s
}

// WithHandler sets the handler run when the command has no subcommands
func (s *SlashCommand) WithHandler(fn ExecuteFunc) *SlashCommand {
	s.handler = fn
	return s
}

// WithAutocomplete sets the autocomplete handler for a root option
func (s *SlashCommand) WithAutocomplete(option string, fn AutocompleteFunc) *SlashCommand {
	s.autocomplete[option] = fn
	return s
}

func (s *SlashCommand) WithSubcommands(subcommands ...*Subcommand) *SlashCommand {
	s.subcommands = append(s.subcommands, subcommands...)
	return s
}

func (s *SlashCommand) WithGroups(groups ...*SubcommandGroup) *SlashCommand {
	s.groups = append(s.groups, groups...)
	return s
}

// WithDefaultMemberPermissions hides the command from members lacking
// the given permissions, until a guild overrides it
func (s *SlashCommand) WithDefaultMemberPermissions(permissions int64) *SlashCommand {
	s.defaultMemberPermissions = &permissions
	return s
}

// WithContexts limits where the command can be used
func (s *SlashCommand) WithContexts(contexts ...discordgo.InteractionContextType) *SlashCommand {
	s.contexts = contexts
	return s
}

func (s *SlashCommand) WithIntegrationTypes(
	types ...discordgo.ApplicationIntegrationType,
) *SlashCommand {
	s.integrationTypes = types
	return s
}

// WithNSFW marks the command as age-restricted
func (s *SlashCommand) WithNSFW() *SlashCommand {
	s.nsfw = true
	return s
}

func (s *SlashCommand) WithDefer(mode DeferMode) *SlashCommand {
	s.deferMode = mode
	return s
}

// WithChannelPolicyBypass lets the command run in channels denied by the
// guild's whitelist/blacklist
func (s *SlashCommand) WithChannelPolicyBypass() *SlashCommand {
	s.bypassChannelPolicy = true
	return s
}

func (s *SlashCommand) Name() string {
	return s.name
}

func (*SlashCommand) Type() discordgo.ApplicationCommandType {
	return discordgo.ChatApplicationCommand
}

func (s *SlashCommand) Description() string {
	return s.description
}

func (s *SlashCommand) Defer() DeferMode {
	return s.deferMode
}

func (s *SlashCommand) BypassChannelPolicy() bool {
	return s.bypassChannelPolicy
}

// Subcommands returns the command's top-level subcommands
func (s *SlashCommand) Subcommands() []*Subcommand {
	return s.subcommands
}

// Groups returns the command's subcommand groups
func (s *SlashCommand) Groups() []*SubcommandGroup {
	return s.groups
}

// Definition assembles the command's option tree. Subcommand groups come
// first, followed by subcommands, matching the order they were added
// within each kind.
func (s *SlashCommand) Definition() *discordgo.ApplicationCommand {
	cmd := &discordgo.ApplicationCommand{
		Type:        discordgo.ChatApplicationCommand,
		Name:        s.name,
		Description: s.description,
	}
	if s.defaultMemberPermissions != nil {
		perms := *s.defaultMemberPermissions
		cmd.DefaultMemberPermissions = &perms
	}
	if s.nsfw {
		nsfw := true
		cmd.NSFW = &nsfw
	}
	if len(s.contexts) > 0 {
		contexts := append([]discordgo.InteractionContextType{}, s.contexts...)
		cmd.Contexts = &contexts
	}
	if len(s.integrationTypes) > 0 {
		types := append([]discordgo.ApplicationIntegrationType{}, s.integrationTypes...)
		cmd.IntegrationTypes = &types
	}

	if len(s.groups) == 0 && len(s.subcommands) == 0 {
		cmd.Options = decorateOptions(s.options, s.autocomplete)
		return cmd
	}

	for _, g := range s.groups {
		cmd.Options = append(cmd.Options, g.option())
	}
	for _, sub := range s.subcommands {
		cmd.Options = append(cmd.Options, sub.option())
	}
	return cmd
}

// Validate checks the command tree against Discord's limits, returning
// every problem found
func (s *SlashCommand) Validate() error {
	var errs []error
	if err := validateSlashName("command", s.name); err != nil {
		errs = append(errs, err)
	}
	if err := validateDescription("command", s.name, s.description); err != nil {
		errs = append(errs, err)
	}

	nested := len(s.groups) + len(s.subcommands)
	switch {
	case nested == 0:
		if s.handler == nil {
			errs = append(errs, fmt.Errorf("command %q needs a handler or subcommands", s.name))
		}
		if err := validateOptions(s.name, s.options, s.autocomplete); err != nil {
			errs = append(errs, err)
		}
	default:
		if len(s.options) > 0 || len(s.autocomplete) > 0 {
			errs = append(
				errs,
				fmt.Errorf("command %q: subcommands can't be mixed with options", s.name),
			)
		}
		if s.handler != nil {
			errs = append(
				errs,
				fmt.Errorf("command %q: a command with subcommands can't have a handler", s.name),
			)
		}
		if nested > discordMaxOptions {
			errs = append(
				errs,
				fmt.Errorf(
					"command %q: %d subcommands and groups exceeds limit of %d",
					s.name, nested, discordMaxOptions,
				),
			)
		}
	}

	seen := map[string]bool{}
	for _, g := range s.groups {
		if seen[g.name] {
			errs = append(errs, fmt.Errorf("command %q: duplicate subcommand %q", s.name, g.name))
		}
		seen[g.name] = true
		if err := g.validate(s.name); err != nil {
			errs = append(errs, err)
		}
	}
	for _, sub := range s.subcommands {
		if seen[sub.name] {
			errs = append(errs, fmt.Errorf("command %q: duplicate subcommand %q", s.name, sub.name))
		}
		seen[sub.name] = true
		if err := sub.validate(s.name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// route is the resolved leaf of a slash command invocation
type route struct {
	path         []string
	handler      ExecuteFunc
	autocomplete map[string]AutocompleteFunc
	options      []*discordgo.ApplicationCommandInteractionDataOption
}

// route resolves the leaf handling the given interaction options,
// following a subcommand group and/or subcommand if present
func (s *SlashCommand) route(
	options []*discordgo.ApplicationCommandInteractionDataOption,
) (route, error) {
	if len(options) > 0 {
		first := options[0]
		switch first.Type {
		case discordgo.ApplicationCommandOptionSubCommandGroup:
			group := s.group(first.Name)
			if group == nil {
				return route{}, fmt.Errorf("%w: %s %s", ErrUnknownSubcommand, s.name, first.Name)
			}
			if len(first.Options) == 0 ||
				first.Options[0].Type != discordgo.ApplicationCommandOptionSubCommand {
				return route{}, fmt.Errorf(
					"%w: %s %s: missing subcommand",
					ErrUnknownSubcommand, s.name, first.Name,
				)
			}
			subOpt := first.Options[0]
			sub := group.subcommand(subOpt.Name)
			if sub == nil {
				return route{}, fmt.Errorf(
					"%w: %s %s %s",
					ErrUnknownSubcommand, s.name, first.Name, subOpt.Name,
				)
			}
			return route{
				path:         []string{group.name, sub.name},
				handler:      sub.handler,
				autocomplete: sub.autocomplete,
				options:      subOpt.Options,
			}, nil
		case discordgo.ApplicationCommandOptionSubCommand:
			sub := s.subcommand(first.Name)
			if sub == nil {
				return route{}, fmt.Errorf("%w: %s %s", ErrUnknownSubcommand, s.name, first.Name)
			}
			return route{
				path:         []string{sub.name},
				handler:      sub.handler,
				autocomplete: sub.autocomplete,
				options:      first.Options,
			}, nil
		}
	}
	return route{
		handler:      s.handler,
		autocomplete: s.autocomplete,
		options:      options,
	}, nil
}

func (s *SlashCommand) group(name string) *SubcommandGroup {
	for _, g := range s.groups {
		if g.name == name {
			return g
		}
	}
	return nil
}

func (s *SlashCommand) subcommand(name string) *Subcommand {
	for _, sub := range s.subcommands {
		if sub.name == name {
			return sub
		}
	}
	return nil
}

// Execute routes the interaction to the handling subcommand (or the
// command's own handler)
func (s *SlashCommand) Execute(ctx context.Context, cc *CommandContext) error {
	r, err := s.route(cc.Interaction.ApplicationCommandData().Options)
	if err != nil {
		return err
	}
	cc.setRoute(r.path, r.options)
	if r.handler == nil {
		return fmt.Errorf("%w: %s", ErrNoHandler, strings.Join(append([]string{s.name}, r.path...), " "))
	}
	return r.handler(ctx, cc)
}

// Autocomplete routes the interaction to the leaf, then to the handler
// registered for the focused option. Options without a handler get no
// choices.
func (s *SlashCommand) Autocomplete(
	ctx context.Context,
	cc *CommandContext,
) ([]*discordgo.ApplicationCommandOptionChoice, error) {
	r, err := s.route(cc.Interaction.ApplicationCommandData().Options)
	if err != nil {
		return nil, err
	}
	cc.setRoute(r.path, r.options)

	focused := focusedOption(r.options)
	if focused == nil {
		return capChoices(nil), nil
	}
	fn, ok := r.autocomplete[focused.Name]
	if !ok || fn == nil {
		return capChoices(nil), nil
	}
	choices, err := fn(ctx, cc, focused)
	if err != nil {
		return nil, err
	}
	return capChoices(choices), nil
}

// Subcommand builds a subcommand, the leaf of a slash command tree
type Subcommand struct {
	name         string
	description  string
	options      []*discordgo.ApplicationCommandOption
	handler      ExecuteFunc
	autocomplete map[string]AutocompleteFunc
}

func NewSubcommand(name string, description string) *Subcommand {
	return &Subcommand{
		name:         name,
		description:  description,
		autocomplete: map[string]AutocompleteFunc{},
	}
}

func (s *Subcommand) WithOptions(options ...*discordgo.ApplicationCommandOption) *Subcommand {
	s.options = append(s.options, options...)
	return s
}

func (s *Subcommand) WithHandler(fn ExecuteFunc) *Subcommand {
	s.handler = fn
	return s
}

func (s *Subcommand) WithAutocomplete(option string, fn AutocompleteFunc) *Subcommand {
	s.autocomplete[option] = fn
	return s
}

func (s *Subcommand) Name() string {
	return s.name
}

func (s *Subcommand) Description() string {
	return s.description
}

func (s *Subcommand) option() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        s.name,
		Description: s.description,
		Options:     decorateOptions(s.options, s.autocomplete),
	}
}

func (s *Subcommand) validate(parent string) error {
	path := parent + " " + s.name
	var errs []error
	if err := validateSlashName("subcommand", s.name); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", parent, err))
	}
	if err := validateDescription("subcommand", path, s.description); err != nil {
		errs = append(errs, err)
	}
	if s.handler == nil {
		errs = append(errs, fmt.Errorf("subcommand %q has no handler", path))
	}
	if err := validateOptions(path, s.options, s.autocomplete); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// SubcommandGroup builds a named group of subcommands
type SubcommandGroup struct {
	name        string
	description string
	subcommands []*Subcommand
}

func NewSubcommandGroup(name string, description string) *SubcommandGroup {
	return &SubcommandGroup{name: name, description: description}
}

func (g *SubcommandGroup) WithSubcommands(subcommands ...*Subcommand) *SubcommandGroup {
	g.subcommands = append(g.subcommands, subcommands...)
	return g
}

func (g *SubcommandGroup) Name() string {
	return g.name
}

func (g *SubcommandGroup) Description() string {
	return g.description
}

func (g *SubcommandGroup) Subcommands() []*Subcommand {
	return g.subcommands
}

func (g *SubcommandGroup) subcommand(name string) *Subcommand {
	for _, sub := range g.subcommands {
		if sub.name == name {
			return sub
		}
	}
	return nil
}

func (g *SubcommandGroup) option() *discordgo.ApplicationCommandOption {
	opt := &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommandGroup,
		Name:        g.name,
		Description: g.description,
	}
	for _, sub := range g.subcommands {
		opt.Options = append(opt.Options, sub.option())
	}
	return opt
}

func (g *SubcommandGroup) validate(parent string) error {
	path := parent + " " + g.name
	var errs []error
	if err := validateSlashName("subcommand group", g.name); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", parent, err))
	}
	if err := validateDescription("subcommand group", path, g.description); err != nil {
		errs = append(errs, err)
	}
	switch n := len(g.subcommands); {
	case n == 0:
		errs = append(errs, fmt.Errorf("subcommand group %q has no subcommands", path))
	case n > discordMaxOptions:
		errs = append(
			errs,
			fmt.Errorf(
				"subcommand group %q: %d subcommands exceeds limit of %d",
				path, n, discordMaxOptions,
			),
		)
	}
	seen := map[string]bool{}
	for _, sub := range g.subcommands {
		if seen[sub.name] {
			errs = append(errs, fmt.Errorf("subcommand group %q: duplicate subcommand %q", path, sub.name))
		}
		seen[sub.name] = true
		if err := sub.validate(path); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
