package fluffle

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Discord's limits on command metadata
const (
	discordMaxNameLength        = 32
	discordMaxDescriptionLength = 100
	discordMaxOptions           = 25
	discordMaxChoices           = 25
)

var (
	ErrUnknownCommand        = errors.New("unknown command")
	ErrUnknownSubcommand     = errors.New("unknown subcommand")
	ErrNoHandler             = errors.New("no handler")
	ErrMissingTarget         = errors.New("missing command target")
	ErrCommandExists         = errors.New("command already exists")
	ErrRemoteCommandNotFound = errors.New("remote command not found")
)

var commandNamePattern = regexp.MustCompile(`^[-_\p{L}\p{N}]{1,32}$`)

// DeferMode determines whether a command's interaction is acknowledged
// before the command runs
type DeferMode int

const (
	// DeferNone leaves responding entirely to the command, which must
	// respond within 3 seconds
	DeferNone DeferMode = iota
	// DeferPublic acknowledges the interaction with a visible 'thinking'
	// message
	DeferPublic
	// DeferEphemeral acknowledges the interaction with a 'thinking'
	// message only the invoking user can see
	DeferEphemeral
)

func (d DeferMode) String() string {
	switch d {
	case DeferNone:
		return "none"
	case DeferPublic:
		return "public"
	case DeferEphemeral:
		return "ephemeral"
	default:
		return fmt.Sprintf("DeferMode(%d)", int(d))
	}
}

// Command is an application command (slash or context menu) the bot
// registers and handles.
//
// Commands are wrapped by proxies like [WithRateLimit] and
// [WithPermissions], which intercept some methods and forward the rest.
type Command interface {
	Name() string
	Type() discordgo.ApplicationCommandType

	// Definition returns the metadata registered with Discord
	Definition() *discordgo.ApplicationCommand

	// Validate checks the command against Discord's limits
	Validate() error

	Defer() DeferMode

	// BypassChannelPolicy allows the command in channels a guild's
	// whitelist/blacklist would otherwise deny
	BypassChannelPolicy() bool

	Execute(ctx context.Context, cc *CommandContext) error
	Autocomplete(
		ctx context.Context,
		cc *CommandContext,
	) ([]*discordgo.ApplicationCommandOptionChoice, error)
}

// ExecuteFunc handles a command invocation
type ExecuteFunc func(ctx context.Context, cc *CommandContext) error

// AutocompleteFunc returns choices for the focused option, given
// what the user has typed so far
type AutocompleteFunc func(
	ctx context.Context,
	cc *CommandContext,
	focused *discordgo.ApplicationCommandInteractionDataOption,
) ([]*discordgo.ApplicationCommandOptionChoice, error)

func validateSlashName(kind string, name string) error {
	if !commandNamePattern.MatchString(name) {
		return fmt.Errorf(
			"%s name %q must be 1-%d letters, numbers, '-' or '_'",
			kind, name, discordMaxNameLength,
		)
	}
	if strings.ToLower(name) != name {
		return fmt.Errorf("%s name %q must be lowercase", kind, name)
	}
	return nil
}

func validateDescription(kind string, name string, description string) error {
	n := utf8.RuneCountInString(description)
	if n == 0 || n > discordMaxDescriptionLength {
		return fmt.Errorf(
			"%s %q description must be 1-%d characters (got %d)",
			kind, name, discordMaxDescriptionLength, n,
		)
	}
	return nil
}

// validateOptions checks one level of plain (non-subcommand) options,
// along with the autocomplete handlers registered for them
func validateOptions(
	path string,
	options []*discordgo.ApplicationCommandOption,
	autocomplete map[string]AutocompleteFunc,
) error {
	var errs []error
	if len(options) > discordMaxOptions {
		errs = append(
			errs,
			fmt.Errorf("%s: %d options exceeds limit of %d", path, len(options), discordMaxOptions),
		)
	}

	seen := make(map[string]bool, len(options))
	optionalSeen := false
	for _, opt := range options {
		if opt == nil {
			errs = append(errs, fmt.Errorf("%s: nil option", path))
			continue
		}
		if err := validateSlashName("option", opt.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
		if err := validateDescription("option", opt.Name, opt.Description); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", path, err))
		}
		switch opt.Type {
		case discordgo.ApplicationCommandOptionSubCommand,
			discordgo.ApplicationCommandOptionSubCommandGroup:
			errs = append(
				errs,
				fmt.Errorf("%s: option %q: use subcommand builders for subcommands", path, opt.Name),
			)
		}
		if seen[opt.Name] {
			errs = append(errs, fmt.Errorf("%s: duplicate option %q", path, opt.Name))
		}
		seen[opt.Name] = true

		if opt.Required && optionalSeen {
			errs = append(
				errs,
				fmt.Errorf("%s: required option %q follows an optional option", path, opt.Name),
			)
		}
		if !opt.Required {
			optionalSeen = true
		}

		if len(opt.Choices) > discordMaxChoices {
			errs = append(
				errs,
				fmt.Errorf(
					"%s: option %q has %d choices (limit %d)",
					path, opt.Name, len(opt.Choices), discordMaxChoices,
				),
			)
		}

		if _, ok := autocomplete[opt.Name]; ok || opt.Autocomplete {
			if len(opt.Choices) > 0 {
				errs = append(
					errs,
					fmt.Errorf("%s: option %q can't have both choices and autocomplete", path, opt.Name),
				)
			}
			switch opt.Type {
			case discordgo.ApplicationCommandOptionString,
				discordgo.ApplicationCommandOptionInteger,
				discordgo.ApplicationCommandOptionNumber:
			default:
				errs = append(
					errs,
					fmt.Errorf(
						"%s: option %q of type %s can't autocomplete",
						path, opt.Name, opt.Type.String(),
					),
				)
			}
		}
	}

	for name := range autocomplete {
		if !seen[name] {
			errs = append(
				errs,
				fmt.Errorf("%s: autocomplete handler for undeclared option %q", path, name),
			)
		}
	}
	return errors.Join(errs...)
}

// decorateOptions returns copies of the given options, with Autocomplete
// set on those with a handler
func decorateOptions(
	options []*discordgo.ApplicationCommandOption,
	autocomplete map[string]AutocompleteFunc,
) []*discordgo.ApplicationCommandOption {
	if len(options) == 0 {
		return nil
	}
	rv := make([]*discordgo.ApplicationCommandOption, 0, len(options))
	for _, opt := range options {
		o := *opt
		if _, ok := autocomplete[o.Name]; ok {
			o.Autocomplete = true
		}
		rv = append(rv, &o)
	}
	return rv
}

// focusedOption returns the option the user is currently typing in
func focusedOption(
	options []*discordgo.ApplicationCommandInteractionDataOption,
) *discordgo.ApplicationCommandInteractionDataOption {
	for _, opt := range options {
		if opt.Focused {
			return opt
		}
	}
	return nil
}

// capChoices limits choices to the number Discord will accept
func capChoices(
	choices []*discordgo.ApplicationCommandOptionChoice,
) []*discordgo.ApplicationCommandOptionChoice {
	if len(choices) > discordMaxChoices {
		return choices[:discordMaxChoices]
	}
	if choices == nil {
		return []*discordgo.ApplicationCommandOptionChoice{}
	}
	return choices
}
