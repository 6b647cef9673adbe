package fluffle

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
)

const (
	commandHelp           = "help"
	commandHelpOptionName = "command"
)

func newHelpCommand() Command {
	return NewSlashCommand(commandHelp, "List commands, or show how to use one").
		WithOptions(
			&discordgo.ApplicationCommandOption{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        commandHelpOptionName,
				Description: "Command to show details for",
			},
		).
		WithHandler(handleHelp).
		WithAutocomplete(commandHelpOptionName, autocompleteHelp)
}

func handleHelp(ctx context.Context, cc *CommandContext) error {
	if cc.Bot == nil {
		return fmt.Errorf("%w: no bot", ErrNoHandler)
	}
	commands := cc.Bot.registry.Commands()
	if name, ok := cc.StringOption(commandHelpOptionName); ok && name != "" {
		for _, cmd := range commands {
			if cmd.Type() == discordgo.ChatApplicationCommand && cmd.Name() == name {
				return cc.ReplyEphemeral(ctx, commandUsage(cmd.Definition()))
			}
		}
		return cc.Replyf(ctx, "I don't have a `/%s` command.", name)
	}
	return cc.ReplyEphemeral(ctx, commandList(commands))
}

// autocompleteHelp suggests slash command names starting with what's
// been typed
func autocompleteHelp(
	_ context.Context,
	cc *CommandContext,
	focused *discordgo.ApplicationCommandInteractionDataOption,
) ([]*discordgo.ApplicationCommandOptionChoice, error) {
	if cc.Bot == nil {
		return nil, nil
	}
	typed, _ := focused.Value.(string)
	typed = strings.ToLower(strings.TrimPrefix(typed, "/"))

	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, cmd := range cc.Bot.registry.Commands() {
		if cmd.Type() != discordgo.ChatApplicationCommand {
			continue
		}
		if strings.HasPrefix(cmd.Name(), typed) {
			choices = append(
				choices,
				&discordgo.ApplicationCommandOptionChoice{
					Name:  "/" + cmd.Name(),
					Value: cmd.Name(),
				},
			)
		}
	}
	return choices, nil
}

// commandList renders one line per command
func commandList(commands []Command) string {
	var slash, menus []string
	for _, cmd := range commands {
		def := cmd.Definition()
		switch cmd.Type() {
		case discordgo.ChatApplicationCommand:
			slash = append(slash, fmt.Sprintf("`/%s` %s", def.Name, def.Description))
		case discordgo.UserApplicationCommand:
			menus = append(menus, fmt.Sprintf("`%s` (right-click a user > Apps)", def.Name))
		case discordgo.MessageApplicationCommand:
			menus = append(menus, fmt.Sprintf("`%s` (right-click a message > Apps)", def.Name))
		}
	}

	var b strings.Builder
	b.WriteString("**Commands**\n")
	b.WriteString(strings.Join(slash, "\n"))
	if len(menus) > 0 {
		b.WriteString("\n\n**Context menu**\n")
		b.WriteString(strings.Join(menus, "\n"))
	}
	b.WriteString("\n\nUse `/help command:<name>` for details.")
	return b.String()
}

// commandUsage renders a command's subcommand tree, with one line per
// invocable path
func commandUsage(def *discordgo.ApplicationCommand) string {
	var lines []string
	walkCommandPaths(
		[]string{def.Name},
		def.Description,
		def.Options,
		func(path []string, description string, options []*discordgo.ApplicationCommandOption) {
			line := "`/" + strings.Join(path, " ")
			for _, opt := range options {
				if opt.Required {
					line += " <" + opt.Name + ">"
				} else {
					line += " [" + opt.Name + "]"
				}
			}
			lines = append(lines, line+"` "+description)
		},
	)

	var b strings.Builder
	fmt.Fprintf(&b, "**/%s**: %s\n", def.Name, def.Description)
	if def.DefaultMemberPermissions != nil && *def.DefaultMemberPermissions != 0 {
		fmt.Fprintf(
			&b,
			"Requires: %s\n",
			strings.Join(permissionNames(*def.DefaultMemberPermissions), ", "),
		)
	}
	b.WriteString(strings.Join(lines, "\n"))
	return b.String()
}

// walkCommandPaths calls fn for each leaf of an option tree, with the
// leaf's plain options
func walkCommandPaths(
	path []string,
	description string,
	options []*discordgo.ApplicationCommandOption,
	fn func(path []string, description string, options []*discordgo.ApplicationCommandOption),
) {
	var leafOptions []*discordgo.ApplicationCommandOption
	nested := false
	for _, opt := range options {
		switch opt.Type {
		case discordgo.ApplicationCommandOptionSubCommandGroup,
			discordgo.ApplicationCommandOptionSubCommand:
			nested = true
			walkCommandPaths(append(append([]string{}, path...), opt.Name), opt.Description, opt.Options, fn)
		default:
			leafOptions = append(leafOptions, opt)
		}
	}
	if !nested {
		fn(path, description, leafOptions)
	}
}
