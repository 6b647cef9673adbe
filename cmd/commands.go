package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/cyanoflame/FluffleDiscordBot-sub000/fluffle"
	"github.com/spf13/cobra"
	"golang.org/x/term"
	"io"
	"os"
	"strings"
	"text/tabwriter"
)

var errNotConfirmed = errors.New("clear not confirmed (use --yes to skip the prompt)")

// commandManager is the subset of [fluffle.CommandManager] used by the
// commands subcommands
type commandManager interface {
	GuildID() string
	Diff(ctx context.Context) ([]fluffle.CommandDiff, error)
	Register(ctx context.Context, names ...string) ([]fluffle.CommandDiff, error)
	Rename(ctx context.Context, oldName, newName string) (*discordgo.ApplicationCommand, error)
	Delete(ctx context.Context, names ...string) ([]string, error)
	Clear(ctx context.Context) error
}

var (
	commandsGuildID string
	commandsYes     bool

	// getCommandManager returns the manager for the given guild (global if
	// empty). Replaced in tests.
	getCommandManager = func(guildID string) (commandManager, error) {
		bot, err := fluffle.New(cfg)
		if err != nil {
			return nil, err
		}
		return bot.CommandManagerFor(guildID)
	}

	// isTerminal reports whether stdin is a terminal, to decide whether
	// clear can prompt for confirmation
	isTerminal = func() bool {
		return term.IsTerminal(int(os.Stdin.Fd()))
	}
)

var commandsCmd = &cobra.Command{
	Use:   "commands",
	Short: "View and manage the application commands registered with Discord",
}

var commandsViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Compare local commands with those registered with Discord",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := commandManagerFor(cmd)
		if err != nil {
			return err
		}
		diffs, err := m.Diff(cmd.Context())
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Scope: %s\n", scopeName(m.GuildID()))
		if len(diffs) == 0 {
			fmt.Fprintln(out, "No commands defined or registered.")
			return nil
		}
		return writeDiffTable(out, diffs)
	},
}

var commandsRegisterCmd = &cobra.Command{
	Use:   "register [name...]",
	Short: "Register new and changed commands (all of them, if no names are given)",
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := commandManagerFor(cmd)
		if err != nil {
			return err
		}
		changed, err := m.Register(cmd.Context(), args...)
		out := cmd.OutOrStdout()
		for _, d := range changed {
			fmt.Fprintf(out, "Registered %s command '%s' (%s)\n", d.TypeName(), d.Name, d.Remote.ID)
		}
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			fmt.Fprintln(out, "All commands are up to date.")
		}
		return nil
	},
}

var commandsRenameCmd = &cobra.Command{
	Use:   "rename <old> <new>",
	Short: "Rename a registered command",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := commandManagerFor(cmd)
		if err != nil {
			return err
		}
		renamed, err := m.Rename(cmd.Context(), args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Renamed '%s' to '%s' (%s)\n", args[0], renamed.Name, renamed.ID)
		return nil
	},
}

var commandsDeleteCmd = &cobra.Command{
	Use:   "delete <name...>",
	Short: "Delete registered commands",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		m, err := commandManagerFor(cmd)
		if err != nil {
			return err
		}
		deleted, err := m.Delete(cmd.Context(), args...)
		for _, name := range deleted {
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted '%s'\n", name)
		}
		return err
	},
}

var commandsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every registered command in the scope",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m, err := commandManagerFor(cmd)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		if !commandsYes {
			if !isTerminal() {
				return errNotConfirmed
			}
			ok, e := confirm(
				cmd.InOrStdin(),
				out,
				fmt.Sprintf("Delete all %s commands?", scopeName(m.GuildID())),
			)
			if e != nil {
				return e
			}
			if !ok {
				return errNotConfirmed
			}
		}
		if err = m.Clear(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintf(out, "Cleared %s commands\n", scopeName(m.GuildID()))
		return nil
	},
}

// commandManagerFor returns a manager for the --guild flag if it was
// given, otherwise the configured guild
func commandManagerFor(cmd *cobra.Command) (commandManager, error) {
	guildID := cfg.Discord.GuildID
	if cmd.Flags().Changed("guild") {
		guildID = commandsGuildID
	}
	return getCommandManager(guildID)
}

func scopeName(guildID string) string {
	if guildID == "" {
		return "global"
	}
	return fmt.Sprintf("guild %s", guildID)
}

func writeDiffTable(w io.Writer, diffs []fluffle.CommandDiff) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tTYPE\tSTATE\tID")
	for _, d := range diffs {
		id := "-"
		if d.Remote != nil {
			id = d.Remote.ID
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", d.Name, d.TypeName(), d.State, id)
	}
	return tw.Flush()
}

// confirm asks a yes/no question, defaulting to no
func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N]: ", prompt)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func init() {
	commandsCmd.PersistentFlags().StringVar(
		&commandsGuildID,
		"guild",
		"",
		"Guild ID to manage commands in, instead of the configured one (empty for global)",
	)
	commandsClearCmd.Flags().BoolVarP(
		&commandsYes,
		"yes",
		"y",
		false,
		"Don't ask for confirmation",
	)

	commandsCmd.AddCommand(
		commandsViewCmd,
		commandsRegisterCmd,
		commandsRenameCmd,
		commandsDeleteCmd,
		commandsClearCmd,
	)
	rootCmd.AddCommand(commandsCmd)
}
