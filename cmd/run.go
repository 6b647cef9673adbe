package cmd

import (
	"github.com/cyanoflame/FluffleDiscordBot-sub000/fluffle"
	"github.com/spf13/cobra"
	"log"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the Fluffle bot, and (optionally) the admin API and webhook server",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			bot, err := fluffle.New(cfg)
			if err != nil {
				log.Fatalf("error creating fluffle: %s", err.Error())
			}

			if err = bot.Run(ctx); err != nil {
				log.Fatalf("error running fluffle: %s", err.Error())
			}
		},
	}
)

//goland:noinspection GoLinter
func init() {
	rootCmd.AddCommand(runCmd)
}
