package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/tfdgestao/relatorios/internal/cli/commands"
)

var rootCmd = &cobra.Command{
	Use:   "tfdctl",
	Short: "tfdctl - TFD report scheduling CLI",
	Long: `tfdctl manages the scheduled reports of the TFD service.
It talks to the server at TFD_API_URL using the token in TFD_API_TOKEN
(see "tfdctl login").`,
	SilenceUsage: true,
}

func init() {
	rootCmd.AddCommand(commands.NewLoginCommand())
	rootCmd.AddCommand(commands.NewScheduleCommand())
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
