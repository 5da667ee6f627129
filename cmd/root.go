package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/BioHazard786/warpcall/internal/ui"
	"github.com/BioHazard786/warpcall/internal/version"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:     "warpcall",
	Short:   "Peer-to-peer audio and video calls using WebRTC",
	Long:    `warpcall sets up direct audio and video calls between two peers using WebRTC. One peer starts a call and shares its id; the other joins with it. A small signaling server carries the offer, the answer and the connectivity candidates, and drops out of the picture once the peers are connected.`,
	Version: version.Version,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	// Interrupts cancel the command context so an active call hangs up
	// and removes its signaling record before exiting.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		ui.PrintError(err.Error())
		stop()
		os.Exit(1)
	}
}
