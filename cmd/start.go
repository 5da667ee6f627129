package cmd

import (
	"context"
	"fmt"

	"github.com/BioHazard786/warpcall/internal/ui"
	"github.com/spf13/cobra"
)

var startFlags peerFlags

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"s"},
	Short:   "Start a call and wait for a peer to join",
	Long: `Start a call and print its id. The call connects once a peer joins it.

Examples:
  warpcall start
  warpcall start --audio voice.ogg --video camera.ivf --loop
  warpcall start --record ./recordings --relay`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return startCall(cmd.Context())
	},
}

func startCall(ctx context.Context) error {
	cc, err := NewCallContext(ctx, &startFlags)
	if err != nil {
		return err
	}
	defer cc.Close()

	stopSpinner := ui.RunSpinner("Creating call...")
	callID, err := cc.Coord.CreateSession(ctx)
	stopSpinner()
	if err != nil {
		return err
	}

	fmt.Println()
	ui.RenderCallInfo(callID, cc.Config.GetCallLink(callID))

	return cc.Run(ctx)
}

func init() {
	rootCmd.AddCommand(startCmd)
	addPeerFlags(startCmd, &startFlags)
}
