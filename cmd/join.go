package cmd

import (
	"context"

	"github.com/BioHazard786/warpcall/internal/config"
	"github.com/BioHazard786/warpcall/internal/ui"
	"github.com/spf13/cobra"
)

var joinFlags peerFlags

var joinCmd = &cobra.Command{
	Use:     "join <call-id|url>",
	Aliases: []string{"j"},
	Short:   "Join a call started by a peer",
	Long: `Join a call by its id or link and answer it.

Examples:
  warpcall join brave-otter-sings-loudly
  warpcall join https://warpcall.qzz.io/c/brave-otter-sings-loudly
  warpcall join brave-otter-sings-loudly --audio voice.ogg --record ./recordings`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		callID, err := config.ParseCallID(args[0])
		if err != nil {
			return err
		}
		return joinCall(cmd.Context(), callID)
	},
}

func joinCall(ctx context.Context, callID string) error {
	cc, err := NewCallContext(ctx, &joinFlags)
	if err != nil {
		return err
	}
	defer cc.Close()

	sp := ui.NewSimpleSpinner("Joining call...")
	sp.Start()
	if err := cc.Coord.JoinSession(ctx, callID); err != nil {
		sp.Error("Could not join call " + callID)
		return err
	}
	sp.Success("Joined call " + callID)

	return cc.Run(ctx)
}

func init() {
	rootCmd.AddCommand(joinCmd)
	addPeerFlags(joinCmd, &joinFlags)
}
