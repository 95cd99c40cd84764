package cli

import (
	"github.com/spf13/cobra"

	"p2p-market-watch/internal/app"
)

var trustViewer string

var trustCmd = &cobra.Command{
	Use:   "trust",
	Short: "Resolve the one-hop trust set for a viewer key",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ResolveTrust(cmd.Context(), app.TrustOptions{
			ViewerKey: trustViewer,
		})
	},
}

func init() {
	trustCmd.Flags().StringVar(&trustViewer, "viewer", "", "Viewer public key (hex)")
}
