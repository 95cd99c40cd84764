package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"p2p-market-watch/internal/trust"
)

// ResolveTrust resolves and prints the one-hop trust set for a viewer
// key: the viewer plus everyone on their most recent contact list.
func (a *App) ResolveTrust(ctx context.Context, opts TrustOptions) error {
	if opts.ViewerKey == "" {
		return errors.New("--viewer must be provided")
	}

	resolver := trust.NewResolver(a.newPool(), a.Config.Trust.RequestTimeout, a.Logger)
	set := resolver.Build(ctx, opts.ViewerKey)

	fmt.Fprintf(os.Stdout, "trusted keys for %s (%d):\n", opts.ViewerKey, len(set))
	for _, key := range set.Keys() {
		fmt.Fprintln(os.Stdout, key)
	}
	return nil
}
