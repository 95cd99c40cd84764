package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"
)

// Show prints recently archived orders.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show orders")
	}
	if closeStore != nil {
		defer closeStore()
	}

	events, err := store.ListRecentOrders(ctx, opts.Limit)
	if err != nil {
		return err
	}

	currency := strings.ToUpper(strings.TrimSpace(opts.Currency))
	side := strings.ToLower(strings.TrimSpace(opts.Side))

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Created (UTC)\tSide\tAmount\tCurrency\tPremium%\tSource\tStatus\tID")

	shown := 0
	for _, event := range events {
		if currency != "" && event.Currency != currency {
			continue
		}
		if side != "" && event.Side != side {
			continue
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			event.CreatedAt.UTC().Format(time.RFC3339),
			event.Side,
			displayDecimal(event.Amount, 0),
			event.Currency,
			displayDecimal(event.Premium, 2),
			event.Source,
			event.Status,
			event.LogicalID,
		)
		shown++
	}

	if shown == 0 {
		fmt.Fprintln(os.Stdout, "no orders found")
		return nil
	}

	writer.Flush()
	return nil
}

func displayDecimal(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	return d.StringFixed(places)
}
