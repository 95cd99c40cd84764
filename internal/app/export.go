package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"p2p-market-watch/internal/book"
	"p2p-market-watch/internal/depth"
	"p2p-market-watch/internal/rates"
	"p2p-market-watch/internal/storage"
)

// Export renders archived open orders as CSV and/or a PNG depth chart.
// The depth chart converts fiat amounts at the latest persisted rate
// table; without one the PNG is skipped.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot export")
	}
	if closeStore != nil {
		defer closeStore()
	}

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-24 * time.Hour)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	events, err := store.ListOpenOrdersBetween(ctx, from, to)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		a.Logger.Info().Msg("no open orders found for export window")
		return nil
	}

	downsampled := downsampleOrders(events, opts.MaxPoints)
	a.Logger.Info().Int("total", len(events)).Int("exported", len(downsampled)).Msg("exporting orders")

	if opts.CSVPath != "" {
		if err := writeOrdersCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		table, err := a.latestRateTable(ctx, store)
		if err != nil {
			return err
		}
		orders := make([]book.Order, 0, len(downsampled))
		for _, event := range downsampled {
			orders = append(orders, event.ToOrder())
		}
		if err := writeDepthPNG(opts.PNGPath, depth.Build(orders, table)); err != nil {
			return err
		}
	}

	return nil
}

func (a *App) latestRateTable(ctx context.Context, store storage.RateSampleStore) (rates.Table, error) {
	sample, err := store.LatestRateSample(ctx)
	if err != nil {
		return nil, errors.New("no rate sample available; run the watcher before exporting a depth chart")
	}
	return rates.Table(sample.Rates), nil
}

func downsampleOrders(events []storage.OrderEvent, max int) []storage.OrderEvent {
	if max <= 0 || len(events) <= max {
		return events
	}

	result := make([]storage.OrderEvent, 0, max)
	step := float64(len(events)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(events) {
			idx = len(events) - 1
		}
		result = append(result, events[idx])
	}
	return result
}

func writeOrdersCSV(path string, events []storage.OrderEvent) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"logical_id", "side", "currency", "amount", "premium_pct", "bond_pct", "payment_methods", "source", "status", "created_at", "expires_at", "last_seen"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, event := range events {
		expires := ""
		if event.ExpiresAt != nil {
			expires = event.ExpiresAt.Format(time.RFC3339)
		}
		record := []string{
			event.LogicalID,
			event.Side,
			event.Currency,
			optionalDecimal(event.Amount),
			optionalDecimal(event.Premium),
			optionalDecimal(event.Bond),
			event.PaymentMethods,
			event.Source,
			event.Status,
			event.CreatedAt.Format(time.RFC3339),
			expires,
			event.LastSeen.Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	return writer.Error()
}

func writeDepthPNG(path string, curves depth.Book) error {
	if len(curves.Buy) == 0 && len(curves.Sell) == 0 {
		return errors.New("no orders qualify for the depth chart")
	}

	if err := ensureDir(path); err != nil {
		return err
	}

	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.2f%%")
	}
	btcFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f BTC")
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			Name:           "Premium over market rate",
			ValueFormatter: pctFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Cumulative volume",
			ValueFormatter: btcFormatter,
		},
	}
	// go-chart rejects series with no values
	if len(curves.Buy) > 0 {
		graph.Series = append(graph.Series, depthSeries("Buy", curves.Buy))
	}
	if len(curves.Sell) > 0 {
		graph.Series = append(graph.Series, depthSeries("Sell", curves.Sell))
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func depthSeries(name string, points []depth.Point) chart.Series {
	x := make([]float64, len(points))
	y := make([]float64, len(points))
	for i, point := range points {
		x[i] = point.Premium.InexactFloat64()
		y[i] = point.CumulativeBTC.InexactFloat64()
	}
	return chart.ContinuousSeries{
		Name:    name,
		XValues: x,
		YValues: y,
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func optionalDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
