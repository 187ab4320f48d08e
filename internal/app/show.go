package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"sbfeed/internal/storage"
)

// Show prints recent samples, and optionally recent alerts, of the configured feed.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show samples")
	}
	defer closeStore()

	feed := a.Config.Solana.Aggregator

	if opts.Alerts {
		alerts, err := store.ListRecentAlerts(ctx, feed, opts.Limit)
		if err != nil {
			return err
		}
		return writeAlertsTable(os.Stdout, alerts)
	}

	samples, err := store.ListRecentSamples(ctx, feed, opts.Limit)
	if err != nil {
		return err
	}
	return writeSamplesTable(os.Stdout, samples)
}

func writeSamplesTable(out io.Writer, samples []storage.FeedSample) error {
	if len(samples) == 0 {
		fmt.Fprintln(out, "no samples found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tPrice\tStdDev\tReference\tDeviation%\tSlot\tRound Slot\tOracles\tStatus\tKind\tError")

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = sanitizeInline(*sample.Error)
		}
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%s\t%s\t%s\n",
			sample.Bucket.UTC().Format(time.RFC3339),
			formatDecimal(sample.Price, -1),
			formatDecimal(sample.StdDeviation, -1),
			formatDecimal(sample.ReferencePrice, -1),
			formatDecimal(sample.DeviationPct, 3),
			sample.Slot,
			sample.RoundOpenSlot,
			sample.NumSuccess,
			sample.Status,
			sample.ErrorKind,
			errMsg,
		)
	}

	return writer.Flush()
}

func writeAlertsTable(out io.Writer, alerts []storage.AlertRecord) error {
	if len(alerts) == 0 {
		fmt.Fprintln(out, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sent (UTC)\tBucket\tKind\tDeviation%\tThreshold%\tDirection\tChannels")
	for _, alert := range alerts {
		threshold := alert.ThresholdPct
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			alert.CreatedAt.UTC().Format(time.RFC3339),
			alert.SampleTS.UTC().Format(time.RFC3339),
			alert.Kind,
			formatDecimal(alert.DeviationPct, 3),
			formatDecimal(&threshold, 3),
			alert.Direction,
			strings.Join(alert.Channels, ","),
		)
	}
	return writer.Flush()
}

// formatDecimal renders d with places fractional digits, or as-is when
// places is negative. Nil renders as "-".
func formatDecimal(d *decimal.Decimal, places int32) string {
	if d == nil {
		return "-"
	}
	if places < 0 {
		return d.String()
	}
	return d.StringFixed(places)
}

func sanitizeInline(v string) string {
	cleaned := strings.ReplaceAll(v, "\n", " ")
	cleaned = strings.ReplaceAll(cleaned, "\r", " ")
	return cleaned
}
