package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/shopspring/decimal"

	"sbfeed/internal/guard"
	"sbfeed/internal/switchboard"
)

// Inspect decodes one aggregator account and prints its fields, the
// resolved result, and the guard verdict.
func (a *App) Inspect(ctx context.Context, opts InspectOptions) error {
	var (
		data []byte
		slot uint64
		err  error
	)

	if opts.File != "" {
		data, err = os.ReadFile(opts.File)
		if err != nil {
			return fmt.Errorf("read account file: %w", err)
		}
		slot = opts.NowSlot
	} else {
		snap, fetchErr := a.newFeedFetcher().FetchAggregator(ctx)
		if fetchErr != nil {
			return fetchErr
		}
		data, slot = snap.Data, snap.Slot
		if opts.DumpPath != "" {
			if err := writeFile(opts.DumpPath, func(w io.Writer) error {
				_, werr := w.Write(data)
				return werr
			}); err != nil {
				return fmt.Errorf("dump account: %w", err)
			}
			a.Logger.Info().Str("path", opts.DumpPath).Int("bytes", len(data)).Msg("account data written")
		}
	}

	agg, err := switchboard.ParseAggregator(data)
	if err != nil {
		return err
	}

	g := guard.New(guard.Config{
		MaxStalenessSlots: a.Config.Guard.MaxStalenessSlots,
		ConfFilter:        decimal.NewFromFloat(a.Config.Guard.ConfFilter),
	})
	return writeInspectReport(os.Stdout, agg, slot, g)
}

func writeInspectReport(out io.Writer, agg *switchboard.AggregatorAccountData, slot uint64, g *guard.Guard) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	row := func(label string, value interface{}) {
		fmt.Fprintf(w, "%s\t%v\n", label, value)
	}

	row("Name", agg.FeedName())
	row("Initialized", agg.IsInitialized())
	row("Created", formatUnix(agg.CreationTimestamp))
	row("Queue", agg.QueuePubkey)
	row("Authority", agg.Authority)
	row("Crank", agg.CrankPubkey)
	row("History buffer", agg.HistoryBuffer)
	row("Resolution mode", agg.ResolutionMode)
	row("Batch size", agg.OracleRequestBatchSize)
	row("Min oracle results", agg.MinOracleResults)
	row("Min job results", agg.MinJobResults)
	row("Min update delay", time.Duration(agg.MinUpdateDelaySeconds)*time.Second)
	row("Variance threshold", agg.VarianceThreshold)
	row("Force report period", time.Duration(agg.ForceReportPeriod)*time.Second)
	row("Expiration", formatUnix(agg.Expiration))
	row("Jobs", agg.JobPubkeysSize)
	row("Consecutive failures", agg.ConsecutiveFailureCount)
	row("Locked", agg.IsLocked)
	row("Crank disabled", agg.DisableCrank)

	writeRound(row, "Latest", &agg.LatestConfirmedRound)
	writeRound(row, "Current", &agg.CurrentRound)
	row("Previous result", fmt.Sprintf("%s @ slot %d", agg.PreviousConfirmedRoundResult, agg.PreviousConfirmedRoundSlot))

	if result, err := agg.GetResult(); err != nil {
		row("Result", describeError(err))
	} else {
		row("Result", result)
	}

	row("Observed slot", slot)
	if _, err := g.Evaluate(agg, slot); err != nil {
		row("Verdict", describeError(err))
	} else {
		row("Verdict", "accepted")
	}

	return w.Flush()
}

func writeRound(row func(string, interface{}), prefix string, r *switchboard.AggregatorRound) {
	row(prefix+" round opened", fmt.Sprintf("slot %d at %s", r.RoundOpenSlot, formatUnix(r.RoundOpenTimestamp)))
	row(prefix+" round result", r.Result)
	row(prefix+" round std deviation", r.StdDeviation)
	row(prefix+" round range", fmt.Sprintf("[%s, %s]", r.MinResponse, r.MaxResponse))
	row(prefix+" round responses", fmt.Sprintf("%d ok / %d error / %d fulfilled", r.NumSuccess, r.NumError, r.FulfilledSlots()))
	row(prefix+" round closed", r.IsClosed)
}

func describeError(err error) string {
	if code, ok := guard.ErrorCode(err); ok {
		return fmt.Sprintf("%s (%s, code %d)", err, guard.Kind(err), code)
	}
	return fmt.Sprintf("%s (%s)", err, guard.Kind(err))
}

func formatUnix(ts int64) string {
	if ts == 0 {
		return "-"
	}
	return time.Unix(ts, 0).UTC().Format(time.RFC3339)
}
