package app

import (
	"context"
	"encoding/csv"
	"errors"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	chart "github.com/wcharczuk/go-chart/v2"

	"sbfeed/internal/storage"
)

// Export renders historical samples as CSV and/or PNG.
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
	defer closeStore()

	to := time.Now().UTC()
	if opts.To != nil {
		to = opts.To.UTC()
	}

	from := to.Add(-time.Duration(opts.MaxPoints) * a.Config.Scheduler.Interval)
	if opts.From != nil {
		from = opts.From.UTC()
	}

	if !from.Before(to) {
		return errors.New("from must be before to")
	}

	samples, err := store.ListSamplesBetween(ctx, a.Config.Solana.Aggregator, from, to)
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		a.Logger.Info().Msg("no samples found for export window")
		return nil
	}

	downsampled := downsampleSamples(samples, opts.MaxPoints)
	a.Logger.Info().Int("total", len(samples)).Int("exported", len(downsampled)).Msg("exporting samples")

	if opts.CSVPath != "" {
		if err := writeFile(opts.CSVPath, func(w io.Writer) error { return writeSamplesCSV(w, downsampled) }); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if err := writeFile(opts.PNGPath, func(w io.Writer) error { return writeSamplesPNG(w, downsampled) }); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSamples(samples []storage.FeedSample, max int) []storage.FeedSample {
	if max <= 0 || len(samples) <= max {
		return samples
	}
	if max == 1 {
		return samples[len(samples)-1:]
	}

	result := make([]storage.FeedSample, 0, max)
	step := float64(len(samples)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		result = append(result, samples[idx])
	}
	return result
}

func writeSamplesCSV(out io.Writer, samples []storage.FeedSample) error {
	writer := csv.NewWriter(out)

	header := []string{
		"bucket_ts", "price", "std_deviation", "reference_price", "deviation_pct",
		"slot", "round_open_slot", "num_success", "resolution_mode", "status", "error_kind", "error",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, sample := range samples {
		errMsg := ""
		if sample.Error != nil {
			errMsg = *sample.Error
		}
		record := []string{
			sample.Bucket.UTC().Format(time.RFC3339),
			csvDecimal(sample.Price),
			csvDecimal(sample.StdDeviation),
			csvDecimal(sample.ReferencePrice),
			csvDecimal(sample.DeviationPct),
			strconv.FormatUint(sample.Slot, 10),
			strconv.FormatUint(sample.RoundOpenSlot, 10),
			strconv.FormatUint(uint64(sample.NumSuccess), 10),
			sample.ResolutionMode,
			sample.Status,
			sample.ErrorKind,
			errMsg,
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSamplesPNG(out io.Writer, samples []storage.FeedSample) error {
	var (
		priceX, refX, devX []time.Time
		price, ref, dev    []float64
	)
	for _, sample := range samples {
		if sample.Price != nil {
			priceX = append(priceX, sample.Bucket)
			price = append(price, sample.Price.InexactFloat64())
		}
		if sample.ReferencePrice != nil {
			refX = append(refX, sample.Bucket)
			ref = append(ref, sample.ReferencePrice.InexactFloat64())
		}
		if sample.DeviationPct != nil {
			devX = append(devX, sample.Bucket)
			dev = append(dev, sample.DeviationPct.InexactFloat64())
		}
	}
	if len(price) < 2 {
		return errors.New("need at least two priced samples to render a chart")
	}

	priceFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.4f")
	}
	pctFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.3f")
	}

	series := []chart.Series{
		chart.TimeSeries{Name: "Switchboard", XValues: priceX, YValues: price},
	}
	if len(ref) >= 2 {
		series = append(series, chart.TimeSeries{Name: "Reference", XValues: refX, YValues: ref})
	}
	if len(dev) >= 2 {
		series = append(series, chart.TimeSeries{Name: "Deviation %", XValues: devX, YValues: dev, YAxis: chart.YAxisSecondary})
	}

	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "Price",
			ValueFormatter: priceFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Deviation (%)",
			ValueFormatter: pctFormatter,
		},
		Series: series,
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	return graph.Render(chart.PNG, out)
}

func writeFile(path string, write func(io.Writer) error) error {
	if err := ensureDir(path); err != nil {
		return err
	}
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(file); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

func csvDecimal(d *decimal.Decimal) string {
	if d == nil {
		return ""
	}
	return d.String()
}
