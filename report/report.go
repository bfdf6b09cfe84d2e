// Package report renders benchmark summaries as a JSON results file and as
// an aligned text table.
package report

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/goccy/go-json"

	"github.com/kroma-labs/hedgebench/bench"
)

// Result is the serialized form of one run's summary. Latencies are
// milliseconds.
type Result struct {
	Label               string           `json:"label"`
	Count               int64            `json:"count"`
	ErrorCount          int64            `json:"errorCount"`
	ErrorRate           float64          `json:"errorRate"`
	ThroughputPerSecond float64          `json:"throughputPerSecond"`
	P50                 float64          `json:"p50"`
	P95                 float64          `json:"p95"`
	P99                 float64          `json:"p99"`
	Mean                float64          `json:"mean"`
	Min                 float64          `json:"min"`
	Max                 float64          `json:"max"`
	ElapsedSeconds      float64          `json:"elapsedSeconds"`
	AttemptsTotal       int64            `json:"attemptsTotal"`
	CancelledAttempts   int64            `json:"cancelledAttempts"`
	HedgeWins           int64            `json:"hedgeWins"`
	ErrorsByCategory    map[string]int64 `json:"errorsByCategory,omitempty"`
}

// Document is the top-level shape of a results file.
type Document struct {
	RunID        string    `json:"runId,omitempty"`
	GeneratedAt  time.Time `json:"generatedAt"`
	Results      []Result  `json:"results"`
	P99Reduction *float64  `json:"p99Reduction,omitempty"`
}

// FromSummary converts a summary into its serialized form.
func FromSummary(label string, s bench.Summary) Result {
	r := Result{
		Label:               label,
		Count:               s.Count,
		ErrorCount:          s.ErrorCount,
		ErrorRate:           s.ErrorRate(),
		ThroughputPerSecond: s.ThroughputPerSecond,
		P50:                 millis(s.P50),
		P95:                 millis(s.P95),
		P99:                 millis(s.P99),
		Mean:                millis(s.Mean),
		Min:                 millis(s.Min),
		Max:                 millis(s.Max),
		ElapsedSeconds:      s.Elapsed.Seconds(),
		AttemptsTotal:       s.AttemptsTotal,
		CancelledAttempts:   s.CancelledAttempts,
		HedgeWins:           s.HedgeWins,
	}
	if len(s.ErrorsByCategory) > 0 {
		r.ErrorsByCategory = make(map[string]int64, len(s.ErrorsByCategory))
		for c, n := range s.ErrorsByCategory {
			r.ErrorsByCategory[c.String()] = n
		}
	}
	return r
}

// FromComparison converts a baseline-versus-hedged comparison into a document.
func FromComparison(runID string, cmp bench.Comparison) Document {
	reduction := cmp.P99Reduction()
	return Document{
		RunID:        runID,
		GeneratedAt:  time.Now().UTC(),
		Results:      []Result{FromSummary("baseline", cmp.Baseline), FromSummary("hedged", cmp.Hedged)},
		P99Reduction: &reduction,
	}
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// WriteJSON writes doc as indented JSON.
func WriteJSON(w io.Writer, doc Document) error {
	if doc.Results == nil {
		doc.Results = []Result{}
	}
	b, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("report: encode results: %w", err)
	}
	b = append(b, '\n')
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("report: write results: %w", err)
	}
	return nil
}

// WriteText writes the results as an aligned table, one row per run, followed
// by the error breakdown of any run that failed requests.
func WriteText(w io.Writer, doc Document) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)

	fmt.Fprintln(tw, "run\tcount\terrors\tqps\tp50 ms\tp95 ms\tp99 ms\tmean ms\tmax ms\tattempts\thedge wins\t")
	for _, r := range doc.Results {
		fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%.2f\t%d\t%d\t\n",
			r.Label, r.Count, r.ErrorCount, r.ThroughputPerSecond,
			r.P50, r.P95, r.P99, r.Mean, r.Max, r.AttemptsTotal, r.HedgeWins)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("report: write table: %w", err)
	}

	for _, r := range doc.Results {
		if len(r.ErrorsByCategory) == 0 {
			continue
		}
		categories := make([]string, 0, len(r.ErrorsByCategory))
		for c := range r.ErrorsByCategory {
			categories = append(categories, c)
		}
		sort.Strings(categories)

		if _, err := fmt.Fprintf(w, "\n%s errors:\n", r.Label); err != nil {
			return fmt.Errorf("report: write errors: %w", err)
		}
		for _, c := range categories {
			if _, err := fmt.Fprintf(w, "  %-18s %d\n", c, r.ErrorsByCategory[c]); err != nil {
				return fmt.Errorf("report: write errors: %w", err)
			}
		}
	}

	if doc.P99Reduction != nil {
		if _, err := fmt.Fprintf(w, "\np99 reduction: %.1f%%\n", *doc.P99Reduction*100); err != nil {
			return fmt.Errorf("report: write comparison: %w", err)
		}
	}
	return nil
}
