package cmd

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/JakeFAU/doublescout/internal/crawler"
	"github.com/JakeFAU/doublescout/internal/orchestrator"
	"github.com/JakeFAU/doublescout/internal/reconcile"
)

const timeFormat = "2006-01-02 15:04:05"

func newTable(title string) table.Writer {
	tbl := table.NewWriter()
	tbl.SetStyle(table.StyleLight)
	tbl.SetTitle("%s", title)
	// Footers carry durations; keep Go's lowercase spelling.
	tbl.Style().Format.Footer = text.FormatDefault
	return tbl
}

func formatCount(n int64) string {
	return humanize.Comma(n)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.UTC().Format(timeFormat)
}

func renderSummary(w io.Writer, sum orchestrator.Summary) {
	tbl := newTable(fmt.Sprintf("run %s", sum.RunID))
	tbl.AppendHeader(table.Row{"stream", "status", "pages", "saved", "total records", "next page", "note"})
	for _, res := range sum.Streams {
		note := ""
		switch {
		case res.AlreadyDone:
			note = "already completed"
		case res.Err != nil:
			note = res.Err.Error()
		case res.Resumed:
			note = "resumed"
		}
		tbl.AppendRow(table.Row{
			res.Stream,
			res.Status,
			res.Pages,
			formatCount(res.Saved),
			formatCount(res.Checkpoint.RecordCount),
			res.Checkpoint.LastProcessedPage,
			note,
		})
	}
	if sum.Plan.TotalPages > 0 {
		tbl.AppendFooter(table.Row{"listing", fmt.Sprintf("%d pages", sum.Plan.TotalPages),
			"", "", "", sum.Plan.LastPageIndex, "elapsed " + sum.Elapsed.Round(time.Second).String()})
	}
	fmt.Fprintln(w, tbl.Render())
	if sum.Merge.Total > 0 {
		renderMerge(w, sum.Merge)
	}
}

func renderMerge(w io.Writer, rep reconcile.Report) {
	tbl := newTable("merge")
	tbl.AppendRows([]table.Row{
		{"total", formatCount(rep.Total)},
		{"from playtime (A)", formatCount(rep.BySource[crawler.SourceA])},
		{"from name (B)", formatCount(rep.BySource[crawler.SourceB])},
		{"B already in A", formatCount(rep.SkippedB)},
		{"ranked", formatCount(rep.Ranked)},
		{"rank range", rankRange(rep.MinRank, rep.MaxRank)},
		{"duplicate ranks", len(rep.DuplicateRanks)},
		{"scan date", formatTime(rep.ScanDate)},
		{"duration", rep.Duration.Round(time.Millisecond).String()},
	})
	fmt.Fprintln(w, tbl.Render())
}

func renderCheckpoints(w io.Writer, checkpoints map[crawler.StreamID]crawler.Checkpoint, now time.Time) {
	tbl := newTable("checkpoints")
	tbl.AppendHeader(table.Row{"stream", "status", "next page", "total pages", "records", "updated"})
	for _, id := range slices.Sorted(maps.Keys(checkpoints)) {
		cp := checkpoints[id]
		updated := "-"
		if !cp.LastUpdate.IsZero() {
			updated = humanize.RelTime(cp.LastUpdate, now, "ago", "from now")
		}
		tbl.AppendRow(table.Row{id, cp.Status, cp.LastProcessedPage, cp.TotalPages, formatCount(cp.RecordCount), updated})
	}
	if len(checkpoints) == 0 {
		tbl.AppendRow(table.Row{"(none)"})
	}
	fmt.Fprintln(w, tbl.Render())
}

func renderRuns(w io.Writer, runs []crawler.RunStream) {
	tbl := newTable("recent runs")
	tbl.AppendHeader(table.Row{"run", "stream", "status", "pages", "from", "to", "records", "started", "finished"})
	for _, r := range runs {
		tbl.AppendRow(table.Row{
			r.RunID.String()[:8],
			r.Stream,
			r.Status,
			r.Pages,
			r.StartPage,
			r.Page,
			formatCount(r.Records),
			formatTime(r.StartedAt),
			formatTime(r.FinishedAt),
		})
	}
	if len(runs) == 0 {
		tbl.AppendRow(table.Row{"(none)"})
	}
	fmt.Fprintln(w, tbl.Render())
}

func renderCanonical(w io.Writer, sum crawler.CanonicalSummary) {
	tbl := newTable("final database")
	tbl.AppendRows([]table.Row{
		{"rows", formatCount(sum.Total)},
		{"from playtime (A)", formatCount(sum.BySource[crawler.SourceA])},
		{"from name (B)", formatCount(sum.BySource[crawler.SourceB])},
		{"ranked", formatCount(sum.Ranked)},
		{"rank range", rankRange(sum.MinRank, sum.MaxRank)},
		{"scan date", formatTime(sum.ScanDate)},
	})
	fmt.Fprintln(w, tbl.Render())
}

func rankRange(lo, hi int64) string {
	if lo == 0 && hi == 0 {
		return "-"
	}
	return strconv.FormatInt(lo, 10) + ".." + strconv.FormatInt(hi, 10)
}
