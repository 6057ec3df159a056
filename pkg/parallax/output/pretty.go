package output

import (
	"bytes"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/jamesainslie/parallax/pkg/parallax/cache"
	"github.com/jamesainslie/parallax/pkg/parallax/history"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// maxCandidateRows bounds the candidate table in pretty output.
const maxCandidateRows = 16

// PrettyFormatter formats output with colors and styling using lipgloss.
// It produces a visually appealing output suitable for terminal display.
type PrettyFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PrettyFormatter) Format(w *bytes.Buffer, r *Report) error {
	var sections []string

	if r.Plan != nil {
		sections = append(sections, f.formatPlan(r.Plan))
	}
	if r.Profile != nil {
		sections = append(sections, f.formatProfile(r.Profile))
	}
	if r.Cache != nil {
		sections = append(sections, f.formatCache(r.Cache))
	}
	if r.Record != nil {
		sections = append(sections, f.formatRecord(r.Record))
	}
	if r.Records != nil {
		sections = append(sections, f.formatRecords(r.Records))
	}

	w.WriteString(strings.Join(sections, "\n"))
	return nil
}

func (f *PrettyFormatter) formatPlan(res *types.Result) string {
	var sb strings.Builder

	headline := planSummary(res.Workers, res.ChunkSize, res.Backend)
	planStyle := SuccessStyle.Bold(true)
	if res.IsSerial() {
		planStyle = ValueStyle.Bold(true)
	}
	lines := []string{
		TitleStyle.Render("Plan:") + " " + planStyle.Render(headline),
	}

	info := []string{field("Speedup:", speedup(res.EstimatedSpeedup))}
	d := res.Diagnostics
	if d != nil {
		if d.SerialSeconds > 0 {
			info = append(info, field("Serial:", types.FormatSeconds(d.SerialSeconds)))
		}
		if d.Source != "" {
			info = append(info, field("Source:", string(d.Source)))
		}
	}
	lines = append(lines, strings.Join(info, "  "))
	lines = append(lines, MutedStyle.Render(res.Reason))
	sb.WriteString(HeaderBox.Render(strings.Join(lines, "\n")))
	sb.WriteString("\n")

	if d != nil && d.Stats != nil {
		sb.WriteString(f.formatStats(d.Stats))
	}
	if d != nil && len(d.Candidates) > 0 {
		sb.WriteString("\n")
		sb.WriteString(f.formatCandidates(res, d.Candidates))
	}
	if d != nil {
		sb.WriteString(f.formatRunFooter(d))
		sb.WriteString("\n")
	}
	if len(res.Warnings) > 0 {
		sb.WriteString("\n")
		sb.WriteString(formatWarnings(res.Warnings))
	}
	return sb.String()
}

func (f *PrettyFormatter) formatStats(s *types.SampleStats) string {
	items := "unknown"
	if s.KnownLength() {
		items = humanize.Comma(int64(s.TotalItems))
	}
	serializable := "yes"
	if !s.Serializable() {
		serializable = "no"
	}

	rows := [][2]string{
		{"Items:", items},
		{"Sampled:", strconv.Itoa(s.SampleCount)},
		{"Mean item time:", types.FormatSeconds(s.MeanItemTime)},
		{"Variation (cv):", fmt.Sprintf("%.2f", s.CoefficientOfVariation)},
		{"Workload:", fmt.Sprintf("%s (cpu ratio %.2f)", s.Workload, s.CPURatio)},
		{"Payload:", fmt.Sprintf("%s in, %s out",
			humanize.IBytes(uint64(s.AvgInputBytes)), humanize.IBytes(uint64(s.AvgOutputBytes)))},
		{"Serializable:", serializable},
	}
	if s.NestedParallelism != "" {
		rows = append(rows, [2]string{"Nested:", fmt.Sprintf("%s (%d threads)", s.NestedParallelism, s.InternalThreads)})
	}
	return formatRows(rows)
}

func (f *PrettyFormatter) formatCandidates(res *types.Result, candidates []types.Candidate) string {
	var sb strings.Builder
	header := fmt.Sprintf("  %s %s %s %s",
		TableHeaderStyle.Render(padLeft("WORKERS", 8)),
		TableHeaderStyle.Render(padLeft("CHUNK", 8)),
		TableHeaderStyle.Render(padLeft("PREDICTED", 11)),
		TableHeaderStyle.Render(padLeft("SPEEDUP", 8)))
	sb.WriteString(header + "\n")

	shown := candidates
	if len(shown) > maxCandidateRows {
		shown = shown[:maxCandidateRows]
	}
	for _, c := range shown {
		row := fmt.Sprintf("%s %s %s %s",
			padLeft(strconv.Itoa(c.Workers), 8),
			padLeft(strconv.Itoa(c.ChunkSize), 8),
			padLeft(types.FormatSeconds(c.Predicted), 11),
			padLeft(speedup(c.Speedup), 8))
		if c.Workers == res.Workers {
			sb.WriteString("* " + HighlightStyle.Render(row) + "\n")
			continue
		}
		sb.WriteString("  " + ValueStyle.Render(row) + "\n")
	}
	if hidden := len(candidates) - len(shown); hidden > 0 {
		sb.WriteString(MutedStyle.Render(fmt.Sprintf("  ... %d more", hidden)) + "\n")
	}
	return sb.String()
}

func (f *PrettyFormatter) formatRunFooter(d *types.Diagnostics) string {
	var parts []string
	if d.JobName != "" {
		parts = append(parts, field("Job:", d.JobName))
	}
	if d.RunID != "" {
		parts = append(parts, field("Run:", shortID(d.RunID)))
	}
	if d.Elapsed > 0 {
		parts = append(parts, field("Took:", d.Elapsed.Round(time.Millisecond).String()))
	}
	parts = append(parts, MutedStyle.Render("Use -o json for full diagnostics"))
	return FooterBox.Render(strings.Join(parts, "  "))
}

func (f *PrettyFormatter) formatProfile(p *types.SystemProfile) string {
	var sb strings.Builder
	sb.WriteString(HeaderBox.Render(TitleStyle.Render("System profile") + "  " +
		MutedStyle.Render(p.Fingerprint())))
	sb.WriteString("\n")

	rows := [][2]string{
		{"Cores:", fmt.Sprintf("%d physical, %d logical (%s)", p.PhysicalCores, p.LogicalCores, p.CoreSource)},
		{"Memory:", fmt.Sprintf("%s available of %s (%s)",
			types.FormatSize(p.AvailableMemory), types.FormatSize(p.TotalMemory), p.MemorySource)},
		{"Thread spawn:", measured(p.ThreadSpawnCost, p.ThreadSpawnFallback)},
		{"Process spawn:", measured(p.ProcessSpawnCost, p.ProcessSpawnFallback)},
		{"Chunk overhead:", measured(p.ChunkSubmitOverhead, p.ChunkOverheadFallback)},
	}
	if !p.MeasuredAt.IsZero() {
		rows = append(rows, [2]string{"Measured:", humanize.Time(p.MeasuredAt)})
	}
	sb.WriteString(formatRows(rows))

	if len(p.Warnings) > 0 {
		sb.WriteString("\n")
		sb.WriteString(formatWarnings(p.Warnings))
	}
	return sb.String()
}

func (f *PrettyFormatter) formatCache(s *cache.Stats) string {
	var sb strings.Builder
	sb.WriteString(HeaderBox.Render(TitleStyle.Render("Decision cache")))
	sb.WriteString("\n")

	path := s.Path
	if path == "" {
		path = "(memory only)"
	}
	rows := [][2]string{
		{"Path:", path},
		{"Entries:", humanize.Comma(int64(s.Entries))},
		{"In memory:", humanize.Comma(int64(s.MemoryEntries))},
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		rows = append(rows, [2]string{"Hit rate:", fmt.Sprintf("%.0f%% of %d lookups",
			100*float64(s.Hits)/float64(lookups), lookups)})
	}
	sb.WriteString(formatRows(rows))
	return sb.String()
}

func (f *PrettyFormatter) formatRecords(records []history.Record) string {
	if len(records) == 0 {
		return MutedStyle.Render("  No history records") + "\n"
	}

	var sb strings.Builder
	header := fmt.Sprintf("  %s %s %s %s %s %s",
		TableHeaderStyle.Render(padRight("ID", 8)),
		TableHeaderStyle.Render(padRight("WHEN", 14)),
		TableHeaderStyle.Render(padRight("JOB", 20)),
		TableHeaderStyle.Render(padLeft("ITEMS", 10)),
		TableHeaderStyle.Render(padLeft("SPEEDUP", 8)),
		TableHeaderStyle.Render("PLAN"))
	sb.WriteString(header + "\n")

	for _, rec := range records {
		items := "?"
		if rec.Features.TotalItems >= 0 {
			items = humanize.Comma(int64(rec.Features.TotalItems))
		}
		d := rec.Decision
		row := fmt.Sprintf("%s %s %s %s %s %s",
			MutedStyle.Render(padRight(shortID(rec.ID), 8)),
			LabelStyle.Render(padRight(humanize.Time(rec.Timestamp), 14)),
			ValueStyle.Render(padRight(rec.Features.JobName, 20)),
			ValueStyle.Render(padLeft(items, 10)),
			ValueStyle.Render(padLeft(speedup(d.EstimatedSpeedup), 8)),
			ValueStyle.Render(planSummary(d.Workers, d.ChunkSize, d.Backend)))
		sb.WriteString("  " + row + "\n")
	}

	sb.WriteString(FooterBox.Render(field("Records:", strconv.Itoa(len(records)))))
	sb.WriteString("\n")
	return sb.String()
}

func (f *PrettyFormatter) formatRecord(rec *history.Record) string {
	var sb strings.Builder
	d := rec.Decision
	sb.WriteString(HeaderBox.Render(
		TitleStyle.Render("Record "+rec.ID) + "\n" +
			LabelStyle.Render(rec.Timestamp.Local().Format(time.RFC1123))))
	sb.WriteString("\n")

	rows := [][2]string{
		{"Job:", rec.Features.JobName},
		{"Items:", strconv.Itoa(rec.Features.TotalItems)},
		{"Size bucket:", strconv.Itoa(rec.Features.SizeBucket)},
		{"Machine:", rec.Features.Fingerprint},
		{"Plan:", planSummary(d.Workers, d.ChunkSize, d.Backend)},
		{"Speedup:", speedup(d.EstimatedSpeedup)},
		{"Reason:", d.Reason},
	}
	if rec.Features.Workload != "" {
		rows = append(rows, [2]string{"Workload:", string(rec.Features.Workload)})
	}
	if d.MeanItemTime > 0 {
		rows = append(rows, [2]string{"Mean item time:", types.FormatSeconds(d.MeanItemTime)})
	}
	sb.WriteString(formatRows(rows))

	if len(d.Warnings) > 0 {
		sb.WriteString("\n")
		sb.WriteString(formatWarnings(d.Warnings))
	}
	return sb.String()
}

// measured renders a cost, marking values that came from fallback constants.
func measured(seconds float64, fallback bool) string {
	s := types.FormatSeconds(seconds)
	if fallback {
		s += " " + WarningStyle.Render("(fallback)")
	}
	return s
}

func field(label, value string) string {
	return LabelStyle.Render(label) + " " + ValueStyle.Render(value)
}

// formatRows renders label/value pairs with aligned values.
func formatRows(rows [][2]string) string {
	width := 0
	for _, r := range rows {
		width = max(width, len(r[0]))
	}

	var sb strings.Builder
	for _, r := range rows {
		sb.WriteString("  " + LabelStyle.Render(padRight(r[0], width)) + " " + ValueStyle.Render(r[1]) + "\n")
	}
	return sb.String()
}

// formatWarnings builds a warning block.
func formatWarnings(warnings []string) string {
	var sb strings.Builder

	titleStyle := WarningStyle.Bold(true)
	sb.WriteString(titleStyle.Render("Warnings:"))
	sb.WriteString("\n")

	for _, warning := range warnings {
		sb.WriteString(WarningStyle.Render("  " + warning))
		sb.WriteString("\n")
	}

	return sb.String()
}

// padLeft pads a string with spaces on the left to achieve the desired width.
func padLeft(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat(" ", width-len(s)) + s
}

func padRight(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}

func init() {
	Register("pretty", func() Formatter {
		return &PrettyFormatter{}
	})
}

// Ensure PrettyFormatter implements Formatter.
var _ Formatter = (*PrettyFormatter)(nil)
