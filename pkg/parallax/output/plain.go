package output

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"
)

// PlainFormatter formats output as aligned "key value" lines and simple
// tables. No colors or styling are applied, which makes the output
// suitable for scripting and piping.
type PlainFormatter struct{}

// Format writes the formatted output to the buffer.
func (f *PlainFormatter) Format(w *bytes.Buffer, r *Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 1, ' ', 0)

	if res := r.Plan; res != nil {
		kv(tw, "workers", res.Workers)
		kv(tw, "chunk_size", res.ChunkSize)
		kv(tw, "backend", res.Backend)
		kv(tw, "estimated_speedup", fmt.Sprintf("%.4f", res.EstimatedSpeedup))
		kv(tw, "reason", res.Reason)
		if d := res.Diagnostics; d != nil {
			kv(tw, "source", d.Source)
			kv(tw, "serial_seconds", fmt.Sprintf("%.6f", d.SerialSeconds))
			if d.Stats != nil {
				kv(tw, "workload", d.Stats.Workload)
				kv(tw, "mean_item_time", fmt.Sprintf("%.6f", d.Stats.MeanItemTime))
				kv(tw, "coefficient_of_variation", fmt.Sprintf("%.4f", d.Stats.CoefficientOfVariation))
			}
		}
		for _, warning := range res.Warnings {
			kv(tw, "warning", warning)
		}
	}

	if p := r.Profile; p != nil {
		kv(tw, "physical_cores", p.PhysicalCores)
		kv(tw, "logical_cores", p.LogicalCores)
		kv(tw, "available_memory", p.AvailableMemory)
		kv(tw, "total_memory", p.TotalMemory)
		kv(tw, "memory_source", p.MemorySource)
		kv(tw, "thread_spawn_cost", fmt.Sprintf("%.9f", p.ThreadSpawnCost))
		kv(tw, "process_spawn_cost", fmt.Sprintf("%.9f", p.ProcessSpawnCost))
		kv(tw, "chunk_submit_overhead", fmt.Sprintf("%.9f", p.ChunkSubmitOverhead))
		kv(tw, "fingerprint", p.Fingerprint())
		for _, warning := range p.Warnings {
			kv(tw, "warning", warning)
		}
	}

	if s := r.Cache; s != nil {
		kv(tw, "path", s.Path)
		kv(tw, "entries", s.Entries)
		kv(tw, "memory_entries", s.MemoryEntries)
		kv(tw, "hits", s.Hits)
		kv(tw, "misses", s.Misses)
	}

	if rec := r.Record; rec != nil {
		kv(tw, "id", rec.ID)
		kv(tw, "timestamp", rec.Timestamp.Format(time.RFC3339))
		kv(tw, "job", rec.Features.JobName)
		kv(tw, "items", rec.Features.TotalItems)
		kv(tw, "fingerprint", rec.Features.Fingerprint)
		kv(tw, "plan", planSummary(rec.Decision.Workers, rec.Decision.ChunkSize, rec.Decision.Backend))
		kv(tw, "estimated_speedup", fmt.Sprintf("%.4f", rec.Decision.EstimatedSpeedup))
		kv(tw, "reason", rec.Decision.Reason)
	}

	if r.Records != nil {
		if _, err := io.WriteString(tw, "ID\tTIMESTAMP\tJOB\tITEMS\tWORKERS\tCHUNK\tBACKEND\tSPEEDUP\n"); err != nil {
			return err
		}
		for _, rec := range r.Records {
			d := rec.Decision
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\t%.2f\n",
				rec.ID, rec.Timestamp.Format(time.RFC3339), rec.Features.JobName,
				rec.Features.TotalItems, d.Workers, d.ChunkSize, d.Backend, d.EstimatedSpeedup)
		}
	}

	return tw.Flush()
}

// kv writes one key/value line. Tabs and newlines in values are flattened
// so each entry stays on a single line.
func kv(w io.Writer, key string, value any) {
	s := strings.NewReplacer("\t", " ", "\n", " ").Replace(fmt.Sprint(value))
	fmt.Fprintf(w, "%s\t%s\n", key, s)
}

func init() {
	Register("plain", func() Formatter {
		return &PlainFormatter{}
	})
}

// Ensure PlainFormatter implements Formatter.
var _ Formatter = (*PlainFormatter)(nil)
