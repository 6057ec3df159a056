package output

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/parallax/pkg/parallax/cache"
	"github.com/jamesainslie/parallax/pkg/parallax/history"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

func TestPrettyFormatter_Plan(t *testing.T) {
	formatter := &PrettyFormatter{}
	var buf bytes.Buffer

	require.NoError(t, formatter.Format(&buf, &Report{Plan: samplePlan()}))
	output := buf.String()

	assert.Contains(t, output, "4 x process_pool, chunk 25")
	assert.Contains(t, output, "3.81x")
	assert.Contains(t, output, "predicted 3.81x faster")
	assert.Contains(t, output, "compute_bound")
	assert.Contains(t, output, "10,000")
	assert.Contains(t, output, "WORKERS")
	assert.Contains(t, output, "demo.square")
	assert.Contains(t, output, "0b5e3c1e")
	assert.Contains(t, output, "Warnings:")
	assert.Contains(t, output, "using fallback")
}

func TestPrettyFormatter_SerialPlanWithoutDiagnostics(t *testing.T) {
	formatter := &PrettyFormatter{}
	var buf bytes.Buffer

	res := &types.Result{Workers: 1, ChunkSize: 1, Backend: types.BackendSerial, EstimatedSpeedup: 1, Reason: "no items to process"}
	require.NoError(t, formatter.Format(&buf, &Report{Plan: res}))
	output := buf.String()

	assert.Contains(t, output, "serial")
	assert.Contains(t, output, "1.00x")
	assert.Contains(t, output, "no items to process")
	assert.NotContains(t, output, "Warnings:")
}

func TestPrettyFormatter_ManyCandidates(t *testing.T) {
	res := samplePlan()
	res.Diagnostics.Candidates = nil
	for w := 1; w <= maxCandidateRows+4; w++ {
		res.Diagnostics.Candidates = append(res.Diagnostics.Candidates,
			types.Candidate{Workers: w, ChunkSize: 1, Predicted: 1, Speedup: 1})
	}

	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Report{Plan: res}))
	assert.Contains(t, buf.String(), "... 4 more")
}

func TestPrettyFormatter_Profile(t *testing.T) {
	var buf bytes.Buffer
	p := sampleProfile()
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Report{Profile: p}))
	output := buf.String()

	assert.Contains(t, output, "4 physical, 8 logical")
	assert.Contains(t, output, "16 GiB available of 32 GiB")
	assert.Contains(t, output, "(fallback)")
	assert.Contains(t, output, p.Fingerprint())
}

func TestPrettyFormatter_Cache(t *testing.T) {
	var buf bytes.Buffer
	stats := &cache.Stats{Entries: 1200, MemoryEntries: 2, Hits: 3, Misses: 1}
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Report{Cache: stats}))
	output := buf.String()

	assert.Contains(t, output, "(memory only)")
	assert.Contains(t, output, "1,200")
	assert.Contains(t, output, "75% of 4 lookups")
}

func TestPrettyFormatter_Records(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Report{Records: sampleRecords()}))
	output := buf.String()

	assert.Contains(t, output, "7f9c2b1a")
	assert.NotContains(t, output, "7f9c2b1a-0000")
	assert.Contains(t, output, "demo.fetch")
	assert.Contains(t, output, "hour ago")
	assert.Contains(t, output, "serial")
}

func TestPrettyFormatter_NoRecords(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Report{Records: []history.Record{}}))
	assert.Contains(t, buf.String(), "No history records")
}

func TestPrettyFormatter_Record(t *testing.T) {
	records := sampleRecords()
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Report{Record: &records[1]}))
	output := buf.String()

	assert.Contains(t, output, records[1].ID)
	assert.Contains(t, output, "workload too small")
	assert.Contains(t, output, "abcdef0123456789")
}

func TestPadding(t *testing.T) {
	assert.Equal(t, "   ab", padLeft("ab", 5))
	assert.Equal(t, "ab   ", padRight("ab", 5))
	assert.Equal(t, "abcdef", padLeft("abcdef", 3))
}
