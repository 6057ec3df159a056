package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jamesainslie/parallax/pkg/parallax/logging"
	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

var logger = logging.Get("history")

// ErrNotFound is returned when no record matches an ID.
var ErrNotFound = errors.New("history record not found")

// ErrAmbiguousID is returned when an ID prefix matches several records.
var ErrAmbiguousID = errors.New("history record ID is ambiguous")

// Defaults for Options.
const (
	DefaultMinRecords = 3
	DefaultWindow     = 10

	// fullConfidenceRecords is the number of agreeing records at which a
	// prediction's confidence stops growing with sample count.
	fullConfidenceRecords = 5
)

// Options tunes prediction.
type Options struct {
	// MinRecords is the number of matching records needed to predict.
	MinRecords int

	// Window is how many of the most recent matching records vote.
	Window int
}

// DefaultOptions returns the default prediction options.
func DefaultOptions() Options {
	return Options{MinRecords: DefaultMinRecords, Window: DefaultWindow}
}

// Store manages decision records on the filesystem.
type Store struct {
	dir  string
	opts Options
	mu   sync.Mutex
	now  func() time.Time
}

// New creates a Store in dir. The directory is not created until a record
// is written.
func New(dir string, opts Options) (*Store, error) {
	if dir == "" {
		return nil, errors.New("history directory cannot be empty")
	}
	if opts.MinRecords <= 0 {
		opts.MinRecords = DefaultMinRecords
	}
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	opts.Window = max(opts.Window, opts.MinRecords)
	return &Store{dir: dir, opts: opts, now: time.Now}, nil
}

// Dir returns the directory records are kept in.
func (s *Store) Dir() string {
	return s.dir
}

// Record logs a decision for features.
func (s *Store) Record(features types.JobFeatures, result *types.Result) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := &Record{
		ID:        uuid.NewString(),
		Timestamp: s.now().UTC(),
		Features:  features,
		Decision: Decision{
			Workers:          result.Workers,
			ChunkSize:        result.ChunkSize,
			Backend:          result.Backend,
			EstimatedSpeedup: result.EstimatedSpeedup,
			Reason:           result.Reason,
			Warnings:         result.Warnings,
		},
	}
	if d := result.Diagnostics; d != nil && d.Stats != nil {
		rec.Decision.MeanItemTime = d.Stats.MeanItemTime
	}

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create history directory: %w", err)
	}
	if err := s.writeRecord(rec); err != nil {
		return fmt.Errorf("failed to write history record: %w", err)
	}
	logger.Debug("recorded decision", "id", rec.ID, "job", features.JobName)
	return nil
}

// writeRecord writes a record to a JSON file in the history directory.
func (s *Store) writeRecord(rec *Record) error {
	filePath := filepath.Join(s.dir, recordFilename(rec))

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}

	// Write atomically using a temp file and rename
	tmpPath := filePath + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}

	if err := os.Rename(tmpPath, filePath); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// recordFilename starts with the timestamp so that directory order is
// chronological.
func recordFilename(rec *Record) string {
	return fmt.Sprintf("%s-%s.json", rec.Timestamp.Format("20060102T150405.000000000"), rec.ID)
}

// List returns records sorted newest first. A non-empty job keeps only
// that job's records. If limit is 0 or negative, all records are returned.
func (s *Store) List(job string, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		return nil, err
	}

	if job != "" {
		kept := records[:0]
		for _, r := range records {
			if r.Features.JobName == job {
				kept = append(kept, r)
			}
		}
		records = kept
	}

	if limit > 0 && len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

// Get retrieves a record by ID or by a unique ID prefix.
func (s *Store) Get(id string) (*Record, error) {
	if id == "" {
		return nil, errors.New("record ID cannot be empty")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		return nil, err
	}

	var found *Record
	for i := range records {
		r := &records[i]
		if r.ID == id {
			return r, nil
		}
		if strings.HasPrefix(r.ID, id) {
			if found != nil {
				return nil, fmt.Errorf("%w: %s", ErrAmbiguousID, id)
			}
			found = r
		}
	}
	if found == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return found, nil
}

// readAll parses every record file, newest first. Unparseable files are
// skipped.
func (s *Store) readAll() ([]Record, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("failed to read history directory: %w", err)
	}

	records := []Record{}
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}

		rec, err := s.readRecordFile(f.Name())
		if err != nil {
			logger.Debug("skipping unreadable record", "file", f.Name(), "error", err)
			continue
		}
		records = append(records, *rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// readRecordFile reads and parses a record from a JSON file.
func (s *Store) readRecordFile(filename string) (*Record, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, filename))
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal record: %w", err)
	}
	return &rec, nil
}

// Cleanup removes records older than retentionDays and returns how many
// were removed.
func (s *Store) Cleanup(retentionDays int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().AddDate(0, 0, -retentionDays)

	files, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read history directory: %w", err)
	}

	var removed int
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}

		info, err := f.Info()
		if err != nil {
			continue
		}

		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(s.dir, f.Name())); err != nil {
				logger.Warn("failed to remove record", "file", f.Name(), "error", err)
				continue
			}
			removed++
		}
	}

	return removed, nil
}

// Predict suggests a configuration from the most recent records of the
// same job, size bucket and machine. The plan chosen most often wins;
// confidence is the share of records that chose it, scaled down while
// fewer than five records exist.
func (s *Store) Predict(features types.JobFeatures) (types.Prediction, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.readAll()
	if err != nil {
		logger.Warn("history unavailable for prediction", "error", err)
		return types.Prediction{}, false
	}

	var window []Record
	for _, r := range records {
		if r.matches(features) {
			window = append(window, r)
			if len(window) == s.opts.Window {
				break
			}
		}
	}
	if len(window) < s.opts.MinRecords {
		return types.Prediction{}, false
	}

	return vote(window), true
}

// vote picks the most common plan in records, which are newest first.
// Ties go to the plan seen most recently.
func vote(records []Record) types.Prediction {
	counts := make(map[plan]int)
	speedups := make(map[plan]float64)
	var order []plan
	for _, r := range records {
		p := r.Decision.plan()
		if counts[p] == 0 {
			order = append(order, p)
		}
		counts[p]++
		speedups[p] += r.Decision.EstimatedSpeedup
	}

	best := order[0]
	for _, p := range order[1:] {
		if counts[p] > counts[best] {
			best = p
		}
	}

	n := len(records)
	share := float64(counts[best]) / float64(n)
	return types.Prediction{
		Workers:    best.workers,
		ChunkSize:  best.chunk,
		Backend:    best.backend,
		Speedup:    speedups[best] / float64(counts[best]),
		Confidence: share * min(1, float64(n)/fullConfidenceRecords),
		Samples:    n,
	}
}
