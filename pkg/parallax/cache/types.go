package cache

import (
	"bytes"
	"encoding/gob"
	"time"

	"github.com/jamesainslie/parallax/pkg/parallax/types"
)

// CacheVersion is incremented when the cache format changes. Entries with
// a different version are treated as missing.
const CacheVersion = 1

// KeySeparator separates the namespace from the decision key.
const KeySeparator = '\x00'

// resultNamespace prefixes every stored decision.
const resultNamespace = "result"

// CachedResult is the stored form of a decision. Diagnostics that depend on
// the run, like the sample statistics, are not kept.
type CachedResult struct {
	Version           int
	Workers           int
	ChunkSize         int
	Backend           string
	EstimatedSpeedup  float64
	Reason            string
	Warnings          []string
	SerialSeconds     float64
	MaxWorkers        int
	BaselineChunkSize int
	AdaptiveChunking  bool
	StoredAt          int64 // UnixNano
}

// Encode serializes the entry to bytes using gob.
func (e *CachedResult) Encode() ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode deserializes bytes into the entry using gob.
func (e *CachedResult) Decode(data []byte) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(e)
}

// FromResult converts a decision to its stored form.
func FromResult(r *types.Result, now time.Time) *CachedResult {
	e := &CachedResult{
		Version:          CacheVersion,
		Workers:          r.Workers,
		ChunkSize:        r.ChunkSize,
		Backend:          string(r.Backend),
		EstimatedSpeedup: r.EstimatedSpeedup,
		Reason:           r.Reason,
		Warnings:         append([]string(nil), r.Warnings...),
		StoredAt:         now.UnixNano(),
	}
	if d := r.Diagnostics; d != nil {
		e.SerialSeconds = d.SerialSeconds
		e.MaxWorkers = d.MaxWorkers
		e.BaselineChunkSize = d.BaselineChunkSize
		e.AdaptiveChunking = d.AdaptiveChunking
	}
	return e
}

// Result converts the entry back to a decision.
func (e *CachedResult) Result() *types.Result {
	return &types.Result{
		Workers:          e.Workers,
		ChunkSize:        e.ChunkSize,
		Backend:          types.Backend(e.Backend),
		EstimatedSpeedup: e.EstimatedSpeedup,
		Reason:           e.Reason,
		Warnings:         append([]string(nil), e.Warnings...),
		Diagnostics: &types.Diagnostics{
			Source:            types.SourceCache,
			SerialSeconds:     e.SerialSeconds,
			MaxWorkers:        e.MaxWorkers,
			BaselineChunkSize: e.BaselineChunkSize,
			AdaptiveChunking:  e.AdaptiveChunking,
		},
	}
}

// Expired reports whether the entry is older than ttl. A zero ttl never
// expires.
func (e *CachedResult) Expired(ttl time.Duration, now time.Time) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(time.Unix(0, e.StoredAt)) > ttl
}

// MakeKey creates a store key from a decision key.
// Format: result\x00<key>
func MakeKey(key string) []byte {
	return []byte(resultNamespace + string(KeySeparator) + key)
}

// ParseKey extracts the decision key from a store key.
func ParseKey(key []byte) string {
	idx := bytes.IndexByte(key, KeySeparator)
	if idx == -1 {
		return string(key)
	}
	return string(key[idx+1:])
}

// MakeKeyPrefix returns the store prefix for decision keys starting with
// prefix.
func MakeKeyPrefix(prefix string) []byte {
	return MakeKey(prefix)
}
