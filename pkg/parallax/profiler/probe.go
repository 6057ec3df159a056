package profiler

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"os/exec"
	"time"

	"golang.org/x/sync/errgroup"
)

// ProbeEnv is set on child processes started to time process creation.
// Any binary linking this package exits immediately when it sees it.
const ProbeEnv = "PARALLAX_PROFILER_PROBE"

func init() {
	if os.Getenv(ProbeEnv) == "1" {
		os.Exit(0)
	}
}

// threadSpawnProbe times starting a goroutine until it signals readiness.
func threadSpawnProbe(n int) ([]float64, error) {
	out := make([]float64, 0, n)
	for range n {
		ready := make(chan struct{})
		start := time.Now()
		go close(ready)
		<-ready
		out = append(out, time.Since(start).Seconds())
	}
	return out, nil
}

// processSpawnProbe times re-executing the current binary, which exits in
// init as soon as it sees ProbeEnv.
func processSpawnProbe(n int) ([]float64, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("locating executable: %w", err)
	}

	out := make([]float64, 0, n)
	for range n {
		cmd := exec.Command(exe)
		cmd.Env = append(os.Environ(), ProbeEnv+"=1")
		start := time.Now()
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("running probe process: %w", err)
		}
		out = append(out, time.Since(start).Seconds())
	}
	return out, nil
}

// probeBatch is the payload used to time batch submission.
type probeBatch struct {
	Seq   int
	Items []int64
}

const probeBatchItems = 16

// chunkOverheadProbe times round trips of small gob-framed batches to a
// running worker goroutine: encode, hand off, decode, acknowledge.
func chunkOverheadProbe(n int) ([]float64, error) {
	requests := make(chan []byte)
	replies := make(chan []byte)

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		defer close(replies)
		for payload := range requests {
			var batch probeBatch
			if err := gob.NewDecoder(bytes.NewReader(payload)).Decode(&batch); err != nil {
				return fmt.Errorf("decoding probe batch: %w", err)
			}
			var ack bytes.Buffer
			if err := gob.NewEncoder(&ack).Encode(batch.Seq); err != nil {
				return fmt.Errorf("encoding probe ack: %w", err)
			}
			select {
			case replies <- ack.Bytes():
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	out := make([]float64, 0, n)
	items := make([]int64, probeBatchItems)
	var submitErr error
	for i := range n {
		start := time.Now()

		var buf bytes.Buffer
		if err := gob.NewEncoder(&buf).Encode(probeBatch{Seq: i, Items: items}); err != nil {
			submitErr = fmt.Errorf("encoding probe batch: %w", err)
			break
		}
		requests <- buf.Bytes()
		ack, ok := <-replies
		if !ok {
			break
		}
		var seq int
		if err := gob.NewDecoder(bytes.NewReader(ack)).Decode(&seq); err != nil || seq != i {
			submitErr = fmt.Errorf("bad probe ack for batch %d", i)
			break
		}

		out = append(out, time.Since(start).Seconds())
	}
	close(requests)

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if submitErr != nil {
		return nil, submitErr
	}
	return out, nil
}
