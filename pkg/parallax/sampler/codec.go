package sampler

import (
	"bytes"
	"encoding/gob"
)

// Codec encodes values the way a process backend would ship them to a
// worker. Encode fails for values that cannot cross a process boundary.
type Codec interface {
	Encode(v any) ([]byte, error)
}

// GobCodec encodes with encoding/gob, the wire format used by
// job.Invoke.
type GobCodec struct{}

// Encode implements Codec.
func (GobCodec) Encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var _ Codec = GobCodec{}
