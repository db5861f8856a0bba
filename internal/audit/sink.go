package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/alecgard/agentpay/internal/ledger"
)

// JSONLines writes each entry as one JSON document per line.
type JSONLines struct {
	mu     sync.Mutex
	w      io.Writer
	closer io.Closer
}

// NewJSONLines returns a sink writing to w.
func NewJSONLines(w io.Writer) *JSONLines {
	return &JSONLines{w: w}
}

// OpenFile opens (or creates) an append-only audit file.
func OpenFile(path string) (*JSONLines, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening audit file: %w", err)
	}
	return &JSONLines{w: f, closer: f}, nil
}

// WriteBatch encodes the batch and writes it in a single call.
func (s *JSONLines) WriteBatch(ctx context.Context, entries []ledger.Entry) error {
	if len(entries) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bw := bufio.NewWriter(s.w)
	enc := json.NewEncoder(bw)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encoding entry %s: %w", e.ID, err)
		}
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("writing audit batch: %w", err)
	}
	return nil
}

// Close closes the underlying file, if the sink owns one.
func (s *JSONLines) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// ReadAll decodes an audit stream back into entries.
func ReadAll(r io.Reader) ([]ledger.Entry, error) {
	var out []ledger.Entry
	dec := json.NewDecoder(r)
	for {
		var e ledger.Entry
		err := dec.Decode(&e)
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return out, fmt.Errorf("decoding audit entry %d: %w", len(out)+1, err)
		}
		out = append(out, e)
	}
}
