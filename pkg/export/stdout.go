package export

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// StdoutExporter prints thread-start records for debugging.
type StdoutExporter struct {
	format string // "text" or "json"
	logger *zap.Logger

	mu  sync.Mutex
	out io.Writer
}

// NewStdoutExporter creates a stdout exporter. A nil writer means os.Stdout.
func NewStdoutExporter(format string, out io.Writer, logger *zap.Logger) *StdoutExporter {
	if format == "" {
		format = "text"
	}
	if out == nil {
		out = os.Stdout
	}
	return &StdoutExporter{
		format: format,
		logger: logger,
		out:    out,
	}
}

// ExportEvents prints one line per record.
func (e *StdoutExporter) ExportEvents(ctx context.Context, records []Record) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, r := range records {
		ev := r.Event
		if e.format == "json" {
			data := map[string]interface{}{
				"_type":       "thread_start",
				"thread_name": ev.ThreadName,
				"thread_id":   ev.ThreadID,
				"ts_ns":       ev.TimestampNS,
				"observed":    r.Observed.Format(time.RFC3339Nano),
			}
			if parent, ok := ev.Parent(); ok {
				data["parent_thread_id"] = parent
			}
			b, err := json.Marshal(data)
			if err != nil {
				return fmt.Errorf("marshal event: %w", err)
			}
			if _, err := fmt.Fprintf(e.out, "%s\n", b); err != nil {
				return err
			}
			continue
		}

		parent := "-"
		if p, ok := ev.Parent(); ok {
			parent = fmt.Sprintf("%d", p)
		}
		if _, err := fmt.Fprintf(e.out,
			"[THREAD] name=%-16s tid=%-8d parent=%-8s ts=%dns\n",
			ev.ThreadName, ev.ThreadID, parent, ev.TimestampNS,
		); err != nil {
			return err
		}
	}
	return nil
}

// Shutdown is a no-op for stdout.
func (e *StdoutExporter) Shutdown(ctx context.Context) error {
	return nil
}
