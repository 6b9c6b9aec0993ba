// Package trace records per-operation I/O spans to Parquet files for
// offline analysis of latency over time.
package trace

import (
	"fmt"
	"sync"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

// Span is one timed I/O operation.
type Span struct {
	Start  int64 // UnixNano
	End    int64 // UnixNano
	Read   bool
	Offset int64
	Bytes  int64
}

// Msg is a batch of spans from one worker.
type Msg struct {
	WorkerID int
	Spans    []Span
}

// Op is the Parquet row layout for one span.
type Op struct {
	WorkerID  int32   `parquet:"name=worker_id, type=INT32"`
	StartNs   int64   `parquet:"name=start_ns, type=INT64"`
	EndNs     int64   `parquet:"name=end_ns, type=INT64"`
	LatencyUs float64 `parquet:"name=latency_us, type=DOUBLE"`
	Read      bool    `parquet:"name=read, type=BOOLEAN"`
	Offset    int64   `parquet:"name=offset, type=INT64"`
	Bytes     int64   `parquet:"name=bytes, type=INT64"`
}

// Writer streams spans into one Parquet file.
type Writer struct {
	mu   sync.Mutex
	pw   *writer.ParquetWriter
	file source.ParquetFile
	path string
}

// NewWriter creates the trace file at path, truncating any previous
// content.
func NewWriter(path string) (*Writer, error) {
	file, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}

	pw, err := writer.NewParquetWriter(file, new(Op), 4)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}

	return &Writer{pw: pw, file: file, path: path}, nil
}

// Write appends every span in msg to the file.
func (w *Writer) Write(msg Msg) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, s := range msg.Spans {
		op := Op{
			WorkerID:  int32(msg.WorkerID),
			StartNs:   s.Start,
			EndNs:     s.End,
			LatencyUs: float64(s.End-s.Start) / 1e3,
			Read:      s.Read,
			Offset:    s.Offset,
			Bytes:     s.Bytes,
		}
		if err := w.pw.Write(op); err != nil {
			return fmt.Errorf("write trace row: %w", err)
		}
	}
	return nil
}

// Consume drains ch until it is closed, writing every batch. Run it on
// its own goroutine alongside the benchmark.
func (w *Writer) Consume(ch <-chan Msg) error {
	for msg := range ch {
		if err := w.Write(msg); err != nil {
			return err
		}
	}
	return nil
}

// Path returns the location of the trace file.
func (w *Writer) Path() string { return w.path }

// Close finalizes the Parquet footer and closes the file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.pw.WriteStop(); err != nil {
		return fmt.Errorf("finalize trace file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("close trace file: %w", err)
	}
	return nil
}
