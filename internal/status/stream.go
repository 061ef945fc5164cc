// internal/status/stream.go

package status

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// CSVHeader is the column layout written by EnableCSVLogging and read by
// ReadCSV.
var CSVHeader = []string{"timestamp", "tick", "event", "task", "core", "count"}

// Stream prints records to a writer from a single consumer goroutine,
// optionally mirroring them to CSV.
type Stream struct {
	ch  chan Record
	out io.Writer

	closeOnce sync.Once
	done      chan struct{}

	// logging-related
	csvFile   *os.File
	csvWriter *csv.Writer

	observe []func(Record)
}

// NewStream creates a stream that prints to out.
func NewStream(out io.Writer, buffer int) *Stream {
	if buffer <= 0 {
		buffer = 256
	}
	return &Stream{
		ch:   make(chan Record, buffer),
		out:  out,
		done: make(chan struct{}),
	}
}

// EnableCSVLogging opens the given file path for CSV logging of records.
// Must be called before Run().
func (s *Stream) EnableCSVLogging(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating csv log: %w", err)
	}
	w := csv.NewWriter(f)

	// write header
	if err := w.Write(CSVHeader); err != nil {
		f.Close()
		return err
	}
	w.Flush()
	s.csvFile = f
	s.csvWriter = w
	return nil
}

// Observe adds fn to be called for every record on the consumer goroutine.
// Must be called before Run().
func (s *Stream) Observe(fn func(Record)) {
	s.observe = append(s.observe, fn)
}

// Emit queues r for printing.
func (s *Stream) Emit(r Record) {
	if r.Time.IsZero() {
		r.Time = time.Now()
	}
	select {
	case <-s.done:
		return
	default:
	}
	select {
	case s.ch <- r:
	case <-s.done:
	}
}

// Run consumes records until Close is called and the queue is drained.
func (s *Stream) Run() error {
	for {
		select {
		case r := <-s.ch:
			s.handle(r)
		case <-s.done:
			for {
				select {
				case r := <-s.ch:
					s.handle(r)
				default:
					return s.finish()
				}
			}
		}
	}
}

// Close stops the stream. Records emitted after Close are dropped.
func (s *Stream) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

func (s *Stream) finish() error {
	if s.csvFile == nil {
		return nil
	}
	s.csvWriter.Flush()
	err := s.csvWriter.Error()
	if cerr := s.csvFile.Close(); err == nil {
		err = cerr
	}
	return err
}

func (s *Stream) handle(r Record) {
	for _, fn := range s.observe {
		fn(r)
	}

	// an auxiliary function to center the record kind in the output
	center := func(str string, width int) string {
		spaces := int(float64(width-len(str)) / 2)
		return strings.Repeat(" ", spaces) + str + strings.Repeat(" ", width-(spaces+len(str)))
	}

	fmt.Fprintf(s.out, "%s = Tick: %010d [%s] => %s\n",
		r.Time.Format("Jan 02 15:04:05.000"),
		r.Tick,
		center(r.Kind.String(), 10),
		r.Text(),
	)

	// CSV output
	if s.csvWriter != nil {
		rec := []string{
			r.Time.Format(time.RFC3339Nano),
			strconv.FormatUint(uint64(r.Tick), 10),
			r.Kind.String(),
			r.Task,
			r.Core,
			strconv.Itoa(r.Count),
		}
		s.csvWriter.Write(rec)
		s.csvWriter.Flush()
	}
}
