package status

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"golang.org/x/exp/maps"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"twincore/internal/clock"
)

// Summary is the interval analysis of one task's status records.
type Summary struct {
	Task      string
	Core      string
	Emissions int

	// intervals between consecutive emissions, in seconds
	MeanInterval float64
	StdDev       float64
	MinInterval  float64
	MaxInterval  float64

	MeanCount float64
	MinCount  int
	MaxCount  int

	// Drift is the offset of the last emission from where a perfectly
	// periodic sequence starting at the first emission would put it.
	// Zero when no expected period is known.
	Drift time.Duration
}

// Analyze summarizes status records per task. periods holds the expected
// logging period of each task and may be nil.
func Analyze(recs []Record, periods map[string]time.Duration) []Summary {
	byTask := make(map[string][]Record)
	for _, r := range recs {
		if r.Kind == KindStatus {
			byTask[r.Task] = append(byTask[r.Task], r)
		}
	}

	names := maps.Keys(byTask)
	sort.Strings(names)

	out := make([]Summary, 0, len(names))
	for _, name := range names {
		rs := byTask[name]
		s := Summary{Task: name, Core: rs[0].Core, Emissions: len(rs)}

		counts := make([]float64, len(rs))
		s.MinCount, s.MaxCount = rs[0].Count, rs[0].Count
		for i, r := range rs {
			counts[i] = float64(r.Count)
			if r.Count < s.MinCount {
				s.MinCount = r.Count
			}
			if r.Count > s.MaxCount {
				s.MaxCount = r.Count
			}
		}
		s.MeanCount = stat.Mean(counts, nil)

		if len(rs) > 1 {
			intervals := make([]float64, len(rs)-1)
			for i := 1; i < len(rs); i++ {
				intervals[i-1] = rs[i].Tick.Sub(rs[i-1].Tick).Seconds()
			}
			s.MeanInterval, s.StdDev = stat.MeanStdDev(intervals, nil)
			if len(intervals) == 1 {
				s.StdDev = 0
			}
			s.MinInterval = floats.Min(intervals)
			s.MaxInterval = floats.Max(intervals)

			if p := periods[name]; p > 0 {
				want := rs[0].Tick.Add(time.Duration(len(rs)-1) * p)
				s.Drift = rs[len(rs)-1].Tick.Sub(want)
			}
		}
		out = append(out, s)
	}
	return out
}

// WriteReport prints summaries as an aligned table.
func WriteReport(w io.Writer, sums []Summary) error {
	if _, err := fmt.Fprintf(w, "%-8s %-6s %5s %12s %10s %12s %12s %8s %6s %6s %12s\n",
		"task", "core", "n", "mean(s)", "sd(ms)", "min(s)", "max(s)", "count", "min", "max", "drift"); err != nil {
		return err
	}
	for _, s := range sums {
		if _, err := fmt.Fprintf(w, "%-8s %-6s %5d %12.6f %10.3f %12.6f %12.6f %8.1f %6d %6d %12s\n",
			s.Task, s.Core, s.Emissions, s.MeanInterval, s.StdDev*1e3, s.MinInterval, s.MaxInterval,
			s.MeanCount, s.MinCount, s.MaxCount, s.Drift); err != nil {
			return err
		}
	}
	return nil
}

// ReadCSV parses a file written by Stream.EnableCSVLogging.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(CSVHeader)

	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("empty csv")
		}
		return nil, err
	}
	if header[0] != CSVHeader[0] {
		return nil, fmt.Errorf("unexpected csv header %v", header)
	}

	var out []Record
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}

		ts, err := time.Parse(time.RFC3339Nano, row[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		tick, err := strconv.ParseUint(row[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		kind, err := ParseKind(row[2])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		count, err := strconv.Atoi(row[5])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		out = append(out, Record{
			Time:  ts,
			Tick:  clock.Tick(tick),
			Kind:  kind,
			Task:  row[3],
			Core:  row[4],
			Count: count,
		})
	}
}
