// internal/status/record.go

package status

import (
	"fmt"
	"sync"
	"time"

	"twincore/internal/clock"
)

// Kind represents the type of status record
type Kind int

const (
	KindInfo Kind = iota
	KindStart
	KindStatus
	KindStall
)

func (k Kind) String() string {
	switch k {
	case KindInfo:
		return "Info"
	case KindStart:
		return "Start"
	case KindStatus:
		return "Status"
	case KindStall:
		return "Stall"
	default:
		return "Unknown"
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for k := KindInfo; k <= KindStall; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown record kind %q", s)
}

// Record is one observable output of the system.
type Record struct {
	Time    time.Time
	Tick    clock.Tick
	Kind    Kind
	Task    string
	Core    string
	Count   int
	Message string
}

// Text renders the record body without timestamp.
func (r Record) Text() string {
	switch r.Kind {
	case KindStatus:
		return fmt.Sprintf("%s -> %d iters", r.Task, r.Count)
	case KindStart:
		return "# Starting " + r.Task
	case KindStall:
		return fmt.Sprintf("%s stalled: %d logging periods without output", r.Task, r.Count)
	default:
		return r.Message
	}
}

// Emitter accepts records. Implementations must be safe for concurrent use
// from every core and the interrupt context.
type Emitter interface {
	Emit(Record)
}

// Recorder keeps every record in memory.
type Recorder struct {
	mu   sync.Mutex
	recs []Record
}

// Emit appends r.
func (r *Recorder) Emit(rec Record) {
	r.mu.Lock()
	r.recs = append(r.recs, rec)
	r.mu.Unlock()
}

// Records returns a copy of everything seen so far.
func (r *Recorder) Records() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Record, len(r.recs))
	copy(out, r.recs)
	return out
}

// Filter returns the records of one kind for one task, in emission order.
func Filter(recs []Record, kind Kind, task string) []Record {
	var out []Record
	for _, r := range recs {
		if r.Kind == kind && r.Task == task {
			out = append(out, r)
		}
	}
	return out
}
