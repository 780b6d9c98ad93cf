package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/gzhole/gameblocker/internal/cadence"
	"github.com/gzhole/gameblocker/internal/policy"
)

// Source identifies which check produced a block.
type Source int

const (
	SourceImmediate Source = iota + 1
	SourceCadence
	SourceWords
	SourceConnections
)

func (s Source) String() string {
	switch s {
	case SourceImmediate:
		return "immediate"
	case SourceCadence:
		return "cadence"
	case SourceWords:
		return "words"
	case SourceConnections:
		return "connections"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// Signal is the block emitted at most once per session.
type Signal struct {
	SessionID string
	Domain    string
	URL       string
	Source    Source
	Reason    string
	At        time.Time
}

// BlockSink receives block signals. Implementations must not call back
// into the Manager that delivered the signal. A signal is only delivered
// while its session is still current; navigation waits for Block to return.
type BlockSink interface {
	Block(Signal)
}

// SinkFunc adapts a function to BlockSink.
type SinkFunc func(Signal)

func (f SinkFunc) Block(s Signal) { f(s) }

// MultiSink fans a signal out to every sink in order.
type MultiSink []BlockSink

func (ms MultiSink) Block(s Signal) {
	for _, sink := range ms {
		if sink != nil {
			sink.Block(s)
		}
	}
}

// Recorder is a BlockSink that keeps every signal it receives.
type Recorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *Recorder) Block(s Signal) {
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
}

// Signals returns a copy of the received signals.
func (r *Recorder) Signals() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.signals...)
}

// State is a point-in-time view of the current session.
type State struct {
	ID             string
	Domain         string
	URL            string
	Classification policy.Classification
	Classified     bool
	Phase          cadence.State
	WindowCount    int
	Counts         map[string]int
	DetectorArmed  bool
	ScannerReady   bool
	Scanned        bool
	Blocked        bool
	Reason         string
}
