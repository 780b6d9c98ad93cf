// Package replay drives a session manager from a recorded JSONL trace of
// page events.
//
// A trace line is one JSON object with a "type":
//
//	{"type":"navigate","url":"https://a.example/"}   set the live location
//	{"type":"tick"}                                  navigation check
//	{"type":"key","key":"w","repeat":10}             key identifiers
//	{"type":"keys","keys":"wasdwasd"}                one identifier per rune
//	{"type":"loaded","file":"page.html"}             page finished loading
//
// The first navigate starts the session. Later location changes only take
// effect on the next tick, like the live poller. Lists resolve before the
// next event is applied, so traces replay deterministically.
package replay

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/gzhole/gameblocker/internal/metrics"
	"github.com/gzhole/gameblocker/internal/scanner"
	"github.com/gzhole/gameblocker/internal/session"
)

const (
	EventNavigate = "navigate"
	EventTick     = "tick"
	EventKey      = "key"
	EventKeys     = "keys"
	EventLoaded   = "loaded"
)

// Event is one trace line.
type Event struct {
	Type string `json:"type"`

	URL  string `json:"url,omitempty"`
	Host string `json:"host,omitempty"`

	Key    string `json:"key,omitempty"`
	Repeat int    `json:"repeat,omitempty"`
	Keys   string `json:"keys,omitempty"`

	HTML string `json:"html,omitempty"`
	Text string `json:"text,omitempty"`
	File string `json:"file,omitempty"`

	line int
}

func (e Event) location() string {
	if e.URL != "" {
		return e.URL
	}
	return e.Host
}

// Parse reads a JSONL trace. Blank lines and lines starting with '#' are
// skipped.
func Parse(r io.Reader) ([]Event, error) {
	var events []Event
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 8<<20)
	n := 0
	for sc.Scan() {
		n++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var ev Event
		if err := json.Unmarshal([]byte(line), &ev); err != nil {
			return nil, fmt.Errorf("line %d: %w", n, err)
		}
		switch ev.Type {
		case EventNavigate:
			if ev.location() == "" {
				return nil, fmt.Errorf("line %d: navigate needs url or host", n)
			}
		case EventTick, EventKey, EventKeys, EventLoaded:
		default:
			return nil, fmt.Errorf("line %d: unknown event type %q", n, ev.Type)
		}
		ev.line = n
		events = append(events, ev)
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

// ParseFile reads a trace from path.
func ParseFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return Parse(f)
}

// Result is the outcome of a replay.
type Result struct {
	Signals []session.Signal
	State   session.State
	Keys    int
}

// Player replays traces against fresh sessions.
type Player struct {
	Loader  session.ListLoader
	Sink    session.BlockSink
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// BaseDir resolves relative "file" paths of loaded events.
	BaseDir string
}

// Play replays events against a new document context.
func (p *Player) Play(ctx context.Context, events []Event) (Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	rec := &session.Recorder{}
	mgr := session.NewManager(p.Loader, session.Options{
		Sink:    session.MultiSink{rec, p.Sink},
		Logger:  logger,
		Metrics: p.Metrics,
	})
	defer mgr.Close()

	obs := session.NewPushObserver()
	defer obs.Close()

	var res Result
	live := ""

	for _, ev := range events {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		switch ev.Type {
		case EventNavigate:
			live = ev.location()
			if mgr.Started() {
				continue
			}
			if err := start(ctx, mgr, live); err != nil {
				return res, fmt.Errorf("line %d: %w", ev.line, err)
			}
			go mgr.Run(ctx, obs)
			if err := obs.WaitAttached(ctx); err != nil {
				return res, err
			}
			if err := mgr.WaitInitialized(ctx); err != nil {
				return res, err
			}

		case EventTick:
			if !mgr.Started() {
				continue
			}
			if err := obs.Push(live); err != nil {
				return res, err
			}
			if err := mgr.WaitInitialized(ctx); err != nil {
				return res, err
			}

		case EventKey:
			n := ev.Repeat
			if n <= 0 {
				n = 1
			}
			for i := 0; i < n; i++ {
				mgr.HandleKey(ev.Key)
			}
			res.Keys += n

		case EventKeys:
			for _, r := range ev.Keys {
				mgr.HandleKey(string(r))
				res.Keys++
			}

		case EventLoaded:
			doc, err := p.document(ev)
			if err != nil {
				return res, fmt.Errorf("line %d: %w", ev.line, err)
			}
			mgr.DocumentLoaded(doc)
		}
	}

	res.Signals = rec.Signals()
	res.State = mgr.State()
	return res, nil
}

func start(ctx context.Context, mgr *session.Manager, loc string) error {
	if strings.Contains(loc, "://") {
		return mgr.StartURL(ctx, loc)
	}
	return mgr.Start(ctx, loc)
}

func (p *Player) document(ev Event) (scanner.Document, error) {
	if ev.File != "" {
		path := ev.File
		if !filepath.IsAbs(path) && p.BaseDir != "" {
			path = filepath.Join(p.BaseDir, path)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read loaded document: %w", err)
		}
		return scanner.NewHTMLDocument(string(data)), nil
	}
	if ev.Text != "" {
		return scanner.StaticDocument{Text: ev.Text, HTML: ev.HTML}, nil
	}
	return scanner.NewHTMLDocument(ev.HTML), nil
}
