// Package session owns the per-document detector state: which domain is
// being watched, whether it has been classified, the cadence detector and
// content scanner for that domain, and the once-per-session block latch.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gzhole/gameblocker/internal/cadence"
	"github.com/gzhole/gameblocker/internal/config"
	"github.com/gzhole/gameblocker/internal/metrics"
	"github.com/gzhole/gameblocker/internal/normalize"
	"github.com/gzhole/gameblocker/internal/policy"
	"github.com/gzhole/gameblocker/internal/scanner"
)

// ErrNotStarted is returned when a Manager is used before Start.
var ErrNotStarted = errors.New("session not started")

// ListLoader starts loading the configuration documents for a session.
type ListLoader interface {
	Load(ctx context.Context) *config.Bundle
}

// Options configures a Manager. Every field is optional.
type Options struct {
	Sink    BlockSink
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Manager is the session state machine for one document context. All
// state changes happen under mu; block signals are delivered after mu is
// released. deliverMu is taken before mu and held across a delivery, so a
// navigation or Close waits for an in-flight block and a signal from a
// replaced session never reaches the sink.
type Manager struct {
	loader  ListLoader
	sink    BlockSink
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	deliverMu sync.Mutex

	mu      sync.Mutex
	docCtx  context.Context
	started bool
	closed  bool
	gen     uint64
	cancel  context.CancelFunc
	ready   chan struct{}

	id         string
	domain     string
	url        string
	class      policy.Classification
	classified bool
	detector   *cadence.Detector
	scanner    *scanner.Scanner
	doc        scanner.Document
	scanned    bool
	blocked    bool
	reason     string
}

// NewManager returns a Manager that loads lists through loader.
func NewManager(loader ListLoader, opts Options) *Manager {
	m := &Manager{
		loader:  loader,
		sink:    opts.Sink,
		logger:  opts.Logger,
		metrics: opts.Metrics,
		now:     opts.Now,
	}
	if m.logger == nil {
		m.logger = zap.NewNop()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m
}

// Start opens the document context and begins the first session for host.
// Cancelling ctx ends the document context.
func (m *Manager) Start(ctx context.Context, host string) error {
	domain, err := normalize.Host(host)
	if err != nil {
		return err
	}
	return m.start(ctx, domain, "")
}

// StartURL is Start for a full page URL.
func (m *Manager) StartURL(ctx context.Context, rawURL string) error {
	domain, err := normalize.HostFromURL(rawURL)
	if err != nil {
		return err
	}
	return m.start(ctx, domain, rawURL)
}

func (m *Manager) start(ctx context.Context, domain, rawURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("session already started")
	}
	m.started = true
	m.docCtx = ctx
	m.metrics.ContextOpened()
	m.begin(domain, rawURL)
	return nil
}

// Started reports whether Start has been called.
func (m *Manager) Started() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started
}

// Navigate reports the live hostname. When it differs from the session
// domain the session is fully reset and initialized for the new domain.
// A malformed host is logged and leaves the current session untouched.
func (m *Manager) Navigate(host string) bool {
	domain, err := normalize.Host(host)
	if err != nil {
		m.logger.Warn("ignoring malformed hostname", zap.String("host", host), zap.Error(err))
		return false
	}
	return m.navigate(domain, "")
}

// NavigateURL is Navigate for a full page URL.
func (m *Manager) NavigateURL(rawURL string) bool {
	domain, err := normalize.HostFromURL(rawURL)
	if err != nil {
		m.logger.Warn("ignoring malformed URL", zap.String("url", rawURL), zap.Error(err))
		return false
	}
	return m.navigate(domain, rawURL)
}

func (m *Manager) navigate(domain, rawURL string) bool {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.closed {
		return false
	}
	if domain == m.domain {
		if rawURL != "" {
			m.url = rawURL
		}
		return false
	}
	m.logger.Info("domain changed, resetting session",
		zap.String("session_id", m.id),
		zap.String("from", m.domain),
		zap.String("to", domain))
	m.begin(domain, rawURL)
	return true
}

// begin resets all session state for domain and starts initialization.
// Callers hold mu.
func (m *Manager) begin(domain, rawURL string) {
	if m.cancel != nil {
		m.cancel()
	}
	m.gen++

	m.id = uuid.NewString()
	m.domain = domain
	m.url = rawURL
	m.class = policy.Unclassified
	m.classified = false
	m.detector = nil
	m.scanner = nil
	m.doc = nil
	m.scanned = false
	m.blocked = false
	m.reason = ""

	ctx, cancel := context.WithCancel(m.docCtx)
	m.cancel = cancel
	m.ready = make(chan struct{})
	m.metrics.SessionStarted()

	go m.initialize(ctx, m.gen, domain, m.ready)
}

// initialize loads the lists, classifies domain and arms the detector and
// scanner for unclassified domains. Each step is dropped if the session
// has moved on.
func (m *Manager) initialize(ctx context.Context, gen uint64, domain string, ready chan struct{}) {
	defer close(ready)

	bundle := m.loader.Load(ctx)

	allow, err := bundle.Allow.Wait(ctx)
	if err != nil {
		return
	}
	immediate, err := bundle.BlockImmediately.Wait(ctx)
	if err != nil {
		return
	}

	resolver := policy.NewResolver(policy.Lists{Allow: allow, BlockImmediately: immediate})
	class := resolver.Classify(domain)

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		return
	}
	m.class = class
	m.classified = true
	log := m.logger.With(zap.String("session_id", m.id), zap.String("domain", domain))

	switch class {
	case policy.Immediate:
		sig, ok := m.blockLocked(SourceImmediate, policy.ImmediateReason(domain))
		m.mu.Unlock()
		if ok {
			m.deliver(sig)
		}
		return
	case policy.Allowed:
		m.mu.Unlock()
		log.Info("domain is allowed, detection disabled")
		return
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		m.armDetector(ctx, gen, bundle, log)
	}()
	go func() {
		defer wg.Done()
		m.armScanner(ctx, gen, bundle)
	}()
	wg.Wait()
}

func (m *Manager) armDetector(ctx context.Context, gen uint64, bundle *config.Bundle, log *zap.Logger) {
	entries, err := bundle.Sequences.Wait(ctx)
	if err != nil {
		return
	}
	patterns := make([]cadence.Pattern, 0, len(entries))
	for _, e := range entries {
		patterns = append(patterns, cadence.NewPattern(e.ID, e.Keys, e.Threshold))
	}

	d := cadence.NewDetector(patterns)
	d.OnWindow = func(w cadence.Window) {
		m.metrics.WindowCompleted(w.Phase.String())
		log.Debug("window complete",
			zap.String("phase", w.Phase.String()),
			zap.Any("counts", w.Counts))
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen || m.blocked {
		return
	}
	m.detector = d
	log.Debug("cadence detector armed", zap.Int("patterns", len(patterns)))
}

func (m *Manager) armScanner(ctx context.Context, gen uint64, bundle *config.Bundle) {
	words, err := bundle.BannedWords.Wait(ctx)
	if err != nil {
		return
	}
	conns, err := bundle.BannedConnections.Wait(ctx)
	if err != nil {
		return
	}
	s := scanner.New(words, conns)

	m.mu.Lock()
	if m.gen != gen || m.blocked {
		m.mu.Unlock()
		return
	}
	m.scanner = s
	sig, ok := m.scanLocked()
	m.mu.Unlock()
	if ok {
		m.deliver(sig)
	}
}

// HandleKey feeds one key identifier to the cadence detector. Keys are
// dropped while the detector is not armed or after a block.
func (m *Manager) HandleKey(key string) {
	m.mu.Lock()
	if m.closed || m.blocked || m.detector == nil {
		m.mu.Unlock()
		return
	}
	m.metrics.KeyObserved()
	match, ok := m.detector.Observe(key)
	if !ok {
		m.mu.Unlock()
		return
	}
	m.logger.Info("cadence pattern matched",
		zap.String("session_id", m.id),
		zap.String("pattern", match.PatternID),
		zap.Int("count", match.Count),
		zap.Float64("ratio", match.Ratio),
		zap.Float64("threshold", match.Threshold))
	sig, blocked := m.blockLocked(SourceCadence, cadence.Reason)
	m.mu.Unlock()
	if blocked {
		m.deliver(sig)
	}
}

// DocumentLoaded records that the page finished loading. The content scan
// runs once per session, as soon as both the document and the scanner
// lists are available.
func (m *Manager) DocumentLoaded(doc scanner.Document) {
	if doc == nil {
		return
	}
	m.mu.Lock()
	if !m.started || m.closed || m.blocked || m.doc != nil {
		m.mu.Unlock()
		return
	}
	m.doc = doc
	sig, ok := m.scanLocked()
	m.mu.Unlock()
	if ok {
		m.deliver(sig)
	}
}

// scanLocked runs the one-shot content scan when it is due. Callers hold mu.
func (m *Manager) scanLocked() (Signal, bool) {
	if m.scanned || m.scanner == nil || m.doc == nil || m.blocked {
		return Signal{}, false
	}
	m.scanned = true
	finding, ok := m.scanner.Scan(m.doc)
	if !ok {
		return Signal{}, false
	}
	src := SourceWords
	if finding.Kind == scanner.KindConnection {
		src = SourceConnections
	}
	m.logger.Info("content scan matched",
		zap.String("session_id", m.id),
		zap.String("kind", finding.Kind.String()),
		zap.String("match", finding.Match))
	return m.blockLocked(src, finding.Reason)
}

// blockLocked latches the session as blocked and returns the signal to
// deliver. It reports false if the session was already blocked.
func (m *Manager) blockLocked(src Source, reason string) (Signal, bool) {
	if m.blocked {
		return Signal{}, false
	}
	m.blocked = true
	m.reason = reason
	m.metrics.Blocked(src.String())
	return Signal{
		SessionID: m.id,
		Domain:    m.domain,
		URL:       m.url,
		Source:    src,
		Reason:    reason,
		At:        m.now(),
	}, true
}

func (m *Manager) deliver(sig Signal) {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()

	m.mu.Lock()
	current := !m.closed && m.id == sig.SessionID
	m.mu.Unlock()
	if !current {
		m.logger.Debug("dropping block for replaced session",
			zap.String("session_id", sig.SessionID),
			zap.String("domain", sig.Domain))
		return
	}

	m.logger.Info("blocking page",
		zap.String("session_id", sig.SessionID),
		zap.String("domain", sig.Domain),
		zap.String("source", sig.Source.String()),
		zap.String("reason", sig.Reason))
	if m.sink != nil {
		m.sink.Block(sig)
	}
}

// WaitInitialized blocks until the current session has finished
// classification and, for unclassified domains, armed its detector and
// scanner.
func (m *Manager) WaitInitialized(ctx context.Context) error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return ErrNotStarted
	}
	ready := m.ready
	m.mu.Unlock()

	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the current session.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()

	st := State{
		ID:             m.id,
		Domain:         m.domain,
		URL:            m.url,
		Classification: m.class,
		Classified:     m.classified,
		Phase:          cadence.StateCollecting,
		DetectorArmed:  m.detector != nil,
		ScannerReady:   m.scanner != nil,
		Scanned:        m.scanned,
		Blocked:        m.blocked,
		Reason:         m.reason,
	}
	if m.detector != nil {
		st.Phase = m.detector.State()
		st.WindowCount = m.detector.WindowCount()
		st.Counts = m.detector.Counts()
	}
	return st
}

// Run feeds locations from obs into Navigate until ctx ends or obs stops.
// A location containing "://" is treated as a URL, anything else as a
// hostname.
func (m *Manager) Run(ctx context.Context, obs Observer) error {
	if !m.Started() {
		return ErrNotStarted
	}
	return obs.Observe(ctx, func(loc string) {
		if strings.Contains(loc, "://") {
			m.NavigateURL(loc)
			return
		}
		m.Navigate(loc)
	})
}

// Close ends the document context. Pending initialization is abandoned
// and later events are ignored.
func (m *Manager) Close() {
	m.deliverMu.Lock()
	defer m.deliverMu.Unlock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.started || m.closed {
		return
	}
	m.closed = true
	m.gen++
	if m.cancel != nil {
		m.cancel()
	}
	m.metrics.ContextClosed()
}
