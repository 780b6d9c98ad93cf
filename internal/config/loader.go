package config

import (
	"context"
	"errors"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/gzhole/gameblocker/internal/metrics"
	"github.com/gzhole/gameblocker/internal/normalize"
)

// Future is a value that resolves once. Load failures still resolve it,
// with the zero value and the failure kept in Err.
type Future[T any] struct {
	done chan struct{}
	once sync.Once
	val  T
	err  error
}

func newFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolved returns a future that is already resolved to v.
func Resolved[T any](v T) *Future[T] {
	f := newFuture[T]()
	f.resolve(v, nil)
	return f
}

func (f *Future[T]) resolve(v T, err error) {
	f.once.Do(func() {
		f.val = v
		f.err = err
		close(f.done)
	})
}

// Done is closed when the future resolves.
func (f *Future[T]) Done() <-chan struct{} { return f.done }

// Ready reports whether the future has resolved.
func (f *Future[T]) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the future resolves or ctx ends. The returned error is
// only ever the context's.
func (f *Future[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Err returns the absorbed load failure, if any. It is nil until resolved.
func (f *Future[T]) Err() error {
	if !f.Ready() {
		return nil
	}
	return f.err
}

// Lists holds the resolved contents of all five documents.
type Lists struct {
	Sequences         []SequenceEntry
	Allow             []string
	BlockImmediately  []string
	BannedConnections []string
	BannedWords       []string
}

// Bundle carries one independently resolving future per document.
type Bundle struct {
	Sequences         *Future[[]SequenceEntry]
	Allow             *Future[[]string]
	BlockImmediately  *Future[[]string]
	BannedConnections *Future[[]string]
	BannedWords       *Future[[]string]
}

// ResolvedBundle returns a bundle whose futures are already resolved to l.
func ResolvedBundle(l Lists) *Bundle {
	return &Bundle{
		Sequences:         Resolved(l.Sequences),
		Allow:             Resolved(l.Allow),
		BlockImmediately:  Resolved(l.BlockImmediately),
		BannedConnections: Resolved(l.BannedConnections),
		BannedWords:       Resolved(l.BannedWords),
	}
}

// Wait blocks until every document has resolved.
func (b *Bundle) Wait(ctx context.Context) (Lists, error) {
	var l Lists
	var err error
	if l.Sequences, err = b.Sequences.Wait(ctx); err != nil {
		return Lists{}, err
	}
	if l.Allow, err = b.Allow.Wait(ctx); err != nil {
		return Lists{}, err
	}
	if l.BlockImmediately, err = b.BlockImmediately.Wait(ctx); err != nil {
		return Lists{}, err
	}
	if l.BannedConnections, err = b.BannedConnections.Wait(ctx); err != nil {
		return Lists{}, err
	}
	if l.BannedWords, err = b.BannedWords.Wait(ctx); err != nil {
		return Lists{}, err
	}
	return l, nil
}

// Errors returns the absorbed failure of each resolved document.
func (b *Bundle) Errors() map[Document]error {
	out := make(map[Document]error)
	add := func(doc Document, err error) {
		if err != nil {
			out[doc] = err
		}
	}
	add(DocSequences, b.Sequences.Err())
	add(DocAllowlist, b.Allow.Err())
	add(DocBlockImmediately, b.BlockImmediately.Err())
	add(DocBannedConnections, b.BannedConnections.Err())
	add(DocBannedWords, b.BannedWords.Err())
	return out
}

// Loader fetches and decodes the configuration documents.
type Loader struct {
	src     Source
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewLoader returns a loader over src. logger and m may be nil.
func NewLoader(src Source, logger *zap.Logger, m *metrics.Metrics) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{src: src, logger: logger, metrics: m}
}

// Load starts fetching every document and returns immediately. Each
// future resolves on its own; a failed document resolves to an empty list.
func (l *Loader) Load(ctx context.Context) *Bundle {
	b := &Bundle{
		Sequences:         newFuture[[]SequenceEntry](),
		Allow:             newFuture[[]string](),
		BlockImmediately:  newFuture[[]string](),
		BannedConnections: newFuture[[]string](),
		BannedWords:       newFuture[[]string](),
	}

	go func() {
		seqs, err := l.loadSequences(ctx)
		b.Sequences.resolve(seqs, err)
	}()
	go func() {
		v, err := l.loadDomains(ctx, DocAllowlist)
		b.Allow.resolve(v, err)
	}()
	go func() {
		v, err := l.loadDomains(ctx, DocBlockImmediately)
		b.BlockImmediately.resolve(v, err)
	}()
	go func() {
		v, err := l.loadStrings(ctx, DocBannedConnections)
		b.BannedConnections.resolve(v, err)
	}()
	go func() {
		v, err := l.loadStrings(ctx, DocBannedWords)
		b.BannedWords.resolve(v, err)
	}()

	return b
}

func (l *Loader) loadSequences(ctx context.Context) ([]SequenceEntry, error) {
	data, err := l.src.Fetch(ctx, DocSequences)
	if err != nil {
		return []SequenceEntry{}, l.failed(DocSequences, err)
	}
	seqs, err := ParseSequences(data)
	if err != nil {
		return []SequenceEntry{}, l.failed(DocSequences, err)
	}
	if seqs == nil {
		seqs = []SequenceEntry{}
	}
	return seqs, nil
}

func (l *Loader) loadStrings(ctx context.Context, doc Document) ([]string, error) {
	data, err := l.src.Fetch(ctx, doc)
	if err != nil {
		return []string{}, l.failed(doc, err)
	}
	entries, err := ParseList(doc, data)
	if err != nil {
		return []string{}, l.failed(doc, err)
	}

	out := make([]string, 0, len(entries))
	blank := 0
	for _, e := range entries {
		if strings.TrimSpace(e) == "" {
			blank++
			continue
		}
		out = append(out, e)
	}
	if blank > 0 {
		l.logger.Warn("dropped blank entries",
			zap.String("document", doc.Label()),
			zap.Int("count", blank))
	}
	return out, nil
}

func (l *Loader) loadDomains(ctx context.Context, doc Document) ([]string, error) {
	entries, err := l.loadStrings(ctx, doc)
	if err != nil {
		return entries, err
	}
	hosts, rejected := normalize.Hosts(entries)
	if len(rejected) > 0 {
		l.logger.Warn("dropped invalid domain entries",
			zap.String("document", doc.Label()),
			zap.Strings("entries", rejected))
	}
	if hosts == nil {
		hosts = []string{}
	}
	return hosts, nil
}

// failed logs an absorbed document failure and passes it through.
func (l *Loader) failed(doc Document, err error) error {
	if errors.Is(err, ErrNotFound) {
		l.logger.Info("configuration document missing, using empty list",
			zap.String("document", doc.Label()))
	} else {
		l.logger.Warn("configuration document failed to load, using empty list",
			zap.String("document", doc.Label()),
			zap.Error(err))
	}
	l.metrics.LoadFailed(doc.Label())
	return err
}
