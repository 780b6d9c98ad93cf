package session

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gzhole/gameblocker/internal/cadence"
	"github.com/gzhole/gameblocker/internal/config"
	"github.com/gzhole/gameblocker/internal/metrics"
	"github.com/gzhole/gameblocker/internal/policy"
	"github.com/gzhole/gameblocker/internal/scanner"
)

type staticLoader struct {
	lists config.Lists
}

func (l staticLoader) Load(context.Context) *config.Bundle {
	return config.ResolvedBundle(l.lists)
}

// gatedSource serves documents through the real loader, holding back
// any document whose gate is still open.
type gatedSource struct {
	docs  map[config.Document]string
	gates map[config.Document]chan struct{}
}

func (g *gatedSource) Fetch(ctx context.Context, doc config.Document) ([]byte, error) {
	if gate, ok := g.gates[doc]; ok {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	data, ok := g.docs[doc]
	if !ok {
		return nil, config.ErrNotFound
	}
	return []byte(data), nil
}

var wasd = config.SequenceEntry{ID: "p1", Keys: []string{"w", "a", "s", "d"}, Threshold: 0.6}

func startManager(t *testing.T, loader ListLoader, host string) (*Manager, *Recorder) {
	t.Helper()
	rec := &Recorder{}
	m := NewManager(loader, Options{Sink: rec, Logger: zap.NewNop(), Metrics: metrics.New()})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		m.Close()
		cancel()
	})
	require.NoError(t, m.Start(ctx, host))
	return m, rec
}

func waitInit(t *testing.T, m *Manager) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, m.WaitInitialized(ctx))
}

func sendKeys(m *Manager, key string, n int) {
	for i := 0; i < n; i++ {
		m.HandleKey(key)
	}
}

func TestManager_ImmediateBlockPreemptsAllow(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		Allow:            []string{"x.com"},
		BlockImmediately: []string{"x.com"},
		Sequences:        []config.SequenceEntry{wasd},
	}}, "x.com")
	waitInit(t, m)

	sigs := rec.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "x.com is on the block list", sigs[0].Reason)
	assert.Equal(t, SourceImmediate, sigs[0].Source)
	assert.Equal(t, "x.com", sigs[0].Domain)

	st := m.State()
	assert.True(t, st.Blocked)
	assert.Equal(t, policy.Immediate, st.Classification)
	assert.False(t, st.DetectorArmed)
}

func TestManager_AllowedDomainIsNeverScanned(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		Allow:       []string{"b.com"},
		Sequences:   []config.SequenceEntry{wasd},
		BannedWords: []string{"cheat"},
	}}, "a.b.com")
	waitInit(t, m)

	sendKeys(m, "w", 200)
	m.DocumentLoaded(scanner.StaticDocument{Text: "cheat codes"})

	assert.Empty(t, rec.Signals())
	st := m.State()
	assert.Equal(t, policy.Allowed, st.Classification)
	assert.False(t, st.DetectorArmed)
	assert.False(t, st.ScannerReady)
}

func TestManager_CadenceBlock(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		Sequences: []config.SequenceEntry{wasd},
	}}, "play.example")
	waitInit(t, m)

	keys := strings.Repeat("wasd", 9)[:35]
	for _, k := range keys {
		m.HandleKey(string(k))
	}
	sendKeys(m, "x", 14)
	assert.Empty(t, rec.Signals(), "no evaluation before the window completes")

	m.HandleKey("x")
	sigs := rec.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "Game like activity auto detected", sigs[0].Reason)
	assert.Equal(t, SourceCadence, sigs[0].Source)

	st := m.State()
	assert.Equal(t, cadence.StateTriggered, st.Phase)

	sendKeys(m, "w", 100)
	assert.Len(t, rec.Signals(), 1)
	assert.Equal(t, 50, m.State().WindowCount, "triggered detector ignores keys")
}

func TestManager_SkippingWindowDoesNotCount(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		Sequences: []config.SequenceEntry{wasd},
	}}, "play.example")
	waitInit(t, m)

	sendKeys(m, "x", 50)
	assert.Equal(t, cadence.StateSkipping, m.State().Phase)

	sendKeys(m, "w", 49)
	st := m.State()
	assert.Equal(t, 49, st.WindowCount)
	assert.Equal(t, 0, st.Counts["p1"])

	m.HandleKey("w")
	assert.Empty(t, rec.Signals())
	assert.Equal(t, cadence.StateCollecting, m.State().Phase)

	sendKeys(m, "w", 50)
	require.Len(t, rec.Signals(), 1)
}

func TestManager_BannedWord(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		BannedWords: []string{"cheat"},
	}}, "news.example")
	waitInit(t, m)

	m.DocumentLoaded(scanner.StaticDocument{Text: "No Cheats here"})

	sigs := rec.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "Page contained blocked word/phrase: cheat", sigs[0].Reason)
	assert.Equal(t, SourceWords, sigs[0].Source)
}

func TestManager_BannedConnection(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		BannedConnections: []string{"tracker.example"},
	}}, "news.example")
	waitInit(t, m)

	m.DocumentLoaded(scanner.NewHTMLDocument(`<html><body><img src="https://TRACKER.example/beacon"></body></html>`))

	sigs := rec.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "Page attempted to make a connection to a blocked connection", sigs[0].Reason)
	assert.Equal(t, SourceConnections, sigs[0].Source)
}

func TestManager_ScanRunsOnce(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		BannedWords: []string{"cheat"},
	}}, "news.example")
	waitInit(t, m)

	m.DocumentLoaded(scanner.StaticDocument{Text: "clean page"})
	m.DocumentLoaded(scanner.StaticDocument{Text: "cheat"})

	assert.Empty(t, rec.Signals())
	assert.True(t, m.State().Scanned)
}

func TestManager_DocumentLoadedBeforeListsResolve(t *testing.T) {
	src := &gatedSource{
		docs: map[config.Document]string{
			config.DocBannedWords: `{"bannedWords": ["cheat"]}`,
		},
		gates: map[config.Document]chan struct{}{
			config.DocBannedWords: make(chan struct{}),
		},
	}
	m, rec := startManager(t, config.NewLoader(src, nil, nil), "news.example")

	m.DocumentLoaded(scanner.StaticDocument{Text: "cheat sheet"})
	assert.Empty(t, rec.Signals())

	close(src.gates[config.DocBannedWords])
	waitInit(t, m)

	sigs := rec.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "Page contained blocked word/phrase: cheat", sigs[0].Reason)
}

func TestManager_KeysBeforeSequencesAreDropped(t *testing.T) {
	src := &gatedSource{
		docs: map[config.Document]string{
			config.DocSequences: `{"sequences": [{"id": "p1", "keys": ["w"], "threshold": 0.5}]}`,
		},
		gates: map[config.Document]chan struct{}{
			config.DocSequences: make(chan struct{}),
		},
	}
	m, rec := startManager(t, config.NewLoader(src, nil, nil), "play.example")

	require.Eventually(t, func() bool { return m.State().Classified }, 2*time.Second, 5*time.Millisecond)
	sendKeys(m, "w", 50)
	assert.False(t, m.State().DetectorArmed)

	close(src.gates[config.DocSequences])
	waitInit(t, m)
	st := m.State()
	assert.True(t, st.DetectorArmed)
	assert.Equal(t, 0, st.WindowCount)
	assert.Empty(t, rec.Signals())

	sendKeys(m, "w", 50)
	require.Len(t, rec.Signals(), 1)
}

func TestManager_DoubleBlockEmitsOnce(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		Sequences:   []config.SequenceEntry{wasd},
		BannedWords: []string{"cheat"},
	}}, "play.example")
	waitInit(t, m)

	sendKeys(m, "w", 50)
	m.DocumentLoaded(scanner.StaticDocument{Text: "cheat"})

	require.Len(t, rec.Signals(), 1)
	assert.Equal(t, SourceCadence, rec.Signals()[0].Source)
}

func TestManager_NavigationResetsSession(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		Sequences:        []config.SequenceEntry{wasd},
		BlockImmediately: []string{"b.com"},
	}}, "a.com")
	waitInit(t, m)

	sendKeys(m, "w", 20)
	before := m.State()
	assert.Equal(t, 20, before.WindowCount)
	assert.Equal(t, 20, before.Counts["p1"])

	assert.False(t, m.Navigate("A.com"), "same domain is not a navigation")
	assert.True(t, m.Navigate("b.com"))

	after := m.State()
	assert.Equal(t, "b.com", after.Domain)
	assert.NotEqual(t, before.ID, after.ID)
	assert.Equal(t, 0, after.WindowCount)
	assert.Equal(t, cadence.StateCollecting, after.Phase)

	waitInit(t, m)
	sigs := rec.Signals()
	require.Len(t, sigs, 1)
	assert.Equal(t, "b.com is on the block list", sigs[0].Reason)
	assert.Equal(t, after.ID, sigs[0].SessionID)
}

func TestManager_NavigationClearsBlock(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		BlockImmediately: []string{"a.com"},
	}}, "a.com")
	waitInit(t, m)
	require.True(t, m.State().Blocked)

	require.True(t, m.NavigateURL("https://c.com/path?q=1"))
	waitInit(t, m)

	st := m.State()
	assert.False(t, st.Blocked)
	assert.Equal(t, "c.com", st.Domain)
	assert.Equal(t, "https://c.com/path?q=1", st.URL)
	assert.Len(t, rec.Signals(), 1)
}

func TestManager_StaleInitializationIsDiscarded(t *testing.T) {
	src := &gatedSource{
		docs: map[config.Document]string{
			config.DocBlockImmediately: `{"blockImmediatelyList": ["a.com"]}`,
		},
		gates: map[config.Document]chan struct{}{
			config.DocBlockImmediately: make(chan struct{}),
		},
	}
	m, rec := startManager(t, config.NewLoader(src, nil, nil), "a.com")

	require.True(t, m.Navigate("c.com"))
	close(src.gates[config.DocBlockImmediately])
	waitInit(t, m)

	assert.Empty(t, rec.Signals())
	st := m.State()
	assert.Equal(t, "c.com", st.Domain)
	assert.False(t, st.Blocked)
}

func TestManager_ReplacedSessionSignalIsDropped(t *testing.T) {
	m, rec := startManager(t, staticLoader{}, "a.com")
	waitInit(t, m)
	old := m.State()

	require.True(t, m.Navigate("c.com"))
	m.deliver(Signal{SessionID: old.ID, Domain: old.Domain, Source: SourceCadence, Reason: cadence.Reason})
	assert.Empty(t, rec.Signals())

	cur := m.State()
	m.deliver(Signal{SessionID: cur.ID, Domain: cur.Domain, Source: SourceCadence, Reason: cadence.Reason})
	require.Len(t, rec.Signals(), 1)
	assert.Equal(t, cur.ID, rec.Signals()[0].SessionID)

	m.Close()
	m.deliver(Signal{SessionID: cur.ID, Domain: cur.Domain, Source: SourceCadence, Reason: cadence.Reason})
	assert.Len(t, rec.Signals(), 1)
}

func TestManager_NavigationWaitsForDelivery(t *testing.T) {
	entered := make(chan Signal, 1)
	release := make(chan struct{})
	sink := SinkFunc(func(sig Signal) {
		entered <- sig
		<-release
	})
	m := NewManager(staticLoader{config.Lists{
		BlockImmediately: []string{"a.com"},
	}}, Options{Sink: sink, Logger: zap.NewNop()})
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(func() {
		m.Close()
		cancel()
	})
	var releaseOnce sync.Once
	unblock := func() { releaseOnce.Do(func() { close(release) }) }
	t.Cleanup(unblock)
	require.NoError(t, m.Start(ctx, "a.com"))

	var sig Signal
	select {
	case sig = <-entered:
	case <-time.After(2 * time.Second):
		t.Fatal("block was not delivered")
	}

	navigated := make(chan bool, 1)
	go func() { navigated <- m.Navigate("c.com") }()

	select {
	case <-navigated:
		t.Fatal("navigation finished while a block was being delivered")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, sig.SessionID, m.State().ID)

	unblock()
	assert.True(t, <-navigated)
	assert.Equal(t, "c.com", m.State().Domain)
}

func TestManager_MalformedHostKeepsSession(t *testing.T) {
	m, _ := startManager(t, staticLoader{}, "a.com")
	waitInit(t, m)
	id := m.State().ID

	assert.False(t, m.Navigate(""))
	assert.False(t, m.NavigateURL("::not a url"))
	assert.Equal(t, id, m.State().ID)
	assert.Equal(t, "a.com", m.State().Domain)
}

func TestManager_NotStarted(t *testing.T) {
	m := NewManager(staticLoader{}, Options{})
	assert.False(t, m.Navigate("a.com"))
	assert.ErrorIs(t, m.WaitInitialized(context.Background()), ErrNotStarted)
	assert.ErrorIs(t, m.Run(context.Background(), NewPushObserver()), ErrNotStarted)

	m.HandleKey("w")
	m.DocumentLoaded(scanner.StaticDocument{Text: "x"})
	assert.False(t, m.State().Blocked)
}

func TestManager_CloseIgnoresEvents(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		Sequences: []config.SequenceEntry{wasd},
	}}, "play.example")
	waitInit(t, m)

	m.Close()
	sendKeys(m, "w", 50)
	assert.False(t, m.Navigate("b.com"))
	assert.Empty(t, rec.Signals())
}

func TestManager_RunWithPoller(t *testing.T) {
	m, rec := startManager(t, staticLoader{config.Lists{
		BlockImmediately: []string{"b.com"},
	}}, "a.com")
	waitInit(t, m)

	var host atomicHost
	host.set("a.com")
	p := &Poller{Interval: 10 * time.Millisecond, Host: host.get}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- m.Run(ctx, p) }()

	host.set("b.com")
	require.Eventually(t, func() bool { return len(rec.Signals()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "b.com", m.State().Domain)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestManager_RunWithPushObserver(t *testing.T) {
	m, _ := startManager(t, staticLoader{}, "a.com")
	obs := NewPushObserver()

	done := make(chan error, 1)
	go func() { done <- m.Run(context.Background(), obs) }()

	require.NoError(t, obs.Push("b.com"))
	require.Eventually(t, func() bool { return m.State().Domain == "b.com" }, 2*time.Second, 5*time.Millisecond)

	obs.Close()
	assert.NoError(t, <-done)
	assert.ErrorIs(t, obs.Push("c.com"), ErrObserverClosed)
}
