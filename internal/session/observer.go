package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gzhole/gameblocker/internal/config"
)

// Observer reports the live location of the document, as a hostname or
// a full URL.
type Observer interface {
	// Observe calls fn with hostnames until ctx ends. Calls to fn are
	// never concurrent.
	Observe(ctx context.Context, fn func(host string)) error
}

// Poller samples a hostname on a fixed interval.
type Poller struct {
	Interval time.Duration
	Host     func() string
}

// NewPoller returns a poller sampling host every interval. A non-positive
// interval means the default of one second.
func NewPoller(interval time.Duration, host func() string) *Poller {
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	return &Poller{Interval: interval, Host: host}
}

func (p *Poller) Observe(ctx context.Context, fn func(host string)) error {
	if p.Host == nil {
		return errors.New("poller has no host source")
	}
	interval := p.Interval
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(p.Host())
		}
	}
}

// ErrObserverClosed is returned by Push after Close.
var ErrObserverClosed = errors.New("observer closed")

// PushObserver forwards hostnames pushed by the page relay. Push blocks
// until the hostname has been handled, so events sent after a navigation
// apply to the new session.
type PushObserver struct {
	mu      sync.Mutex
	fn      func(string)
	pending []string
	closed  bool
	done    chan struct{}

	attachOnce sync.Once
	attached   chan struct{}
}

// NewPushObserver returns an unattached push observer.
func NewPushObserver() *PushObserver {
	return &PushObserver{done: make(chan struct{}), attached: make(chan struct{})}
}

// WaitAttached blocks until Observe has attached or ctx ends.
func (o *PushObserver) WaitAttached(ctx context.Context) error {
	select {
	case <-o.attached:
		return nil
	case <-o.done:
		return ErrObserverClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Push reports a hostname. Hostnames pushed before Observe attaches are
// replayed in order when it does.
func (o *PushObserver) Push(host string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return ErrObserverClosed
	}
	if o.fn == nil {
		o.pending = append(o.pending, host)
		return nil
	}
	o.fn(host)
	return nil
}

func (o *PushObserver) Observe(ctx context.Context, fn func(host string)) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrObserverClosed
	}
	if o.fn != nil {
		o.mu.Unlock()
		return errors.New("observer already attached")
	}
	o.fn = fn
	for _, h := range o.pending {
		fn(h)
	}
	o.pending = nil
	o.mu.Unlock()
	o.attachOnce.Do(func() { close(o.attached) })

	select {
	case <-ctx.Done():
		o.detach()
		return ctx.Err()
	case <-o.done:
		return nil
	}
}

func (o *PushObserver) detach() {
	o.mu.Lock()
	o.fn = nil
	o.mu.Unlock()
}

// Close stops the observer; Observe returns nil.
func (o *PushObserver) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.closed = true
	o.fn = nil
	close(o.done)
}
