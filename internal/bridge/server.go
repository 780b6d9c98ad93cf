// Package bridge exposes the detector to a page relay over WebSocket. Each
// connection is one document context with its own session manager.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gzhole/gameblocker/internal/config"
	"github.com/gzhole/gameblocker/internal/metrics"
	"github.com/gzhole/gameblocker/internal/session"
)

// DefaultMaxMessageSize bounds a relay frame: twice the 4 MiB cap on list
// documents, leaving room for JSON escaping of a page snapshot.
const DefaultMaxMessageSize = 8 << 20

// Options configures a Server.
type Options struct {
	Loader      session.ListLoader
	Sink        session.BlockSink // shared by all connections, e.g. the audit log
	Logger      *zap.Logger
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	MetricsPath string

	// PollInterval, when positive, makes each connection sample the last
	// navigated location on this interval instead of applying every
	// navigate message as it arrives.
	PollInterval time.Duration

	// MaxMessageSize caps inbound frames; zero means DefaultMaxMessageSize.
	MaxMessageSize int64
}

// Server serves /ws, /healthz and the metrics endpoint.
type Server struct {
	opts     Options
	logger   *zap.Logger
	upgrader websocket.Upgrader
	router   *mux.Router
}

// NewServer builds the router for opts.
func NewServer(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MetricsPath == "" {
		opts.MetricsPath = config.DefaultMetricsPath
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	s := &Server{
		opts:   opts,
		logger: opts.Logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The relay runs inside arbitrary pages.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		router: mux.NewRouter(),
	}
	s.RegisterRoutes(s.router)
	return s
}

// RegisterRoutes adds the bridge endpoints to router.
func (s *Server) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws", s.handleWS).Methods("GET")
	router.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.opts.Gatherer != nil {
		router.Handle(s.opts.MetricsPath, promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

// ListenAndServe serves on addr until ctx ends, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("bridge listening", zap.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	ws.SetReadLimit(s.opts.MaxMessageSize)

	c := &conn{ws: ws, logger: s.logger, pollInterval: s.opts.PollInterval}
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	mgr := session.NewManager(s.opts.Loader, session.Options{
		Sink:    session.MultiSink{c, s.opts.Sink},
		Logger:  s.logger,
		Metrics: s.opts.Metrics,
	})
	obs := session.NewPushObserver()
	defer func() {
		obs.Close()
		mgr.Close()
		ws.Close()
	}()

	c.serve(ctx, mgr, obs)
}

// conn is one relay connection. Writes are serialized by mu because block
// signals arrive from session goroutines.
type conn struct {
	ws     *websocket.Conn
	logger *zap.Logger
	mu     sync.Mutex

	pollInterval time.Duration
	locMu        sync.Mutex
	location     string
}

func (c *conn) setLocation(loc string) {
	c.locMu.Lock()
	c.location = loc
	c.locMu.Unlock()
}

func (c *conn) liveLocation() string {
	c.locMu.Lock()
	defer c.locMu.Unlock()
	return c.location
}

func (c *conn) write(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.ws.WriteJSON(msg)
}

// Block implements session.BlockSink.
func (c *conn) Block(sig session.Signal) {
	if err := c.write(Message{Type: TypeBlock, Reason: sig.Reason}); err != nil {
		c.logger.Warn("failed to deliver block to relay",
			zap.String("session_id", sig.SessionID),
			zap.Error(err))
	}
}

func (c *conn) serve(ctx context.Context, mgr *session.Manager, obs *session.PushObserver) {
	for {
		var msg Message
		if err := c.ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("relay connection closed", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case TypeNavigate:
			c.navigate(ctx, mgr, obs, msg)
		case TypeKey:
			mgr.HandleKey(msg.Key)
		case TypeLoaded:
			mgr.DocumentLoaded(msg.document())
		case TypeState:
			c.write(Message{Type: TypeState, State: stateView(mgr.State())})
		default:
			c.write(Message{Type: TypeError, Error: "unknown message type " + msg.Type})
		}
	}
}

func (c *conn) navigate(ctx context.Context, mgr *session.Manager, obs *session.PushObserver, msg Message) {
	loc := msg.location()
	polling := c.pollInterval > 0
	if polling {
		c.setLocation(loc)
	}
	if mgr.Started() {
		if !polling {
			obs.Push(loc)
		}
		return
	}

	var err error
	if strings.Contains(loc, "://") {
		err = mgr.StartURL(ctx, loc)
	} else {
		err = mgr.Start(ctx, loc)
	}
	if err != nil {
		c.write(Message{Type: TypeError, Error: err.Error()})
		return
	}
	if polling {
		go mgr.Run(ctx, session.NewPoller(c.pollInterval, c.liveLocation))
		return
	}
	go mgr.Run(ctx, obs)
	// later navigations must not race ahead of the observer
	obs.WaitAttached(ctx)
}

func stateView(st session.State) *StateView {
	return &StateView{
		SessionID:      st.ID,
		Domain:         st.Domain,
		Classification: st.Classification.String(),
		Phase:          st.Phase.String(),
		WindowCount:    st.WindowCount,
		Counts:         st.Counts,
		Armed:          st.DetectorArmed,
		Blocked:        st.Blocked,
		Reason:         st.Reason,
	}
}
