package service

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/mosaicnetworks/rewind/src/protocol"
	"github.com/mosaicnetworks/rewind/src/session"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Service exposes the state of a session over HTTP:
//
//   - /stats: frame counters and per-player network statistics (JSON)
//   - /players: the players of the session (JSON)
//   - /metrics: Prometheus metrics of the session
//   - /events: a websocket feed of the session's events
type Service struct {
	sync.Mutex

	bindAddress string
	session     *session.Session
	feed        *EventFeed
	mux         *http.ServeMux
	logger      *logrus.Entry
}

// NewService creates a Service for a session. Events reach the /events feed
// through Publish.
func NewService(bindAddress string, s *session.Session, logger *logrus.Entry) *Service {
	service := &Service{
		bindAddress: bindAddress,
		session:     s,
		feed:        NewEventFeed(logger),
		mux:         http.NewServeMux(),
		logger:      logger,
	}

	service.registerHandlers()

	return service
}

func (s *Service) registerHandlers() {
	s.logger.Debug("Registering rewind API handlers")
	s.mux.HandleFunc("/stats", s.makeHandler(s.GetStats))
	s.mux.HandleFunc("/players", s.makeHandler(s.GetPlayers))
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.session.Metrics().Registry(), promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/events", s.feed.ServeHTTP)
}

func (s *Service) makeHandler(fn func(http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.Lock()
		defer s.Unlock()

		// enable CORS
		w.Header().Set("Access-Control-Allow-Origin", "*")

		fn(w, r)
	}
}

// Handler returns the handler serving every endpoint.
func (s *Service) Handler() http.Handler {
	return s.mux
}

// Publish forwards events to the /events subscribers.
func (s *Service) Publish(events []session.Event) {
	s.feed.Publish(events)
}

// Serve listens on the bind address until ctx is cancelled.
func (s *Service) Serve(ctx context.Context) error {
	s.logger.WithField("bind_address", s.bindAddress).Debug("Serving rewind API")

	srv := &http.Server{
		Addr:    s.bindAddress,
		Handler: s.mux,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		s.feed.Close()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		s.feed.Close()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// PlayerStats describes one player in Stats.
type PlayerStats struct {
	Handle  session.PlayerHandle
	Kind    string
	Addr    string          `json:",omitempty"`
	Network *protocol.Stats `json:",omitempty"`
}

// Stats is the document served on /stats.
type Stats struct {
	CurrentFrame   int
	ConfirmedFrame int
	State          string
	Players        []PlayerStats
}

// GetStats serves the frame counters and the network statistics.
func (s *Service) GetStats(w http.ResponseWriter, r *http.Request) {
	stats := Stats{
		CurrentFrame:   s.session.CurrentFrame(),
		ConfirmedFrame: s.session.ConfirmedFrame(),
		State:          s.session.SchedulerState().String(),
	}

	for h, p := range s.session.Players() {
		ps := PlayerStats{
			Handle: session.PlayerHandle(h),
			Kind:   p.Kind.String(),
			Addr:   p.Addr,
		}
		if p.Kind != session.Local {
			if ns, err := s.session.NetworkStats(ps.Handle); err == nil {
				ps.Network = &ns
			}
		}
		stats.Players = append(stats.Players, ps)
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(stats); err != nil {
		s.logger.WithError(err).Debug("Encoding stats")
	}
}

// GetPlayers serves the players of the session.
func (s *Service) GetPlayers(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(s.session.Players()); err != nil {
		s.logger.WithError(err).Debug("Encoding players")
	}
}
