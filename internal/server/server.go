package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"abyss-chat-backend/internal/chat"
	"abyss-chat-backend/internal/config"
	"abyss-chat-backend/internal/events"
	"abyss-chat-backend/internal/metrics"
	"abyss-chat-backend/internal/resolver"
	"abyss-chat-backend/internal/store"
	"abyss-chat-backend/internal/types"
)

const maxBodyBytes = 16 << 10

// Deps are the collaborators the server routes requests to.
type Deps struct {
	Config config.Config
	// Store holds the widget sessions.
	Store *store.MemoryStore
	Hub   *events.Hub
	// Backend answers the remote-compatible /chat endpoint.
	Backend *resolver.Resolver
	Metrics *metrics.Metrics
	Log     zerolog.Logger
}

type Server struct {
	router   *chi.Mux
	cfg      config.Config
	store    *store.MemoryStore
	hub      *events.Hub
	backend  *resolver.Resolver
	metrics  *metrics.Metrics
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

func NewServer(d Deps) *Server {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{d.Config.AllowedOrigin},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Requested-With", SessionHeader},
		ExposedHeaders:   []string{SessionHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s := &Server{
		router:  r,
		cfg:     d.Config,
		store:   d.Store,
		hub:     d.Hub,
		backend: d.Backend,
		metrics: d.Metrics,
		log:     d.Log,
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Get("/health", s.handleBackendHealth)
	s.router.Post("/chat", s.handleChat)
	s.router.Get("/api/health", s.handleHealth)
	s.router.Handle("/metrics", s.metrics.Handler())

	s.router.Route("/api/sessions", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.withSession(s.handleSnapshot))
			r.Delete("/", s.withSession(s.handleDeleteSession))
			r.Post("/messages", s.withSession(s.handleSubmitMessage))
			r.Post("/options/{option}", s.withSession(s.handleSubmitOption))
			r.Post("/social/{platform}", s.withSession(s.handleSubmitSocial))
			r.Post("/clear", s.withSession(s.handleClear))
			r.Get("/events", s.withSession(s.handleEvents))
		})
	})
}

func (s *Server) Router() http.Handler { return s.router }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, types.HealthResponse{Status: "ok"})
}

func (s *Server) handleBackendHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, types.HealthResponse{Status: "healthy", Message: s.backend.Greeting()})
}

// handleChat serves the same contract the session engine expects from a
// remote backend.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req types.ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		s.writeError(w, http.StatusBadRequest, "No message provided")
		return
	}
	res := s.backend.Resolve(req.Message)
	s.metrics.Topic(res.Topic)
	text := res.Text
	if res.IsCommand() {
		// The backend contract only carries text; a command becomes a default reply.
		text = s.backend.Default().Text
	}
	s.writeJSON(w, http.StatusOK, types.ChatResponse{Response: text})
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	sid := getSessionID(r)
	if sid == "" {
		sid = newSessionID()
	}
	sess, created := s.store.GetOrCreate(sid)
	if created {
		s.log.Info().Str("session", sid).Msg("session created")
	}
	SetSessionCookie(w, sid, s.cfg.SessionTTL)
	w.Header().Set(SessionHeader, sid)
	code := http.StatusOK
	if created {
		code = http.StatusCreated
	}
	s.writeJSON(w, code, sess.Snapshot())
}

type sessionHandler func(w http.ResponseWriter, r *http.Request, sess *chat.Session)

// withSession resolves {id} to a live session or answers 404.
func (s *Server) withSession(h sessionHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		sess, ok := s.store.Get(id)
		if !ok {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		h(w, r, sess)
	}
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request, sess *chat.Session) {
	s.writeJSON(w, http.StatusOK, sess.Snapshot())
}

// handleDeleteSession ends a session and disconnects its sockets.
func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request, sess *chat.Session) {
	s.store.Delete(sess.ID())
	s.hub.CloseSession(sess.ID())
	if sid, err := GetSessionCookie(r); err == nil && sid == sess.ID() {
		ClearSessionCookie(w)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSubmitMessage(w http.ResponseWriter, r *http.Request, sess *chat.Session) {
	var req types.SubmitRequest
	if err := decodeJSON(r, &req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.writeSubmit(w, sess, sess.SubmitUserMessage(req.Text))
}

func (s *Server) handleSubmitOption(w http.ResponseWriter, r *http.Request, sess *chat.Session) {
	option := chi.URLParam(r, "option")
	if !chat.IsOption(option) {
		s.writeError(w, http.StatusBadRequest, "unknown option")
		return
	}
	s.writeSubmit(w, sess, sess.SubmitOption(option))
}

func (s *Server) handleSubmitSocial(w http.ResponseWriter, r *http.Request, sess *chat.Session) {
	platform := chi.URLParam(r, "platform")
	if _, ok := chat.SocialPlatform(platform); !ok {
		s.writeError(w, http.StatusBadRequest, "unknown platform")
		return
	}
	s.writeSubmit(w, sess, sess.SubmitSocial(platform))
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request, sess *chat.Session) {
	sess.Clear()
	s.writeJSON(w, http.StatusOK, sess.Snapshot())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request, sess *chat.Session) {
	// Upgrade writes its own error response on failure.
	if err := s.hub.Serve(s.upgrader, w, r, sess); err != nil {
		s.log.Warn().Err(err).Str("session", sess.ID()).Msg("websocket upgrade failed")
	}
}

// writeSubmit answers 202 for every well-formed submission; a rejected one
// reports accepted=false with the unchanged snapshot.
func (s *Server) writeSubmit(w http.ResponseWriter, sess *chat.Session, accepted bool) {
	s.writeJSON(w, http.StatusAccepted, types.SubmitResponse{Accepted: accepted, Snapshot: sess.Snapshot()})
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.cfg.AllowedOrigin == "*" {
		return true
	}
	return strings.EqualFold(origin, s.cfg.AllowedOrigin)
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, types.ErrorResponse{Error: msg})
}

func decodeJSON(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return errors.New("empty body")
	}
	return err
}

func newSessionID() string {
	return uuid.NewString()
}

// getSessionID retrieves the session ID from cookie or header. Only ids this
// server could have minted are accepted.
func getSessionID(r *http.Request) string {
	if cookie, err := GetSessionCookie(r); err == nil && validSessionID(cookie) {
		return cookie
	}
	if sid := r.Header.Get(SessionHeader); validSessionID(sid) {
		return sid
	}
	return ""
}

func validSessionID(sid string) bool {
	if sid == "" || len(sid) != 36 {
		return false
	}
	_, err := uuid.Parse(sid)
	return err == nil
}

// NewHTTPServer wraps the router with the timeouts used in production.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
