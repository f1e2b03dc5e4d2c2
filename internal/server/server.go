// Package server exposes pre-render sessions over HTTP. Each session owns
// one scheduler; progress streams over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/linecue/linecue/internal/prerender"
	"github.com/linecue/linecue/internal/script"
	"github.com/linecue/linecue/internal/synth"
)

// OwnerHeader carries the authenticated owner id, set by the fronting
// auth proxy.
const OwnerHeader = "X-Owner-ID"

// maxBodyBytes bounds a pre-render request body.
const maxBodyBytes = 4 << 20

// Server routes session requests to per-session schedulers.
type Server struct {
	client synth.Client
	store  prerender.AudioStore
	cfg    prerender.Config
	logger *log.Logger

	mu       sync.Mutex
	sessions map[string]*prerender.Scheduler

	httpServer *http.Server
}

// New creates a server. store may be nil to disable the audio cache.
func New(client synth.Client, store prerender.AudioStore, cfg prerender.Config, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		client:   client,
		store:    store,
		cfg:      cfg,
		logger:   logger.WithPrefix("server"),
		sessions: make(map[string]*prerender.Scheduler),
	}
}

// Handler returns the API routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /sessions/{id}/prerender", s.handlePrerender)
	mux.HandleFunc("POST /sessions/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /sessions/{id}/reset", s.handleReset)
	mux.HandleFunc("GET /sessions/{id}", s.handleSession)
	mux.HandleFunc("GET /sessions/{id}/audio/{line}", s.handleAudio)
	mux.HandleFunc("GET /sessions/{id}/events", s.handleEvents)
	return mux
}

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully and cancels every running session.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- s.httpServer.Serve(listener)
	}()
	s.logger.Info("Listening", "addr", listener.Addr().String())

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.cancelAll()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func (s *Server) cancelAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, sched := range s.sessions {
		sched.Cancel()
	}
}

// session returns the scheduler for the owner's session, creating it when
// create is set.
func (s *Server) session(owner, id string, create bool) *prerender.Scheduler {
	key := owner + "\x00" + id

	s.mu.Lock()
	defer s.mu.Unlock()

	sched, ok := s.sessions[key]
	if !ok && create {
		sched = prerender.New(s.client, s.store, s.cfg, s.logger.With("session", id))
		s.sessions[key] = sched
	}
	return sched
}

// forget drops the owner's session if it still maps to sched.
func (s *Server) forget(owner, id string, sched *prerender.Scheduler) {
	key := owner + "\x00" + id

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[key] == sched {
		delete(s.sessions, key)
	}
}

// PrerenderRequest starts a run. Either Dialogues or Script (markdown) must
// be set.
type PrerenderRequest struct {
	Dialogues      []script.DialogueLine `json:"dialogues"`
	Script         string                `json:"script,omitempty"`
	ActorCharacter string                `json:"actorCharacter"`
	VoiceID        string                `json:"voiceId"`
	Speed          float64               `json:"speed"`
	VoiceMap       map[string]string     `json:"voiceMap,omitempty"`
	ScriptID       string                `json:"scriptId,omitempty"`
}

// SessionResponse describes a session's run.
type SessionResponse struct {
	prerender.Snapshot
	ReadyLines []int                `json:"ready"`
	CacheStats prerender.CacheStats `json:"cacheStats"`
	Items      []ItemView           `json:"items"`
}

// ItemView is a queue item without its audio.
type ItemView struct {
	LineIndex int                  `json:"lineIndex"`
	Character string               `json:"character"`
	VoiceID   string               `json:"voiceId"`
	Status    prerender.ItemStatus `json:"status"`
	FromCache bool                 `json:"fromCache"`
	Attempts  int                  `json:"attempts"`
	Error     string               `json:"error,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePrerender(w http.ResponseWriter, r *http.Request) {
	owner, ok := s.owner(w, r)
	if !ok {
		return
	}

	var req PrerenderRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	lines := req.Dialogues
	if len(lines) == 0 && strings.TrimSpace(req.Script) != "" {
		parsed, err := script.Parse(strings.NewReader(req.Script))
		if err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		lines = parsed
	}
	if len(lines) == 0 {
		s.writeError(w, http.StatusBadRequest, "no dialogue lines")
		return
	}

	sched := s.session(owner, r.PathValue("id"), true)
	opts := prerender.Options{
		Dialogues:      lines,
		ActorCharacter: req.ActorCharacter,
		VoiceID:        req.VoiceID,
		Speed:          req.Speed,
		VoiceMap:       req.VoiceMap,
		OwnerID:        owner,
		ScriptID:       req.ScriptID,
	}

	// The run outlives this request; it is cancelled through the API.
	err := sched.Start(context.WithoutCancel(r.Context()), opts)
	if errors.Is(err, prerender.ErrNeedsReset) {
		// A new request replaces a finished run.
		if err = sched.Reset(); err == nil {
			err = sched.Start(context.WithoutCancel(r.Context()), opts)
		}
	}
	switch {
	case errors.Is(err, prerender.ErrRunActive):
		s.writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, prerender.ErrInvalidOptions):
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		s.writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.writeJSON(w, http.StatusAccepted, sched.Snapshot())
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	sched, ok := s.existing(w, r)
	if !ok {
		return
	}
	sched.Cancel()
	s.writeJSON(w, http.StatusAccepted, sched.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sched, ok := s.existing(w, r)
	if !ok {
		return
	}
	if err := sched.Reset(); err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}
	// A reset session holds nothing worth keeping; the next prerender
	// recreates it.
	s.forget(strings.TrimSpace(r.Header.Get(OwnerHeader)), r.PathValue("id"), sched)
	s.writeJSON(w, http.StatusOK, sched.Snapshot())
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	sched, ok := s.existing(w, r)
	if !ok {
		return
	}

	resp := SessionResponse{
		Snapshot:   sched.Snapshot(),
		ReadyLines: []int{},
		CacheStats: sched.CacheStats(),
		Items:      []ItemView{},
	}
	for _, item := range sched.Items() {
		if item.Status == prerender.ItemReady {
			resp.ReadyLines = append(resp.ReadyLines, item.Line.LineIndex)
		}
		resp.Items = append(resp.Items, ItemView{
			LineIndex: item.Line.LineIndex,
			Character: item.Line.Character,
			VoiceID:   item.VoiceID,
			Status:    item.Status,
			FromCache: item.FromCache,
			Attempts:  item.Attempts,
			Error:     item.Err,
		})
	}
	sort.Ints(resp.ReadyLines)

	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAudio(w http.ResponseWriter, r *http.Request) {
	sched, ok := s.existing(w, r)
	if !ok {
		return
	}

	line, err := strconv.Atoi(r.PathValue("line"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid line index")
		return
	}

	item, found := sched.Item(line)
	if !found || item.Status != prerender.ItemReady {
		s.writeError(w, http.StatusNotFound, "audio not ready")
		return
	}

	contentType := item.ContentType
	if contentType == "" {
		contentType = "audio/mpeg"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(item.Audio)))
	w.Header().Set("Cache-Control", "private, max-age=3600")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(item.Audio); err != nil {
		s.logger.Debug("Audio write failed", "line", line, "err", err)
	}
}

// owner reads the owner header or answers 401.
func (s *Server) owner(w http.ResponseWriter, r *http.Request) (string, bool) {
	owner := strings.TrimSpace(r.Header.Get(OwnerHeader))
	if owner == "" {
		s.writeError(w, http.StatusUnauthorized, "missing "+OwnerHeader)
		return "", false
	}
	return owner, true
}

// existing resolves the caller's session or answers 401/404.
func (s *Server) existing(w http.ResponseWriter, r *http.Request) (*prerender.Scheduler, bool) {
	owner, ok := s.owner(w, r)
	if !ok {
		return nil, false
	}
	sched := s.session(owner, r.PathValue("id"), false)
	if sched == nil {
		s.writeError(w, http.StatusNotFound, "session not found")
		return nil, false
	}
	return sched, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("Failed to encode response", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}
