// cmd/cradle/server.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"Cradle-storage/internal/book"
	"Cradle-storage/internal/config"
	"Cradle-storage/internal/cradle"
	"Cradle-storage/internal/filter"
	"Cradle-storage/internal/message"
	"Cradle-storage/internal/metrics"
	"Cradle-storage/internal/storeerr"
	"Cradle-storage/internal/testevent"
	"Cradle-storage/pkg/api"
)

const defaultQueryLimit = 1000

// Server exposes a Storage over HTTP.
type Server struct {
	storage    *cradle.Storage
	config     *config.Config
	router     *mux.Router
	httpServer *http.Server
	log        hclog.Logger
}

// NewServer wires the routes of an initialized storage.
func NewServer(storage *cradle.Storage, cfg *config.Config, log hclog.Logger) *Server {
	s := &Server{
		storage: storage,
		config:  cfg,
		router:  mux.NewRouter(),
		log:     log.Named("http"),
	}
	s.setupRoutes()
	return s
}

// setupRoutes defines all the API endpoints.
func (s *Server) setupRoutes() {
	s.router.Use(s.countRequests)

	// Book and page routes
	s.router.HandleFunc("/books", s.handleAddBook).Methods("POST")
	s.router.HandleFunc("/books", s.handleGetBooks).Methods("GET")
	s.router.HandleFunc("/books/{book}", s.handleGetBook).Methods("GET")
	s.router.HandleFunc("/books/{book}/pages", s.handleSwitchPage).Methods("POST")

	// Message routes
	s.router.HandleFunc("/books/{book}/messages", s.handleStoreMessages).Methods("POST")
	s.router.HandleFunc("/books/{book}/messages", s.handleGetMessages).Methods("GET")
	s.router.HandleFunc("/books/{book}/sessions", s.handleGetSessions).Methods("GET")

	// Test event routes
	s.router.HandleFunc("/books/{book}/events", s.handleStoreEvent).Methods("POST")
	s.router.HandleFunc("/books/{book}/events", s.handleGetEvents).Methods("GET")
	s.router.HandleFunc("/books/{book}/scopes", s.handleGetScopes).Methods("GET")

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.Handle("/metrics", promhttp.Handler()).Methods("GET")
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// countRequests records every request under its route template.
func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		metrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(rec.code)).Inc()
	})
}

// --- Helpers ---

func statusOf(err error) int {
	switch storeerr.KindOf(err) {
	case storeerr.NotFound, storeerr.UnknownBook, storeerr.UnknownPage:
		return http.StatusNotFound
	case storeerr.BookAlreadyExists, storeerr.PageAlreadyExists:
		return http.StatusConflict
	case storeerr.ValidationError, storeerr.InvalidPageOrdering, storeerr.WriteTargetNotActivePage:
		return http.StatusBadRequest
	case storeerr.NotInitialized, storeerr.AlreadyDisposed:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code >= http.StatusInternalServerError {
		s.log.Error("request failed", "error", err)
	}
	resp := api.ErrorResponse{Error: err.Error()}
	var se *storeerr.Error
	if errors.As(err, &se) {
		resp.Kind = se.Kind.String()
	}
	writeJSON(w, code, resp)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, api.ErrorResponse{Error: msg, Kind: storeerr.ValidationError.String()})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func parseTime(r *http.Request, name string) (time.Time, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, v)
}

func parseLimit(r *http.Request) (int, error) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultQueryLimit, nil
	}
	limit, err := strconv.Atoi(v)
	if err != nil || limit <= 0 {
		return 0, errors.New("limit must be a positive number")
	}
	return limit, nil
}

func toAPIBook(b *book.BookInfo) api.Book {
	out := api.Book{
		Name:        b.ID,
		FullName:    b.FullName,
		Description: b.Description,
		Created:     b.Created,
		Pages:       make([]api.Page, 0, b.PageCount()),
	}
	for _, p := range b.Pages() {
		page := api.Page{Name: p.ID.Name, Started: p.Started, Comment: p.Comment}
		if !p.Active() {
			ended := p.Ended
			page.Ended = &ended
		}
		out.Pages = append(out.Pages, page)
	}
	return out
}

func toAPIMessage(m message.Message) api.Message {
	return api.Message{
		ID:              m.ID.String(),
		SessionAlias:    m.ID.SessionAlias,
		Direction:       m.ID.Direction.String(),
		Sequence:        m.ID.Sequence,
		Timestamp:       m.ID.Timestamp,
		Content:         m.Content,
		Metadata:        m.Metadata,
		ProtocolVersion: m.ProtocolVersion,
	}
}

func toAPIEvent(e testevent.Event) api.Event {
	id := e.EventID()
	out := api.Event{
		ID:      id.ID,
		Scope:   id.Scope,
		Start:   id.StartTimestamp,
		End:     e.LastTimestamp(),
		Name:    e.EventName(),
		Type:    e.EventType(),
		Success: e.IsSuccess(),
		FullID:  id.String(),
	}
	if p := e.Parent(); p != nil {
		out.ParentID = p.String()
	}
	if single, ok := e.(*testevent.Single); ok {
		out.Content = single.Content
		out.MessageIDs = testevent.FormatMessageIDs(single.MessageIDs)
	}
	return out
}

// --- HTTP Handlers ---

func (s *Server) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var req api.AddBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body: "+err.Error())
		return
	}
	b, err := s.storage.AddBook(r.Context(), cradle.BookToAdd{
		Name:             req.Name,
		FullName:         req.FullName,
		Description:      req.Description,
		Created:          req.Created,
		FirstPageName:    req.FirstPageName,
		FirstPageComment: req.FirstPageComment,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAPIBook(b))
}

func (s *Server) handleGetBooks(w http.ResponseWriter, r *http.Request) {
	books := s.storage.Books()
	out := make([]api.Book, 0, len(books))
	for _, b := range books {
		out = append(out, toAPIBook(b))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["book"]
	var (
		b   *book.BookInfo
		err error
	)
	if r.URL.Query().Get("refresh") == "true" {
		b, err = s.storage.RefreshBook(r.Context(), name)
	} else {
		b, err = s.storage.Book(name)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAPIBook(b))
}

func (s *Server) handleSwitchPage(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["book"]
	var req api.SwitchPageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body: "+err.Error())
		return
	}
	var (
		b   *book.BookInfo
		err error
	)
	if req.Start.IsZero() {
		b, err = s.storage.SwitchToNewPage(r.Context(), name, req.Name, req.Comment)
	} else {
		b, err = s.storage.SwitchToNewPageAt(r.Context(), name, req.Name, req.Start, req.Comment)
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAPIBook(b))
}

func (s *Server) handleStoreMessages(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["book"]
	var req api.StoreMessagesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body: "+err.Error())
		return
	}

	batch := message.NewBatch(s.config.Batches.MaxMessageBatchSize)
	for _, m := range req.Messages {
		dir, err := message.ParseDirection(m.Direction)
		if err != nil {
			s.writeError(w, err)
			return
		}
		if _, err := batch.Add(message.ToStore{
			Book:            name,
			SessionAlias:    m.SessionAlias,
			Direction:       dir,
			Sequence:        m.Sequence,
			Timestamp:       m.Timestamp,
			Content:         m.Content,
			Metadata:        m.Metadata,
			ProtocolVersion: m.ProtocolVersion,
		}); err != nil {
			s.writeError(w, err)
			return
		}
	}
	if err := s.storage.StoreMessageBatch(r.Context(), batch); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, api.StoreResponse{Status: "stored", ID: batch.ID().String()})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := filter.MessageFilter{
		Book:         mux.Vars(r)["book"],
		Page:         q.Get("page"),
		SessionAlias: q.Get("session"),
	}
	if d := q.Get("direction"); d != "" {
		dir, err := message.ParseDirection(d)
		if err != nil {
			s.writeError(w, err)
			return
		}
		f.Direction = dir
	}
	from, err := parseTime(r, "from")
	if err != nil {
		badRequest(w, "Invalid 'from' timestamp: "+err.Error())
		return
	}
	to, err := parseTime(r, "to")
	if err != nil {
		badRequest(w, "Invalid 'to' timestamp: "+err.Error())
		return
	}
	if !from.IsZero() {
		f.TimestampFrom = filter.GreaterOrEqualTo(from)
	}
	if !to.IsZero() {
		f.TimestampTo = filter.LessThan(to)
	}
	if v := q.Get("after_sequence"); v != "" {
		after, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			badRequest(w, "Invalid 'after_sequence': "+err.Error())
			return
		}
		f.Sequence = filter.GreaterThan(after)
	}
	if f.Limit, err = parseLimit(r); err != nil {
		badRequest(w, err.Error())
		return
	}

	it, err := s.storage.GetMessages(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer it.Close()

	resp := api.MessagesResponse{Messages: []api.Message{}}
	for it.Next() {
		if err := it.Err(); err != nil {
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		resp.Messages = append(resp.Messages, toAPIMessage(it.Value()))
	}
	if err := it.Err(); err != nil {
		s.writeError(w, err)
		return
	}
	resp.Count = len(resp.Messages)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.storage.GetSessionAliases(r.Context(), mux.Vars(r)["book"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (s *Server) handleStoreEvent(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["book"]
	var req api.Event
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		badRequest(w, "Invalid request body: "+err.Error())
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	ev := &testevent.Single{
		ID:           testevent.ID{Book: name, Scope: req.Scope, StartTimestamp: req.Start, ID: req.ID},
		Name:         req.Name,
		Type:         req.Type,
		EndTimestamp: req.End,
		Success:      req.Success,
		Content:      req.Content,
	}
	if req.ParentID != "" {
		parent, err := testevent.ParseID(req.ParentID)
		if err != nil {
			s.writeError(w, err)
			return
		}
		ev.ParentID = &parent
	}
	if len(req.MessageIDs) > 0 {
		ids, err := testevent.ParseMessageIDs(req.MessageIDs)
		if err != nil {
			s.writeError(w, storeerr.Wrap(storeerr.ValidationError, err, "invalid message id"))
			return
		}
		ev.MessageIDs = ids
	}

	res, err := s.storage.StoreTestEvent(r.Context(), ev)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := api.StoreResponse{Status: "stored", ID: ev.ID.String()}
	if res.SecondaryErr != nil {
		resp.SecondaryError = res.SecondaryErr.Error()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := filter.TestEventFilter{
		Book:  mux.Vars(r)["book"],
		Page:  q.Get("page"),
		Scope: q.Get("scope"),
	}
	from, err := parseTime(r, "from")
	if err != nil {
		badRequest(w, "Invalid 'from' timestamp: "+err.Error())
		return
	}
	to, err := parseTime(r, "to")
	if err != nil {
		badRequest(w, "Invalid 'to' timestamp: "+err.Error())
		return
	}
	if !from.IsZero() {
		f.StartTimestampFrom = filter.GreaterOrEqualTo(from)
	}
	if !to.IsZero() {
		f.StartTimestampTo = filter.LessThan(to)
	}
	if p := q.Get("parent"); p != "" {
		parent, err := testevent.ParseID(p)
		if err != nil {
			s.writeError(w, err)
			return
		}
		f.ParentID = &parent
	}
	if f.Limit, err = parseLimit(r); err != nil {
		badRequest(w, err.Error())
		return
	}

	it, err := s.storage.GetTestEvents(r.Context(), f)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer it.Close()

	resp := api.EventsResponse{Events: []api.Event{}}
	for it.Next() {
		if err := it.Err(); err != nil {
			resp.Errors = append(resp.Errors, err.Error())
			continue
		}
		resp.Events = append(resp.Events, toAPIEvent(it.Value()))
	}
	if err := it.Err(); err != nil {
		s.writeError(w, err)
		return
	}
	resp.Count = len(resp.Events)
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetScopes(w http.ResponseWriter, r *http.Request) {
	scopes, err := s.storage.GetScopes(r.Context(), mux.Vars(r)["book"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scopes)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status, code := "healthy", http.StatusOK
	if s.storage.IsDisposed() {
		status, code = "disposed", http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":   status,
		"instance": s.config.Instance,
		"backend":  s.config.Backend,
		"books":    len(s.storage.Books()),
	})
}

// Serve listens on the configured port until Shutdown is called.
func (s *Server) Serve() error {
	s.httpServer = &http.Server{
		Addr:    ":" + s.config.Server.Port,
		Handler: s.router,
	}
	s.log.Info("API server listening", "port", s.config.Server.Port)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) gracefulShutdown() {
	s.log.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			s.log.Error("HTTP server shutdown error", "error", err)
		}
	}
	if err := s.storage.Dispose(); err != nil {
		s.log.Error("storage dispose error", "error", err)
	}
	s.log.Info("shutdown complete")
}
