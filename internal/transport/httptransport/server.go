// Package server exposes one repository's object store and ref manager over
// HTTP, implementing the wire side of the four verbs memcore.Transport
// describes (§4.10, §6.3): ref listing, object read/write, and
// compare-and-swap ref updates. It is the network analogue of
// internal/transport.LocalTransport — same contract, reachable over a
// socket instead of a shared filesystem.
package server

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentmem/memvcs/internal/memcore"
)

// maxObjectBody caps a single WriteObject request body. Loose objects are
// blobs/trees/commits, never packs, so this is generous rather than tight.
const maxObjectBody = 64 * 1024 * 1024

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memvcs_http_requests_total",
		Help: "HTTP requests served by the transport server, by route and status.",
	}, []string{"route", "status"})
	objectBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "memvcs_http_object_bytes_total",
		Help: "Bytes transferred through the object read/write endpoints.",
	}, []string{"direction"})
)

// Server serves a single repository as a remote other repositories can
// Fetch/Pull/Push against via HTTPTransport.
type Server struct {
	repo        *memcore.Repository
	addr        string
	rateLimiter *rateLimiter
	httpServer  *http.Server
	logger      *slog.Logger
}

// NewServer constructs a transport server for repo, listening on addr.
func NewServer(repo *memcore.Repository, addr string) *Server {
	return &Server{
		repo:        repo,
		addr:        addr,
		rateLimiter: newRateLimiter(200, 400, time.Second),
		logger:      repo.Logger(),
	}
}

func (s *Server) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/refs", s.rateLimiter.middleware(s.handleListRefs)).Methods(http.MethodGet)
	r.HandleFunc("/objects/{hash}", s.rateLimiter.middleware(s.handleReadObject)).Methods(http.MethodGet)
	r.HandleFunc("/objects/{hash}", s.rateLimiter.middleware(s.handleWriteObject)).Methods(http.MethodPut)
	r.HandleFunc("/refs/{kind}/{name:.+}", s.rateLimiter.middleware(s.handleCASUpdateRef)).Methods(http.MethodPost)

	var handler http.Handler = requestLogger(s.logger, r)
	return corsMiddleware(handler)
}

// Start begins serving and blocks until the server exits or Shutdown is
// called.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	s.logger.Info("transport server starting", "addr", "http://"+s.addr, "repo", s.repo.GitDir())
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.rateLimiter.Close()
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Close()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]string{"status": "ok", "repo": s.repo.GitDir()})
}

// handleListRefs mirrors the Transport contract's map[string]string ref
// listing: keys are "heads/<name>" / "tags/<name>", values are hex hashes.
func (s *Server) handleListRefs(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]string)
	branches, err := s.repo.Branches()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for name, h := range branches {
		out[name] = string(h)
	}
	tags, err := s.repo.Tags()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for name, h := range tags {
		out[name] = string(h)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(out)
}

func (s *Server) handleReadObject(w http.ResponseWriter, r *http.Request) {
	hashStr := mux.Vars(r)["hash"]
	h, err := memcore.NewHash(hashStr)
	if err != nil {
		http.Error(w, "invalid hash", http.StatusBadRequest)
		return
	}
	kind, payload, err := s.repo.Objects().Get(h)
	if err != nil {
		http.Error(w, "object not found", http.StatusNotFound)
		return
	}
	data := memcore.CanonicalForm(kind, payload)
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Write(data)
	objectBytesTotal.WithLabelValues("read").Add(float64(len(data)))
}

func (s *Server) handleWriteObject(w http.ResponseWriter, r *http.Request) {
	hashStr := mux.Vars(r)["hash"]
	body, err := io.ReadAll(io.LimitReader(r.Body, maxObjectBody+1))
	if err != nil {
		http.Error(w, "reading body", http.StatusBadRequest)
		return
	}
	if len(body) > maxObjectBody {
		http.Error(w, "object too large", http.StatusRequestEntityTooLarge)
		return
	}
	kind, payload, err := memcore.SplitCanonical(body)
	if err != nil {
		http.Error(w, "malformed object", http.StatusBadRequest)
		return
	}
	if got := memcore.HashOf(kind, payload); string(got) != hashStr {
		http.Error(w, fmt.Sprintf("payload rehashes to %s, not %s", got, hashStr), http.StatusBadRequest)
		return
	}
	if _, err := s.repo.Objects().Put(kind, payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	objectBytesTotal.WithLabelValues("write").Add(float64(len(body)))
	w.WriteHeader(http.StatusNoContent)
}

type casUpdateRefRequest struct {
	Expected string `json:"expected"`
	Next     string `json:"next"`
}

// handleCASUpdateRef implements the remote side of a Push's fast-forward
// gate: the request is rejected with 409 unless expected matches the ref's
// current value at the moment the repository lock is held.
func (s *Server) handleCASUpdateRef(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind, name := vars["kind"], vars["name"]
	if kind != "heads" && kind != "tags" {
		http.Error(w, "unrecognized ref kind", http.StatusBadRequest)
		return
	}

	var req casUpdateRefRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 4096)).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	lock, err := s.repo.Lock(10 * time.Second)
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	defer lock.Unlock()

	current, err := s.currentRefValue(kind, name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if current != req.Expected {
		http.Error(w, "ref changed concurrently", http.StatusConflict)
		return
	}

	next, err := memcore.NewHash(req.Next)
	if err != nil {
		http.Error(w, "invalid target hash", http.StatusBadRequest)
		return
	}

	if kind == "heads" {
		err = s.repo.SetBranch(name, next)
	} else {
		err = s.repo.SetTag(name, next)
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) currentRefValue(kind, name string) (string, error) {
	if kind == "heads" {
		branches, err := s.repo.Branches()
		if err != nil {
			return "", err
		}
		return string(branches["heads/"+name]), nil
	}
	tags, err := s.repo.Tags()
	if err != nil {
		return "", err
	}
	return string(tags["tags/"+name]), nil
}
