// Copyright 2026 Provenact Labs
//
// HTTP transport for the operator node.
//
// The handlers are a thin shell: each one decodes the canonical JSON form of
// a core type, calls the corresponding engine function, and encodes the
// result back. No protocol logic lives here.

package server

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/provenact/operator-node/pkg/checkpoint"
	"github.com/provenact/operator-node/pkg/committee"
	"github.com/provenact/operator-node/pkg/event"
	"github.com/provenact/operator-node/pkg/node"
	"github.com/provenact/operator-node/pkg/registry"
)

// Config carries the parameters the handlers need beyond the engines.
type Config struct {
	CommitteeK           int
	ActiveSignatureRatio float64
	ActiveInactivityMs   int64
	ChainID              string
	Logger               *log.Logger
}

// Server routes the operator API.
type Server struct {
	engine      *node.Engine
	checkpoints *checkpoint.Engine
	registry    *registry.Registry
	cfg         *Config
	logger      *log.Logger
}

// New creates the HTTP server shell.
func New(engine *node.Engine, checkpoints *checkpoint.Engine, reg *registry.Registry, cfg *Config) *Server {
	if cfg.Logger == nil {
		cfg.Logger = log.New(log.Writer(), "[API] ", log.LstdFlags)
	}
	return &Server{
		engine:      engine,
		checkpoints: checkpoints,
		registry:    reg,
		cfg:         cfg,
		logger:      cfg.Logger,
	}
}

// Handler returns the routed http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/items/", s.handleItems)
	mux.HandleFunc("/api/events", s.handleSubmitEvent)
	mux.HandleFunc("/api/events/propose", s.handleProposeEvent)
	mux.HandleFunc("/api/events/sign", s.handleSignEvent)
	mux.HandleFunc("/api/checkpoints/sign", s.handleSignCheckpoint)
	mux.HandleFunc("/api/checkpoints/latest", s.handleLatestCheckpoint)
	mux.HandleFunc("/api/manufacturers/", s.handleManufacturer)
	mux.HandleFunc("/api/authenticators/", s.handleAuthenticator)
	mux.HandleFunc("/api/operators", s.handleOperators)
	mux.HandleFunc("/api/committee", s.handleCommittee)
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}

// handleItems dispatches /api/items/{id}[/events|/proof|/attestations].
func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/items/")
	parts := strings.SplitN(rest, "/", 2)
	itemID := parts[0]
	if itemID == "" {
		writeJSONError(w, "item id required", http.StatusBadRequest)
		return
	}

	sub := ""
	if len(parts) == 2 {
		sub = parts[1]
	}
	switch sub {
	case "":
		item, err := s.engine.GetItem(itemID)
		if err != nil {
			writeJSONError(w, "failed to load item", http.StatusInternalServerError)
			return
		}
		if item == nil {
			writeJSONError(w, "item not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, item)

	case "events":
		events, err := s.engine.GetEvents(itemID)
		if err != nil {
			writeJSONError(w, "failed to load events", http.StatusInternalServerError)
			return
		}
		if events == nil {
			writeJSONError(w, "item not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, events)

	case "proof":
		proof, err := s.engine.GetItemProof(itemID)
		if err != nil {
			writeJSONError(w, "failed to build proof", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, proof)

	case "attestations":
		atts, err := s.engine.GetAttestations(itemID)
		if err != nil {
			writeJSONError(w, "failed to load attestations", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, atts)

	default:
		writeJSONError(w, "unknown item resource", http.StatusNotFound)
	}
}

// handleSubmitEvent handles POST /api/events.
func (s *Server) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"accepted": false,
			"category": string(node.CategoryFormat),
			"error":    "invalid request body",
		})
		return
	}
	if err := s.engine.SubmitEvent(&ev); err != nil {
		status := http.StatusUnprocessableEntity
		if node.CategoryOf(err) == node.CategoryStore {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, map[string]any{
			"accepted": false,
			"category": string(node.CategoryOf(err)),
			"error":    err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"accepted": true, "event_id": ev.EventID})
}

// handleProposeEvent handles POST /api/events/propose.
func (s *Server) handleProposeEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var partial event.Event
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	candidate, err := s.engine.ProposeEvent(&partial)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, candidate)
}

// handleSignEvent handles POST /api/events/sign: the peer co-signing path.
func (s *Server) handleSignEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var ev event.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sig, err := s.engine.SignEvent(&ev)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// handleSignCheckpoint handles POST /api/checkpoints/sign.
func (s *Server) handleSignCheckpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.checkpoints == nil {
		writeJSONError(w, "checkpoint engine not available", http.StatusServiceUnavailable)
		return
	}
	var cp checkpoint.Checkpoint
	if err := json.NewDecoder(r.Body).Decode(&cp); err != nil {
		writeJSONError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	sig, err := s.checkpoints.CoSignLocal(&cp)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusUnprocessableEntity)
		return
	}
	writeJSON(w, http.StatusOK, sig)
}

// handleLatestCheckpoint handles GET /api/checkpoints/latest.
func (s *Server) handleLatestCheckpoint(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.checkpoints == nil {
		writeJSONError(w, "checkpoint engine not available", http.StatusServiceUnavailable)
		return
	}
	cp, err := s.checkpoints.Latest()
	if err != nil {
		writeJSONError(w, "failed to load checkpoint", http.StatusInternalServerError)
		return
	}
	if cp == nil {
		writeJSONError(w, "no checkpoint yet", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, cp)
}

// handleManufacturer handles GET /api/manufacturers/{id}.
func (s *Server) handleManufacturer(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/manufacturers/")
	if id == "" {
		writeJSONError(w, "manufacturer id required", http.StatusBadRequest)
		return
	}
	m, err := s.engine.GetManufacturer(id)
	if err != nil {
		writeJSONError(w, "failed to load manufacturer", http.StatusInternalServerError)
		return
	}
	if m == nil {
		writeJSONError(w, "manufacturer not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleAuthenticator handles GET /api/authenticators/{id}.
func (s *Server) handleAuthenticator(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/authenticators/")
	if id == "" {
		writeJSONError(w, "authenticator id required", http.StatusBadRequest)
		return
	}
	a, err := s.engine.GetAuthenticator(id)
	if err != nil {
		writeJSONError(w, "failed to load authenticator", http.StatusInternalServerError)
		return
	}
	if a == nil {
		writeJSONError(w, "authenticator not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

// handleOperators handles GET /api/operators.
func (s *Server) handleOperators(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.registry.All())
}

// handleCommittee handles GET /api/committee?offer_id=...: a deterministic
// dry run of the committee lottery for a given offer, so any party can audit
// the fee split before settling.
func (s *Server) handleCommittee(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	offerID := r.URL.Query().Get("offer_id")
	if offerID == "" {
		writeJSONError(w, "offer_id required", http.StatusBadRequest)
		return
	}
	totalFee := uint64(0)
	if raw := r.URL.Query().Get("total_fee_sats"); raw != "" {
		if _, err := json.Number(raw).Int64(); err != nil {
			writeJSONError(w, "total_fee_sats must be an integer", http.StatusBadRequest)
			return
		}
		n, _ := json.Number(raw).Int64()
		totalFee = uint64(n)
	}

	root := event.ZeroHash
	if s.checkpoints != nil {
		if r, err := s.checkpoints.LatestRoot(); err == nil {
			root = r
		}
	}
	active := s.registry.Active(
		nowMs(), s.cfg.ActiveSignatureRatio, s.cfg.ActiveInactivityMs)
	sel, err := committee.Select(offerID, root, s.cfg.ChainID, active,
		s.cfg.CommitteeK, s.engine.QuorumM(), totalFee)
	if err != nil {
		writeJSONError(w, err.Error(), http.StatusConflict)
		return
	}
	writeJSON(w, http.StatusOK, sel)
}

func nowMs() int64 {
	return time.Now().UnixMilli()
}

// handleHealth handles GET /health.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"operator_id": s.engine.OperatorID(),
		"operators":   s.registry.Size(),
	})
}
