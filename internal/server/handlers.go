package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"

	"PerpSettle/internal/ingestion"
)

const defaultPageLimit = 50

// ingestSubjects maps URL event types to the synthetic subject used
// when an event arrives over HTTP instead of NATS. The orchestrator
// resolves event types by subject prefix, so these must align with the
// stream subjects.
var ingestSubjects = map[string]string{
	"versions":    "settle.versions.http",
	"settlements": "settle.settlements.http",
	"intents":     "settle.intents.http",
	"protection":  "settle.protection.http",
	"claims":      "settle.claims.http",
}

func (s *Server) registerRoutes(mux *runtime.ServeMux) error {
	routes := []struct {
		method  string
		pattern string
		handler runtime.HandlerFunc
	}{
		{"GET", "/v1/accounts/{account}", s.handleGetAccount},
		{"GET", "/v1/accounts/{account}/checkpoints", s.handleGetCheckpointHistory},
		{"GET", "/v1/accounts/{account}/checkpoints/{epoch}", s.handleGetCheckpoint},
		{"GET", "/v1/markets/{market}/global", s.handleGetGlobal},
		{"GET", "/v1/markets/{market}/versions", s.handleGetVersions},
		{"GET", "/v1/admin/integrity", s.handleVerifyIntegrity},
		{"POST", "/v1/ingest/{event_type}", s.handleIngest},
	}

	for _, r := range routes {
		if err := mux.HandlePath(r.method, r.pattern, r.handler); err != nil {
			return err
		}
	}
	return nil
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account, err := uuid.Parse(pathParams["account"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	resp, err := s.queryService.GetAccount(r.Context(), account)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetCheckpoint(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account, err := uuid.Parse(pathParams["account"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}
	epoch, err := strconv.ParseInt(pathParams["epoch"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid epoch")
		return
	}

	resp, err := s.queryService.GetCheckpoint(r.Context(), account, epoch)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetCheckpointHistory(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	account, err := uuid.Parse(pathParams["account"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid account id")
		return
	}

	limit := queryInt(r, "limit", defaultPageLimit)
	var beforeEpoch *int64
	if v := r.URL.Query().Get("before_epoch"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before_epoch")
			return
		}
		beforeEpoch = &n
	}

	resp, err := s.queryService.GetCheckpointHistory(r.Context(), account, limit, beforeEpoch)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"checkpoints": resp})
}

func (s *Server) handleGetGlobal(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	resp, err := s.queryService.GetGlobal(r.Context(), pathParams["market"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetVersions(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	limit := queryInt(r, "limit", defaultPageLimit)
	var beforeTimestamp *int64
	if v := r.URL.Query().Get("before_timestamp"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid before_timestamp")
			return
		}
		beforeTimestamp = &n
	}

	resp, err := s.queryService.GetVersions(r.Context(), pathParams["market"], limit, beforeTimestamp)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"versions": resp})
}

func (s *Server) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request, _ map[string]string) {
	report, err := s.queryService.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleIngest accepts a single event over HTTP and waits for the core
// to accept or reject it. NATS remains the high-throughput path; this
// endpoint exists for tooling and backfills.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request, pathParams map[string]string) {
	subject, ok := ingestSubjects[pathParams["event_type"]]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown event type")
		return
	}
	if s.ingestChan == nil {
		writeError(w, http.StatusServiceUnavailable, "ingestion not running")
		return
	}

	body := http.MaxBytesReader(w, r.Body, 1<<20)
	defer body.Close()
	var payload json.RawMessage
	if err := json.NewDecoder(body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	done := make(chan bool, 1)
	raw := ingestion.RawEvent{
		Subject:   subject,
		Data:      payload,
		Timestamp: time.Now(),
		AckFunc:   func() { done <- true },
		NakFunc:   func() { done <- false },
	}

	select {
	case s.ingestChan <- raw:
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
		return
	}

	select {
	case accepted := <-done:
		if accepted {
			writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
		} else {
			writeError(w, http.StatusUnprocessableEntity, "event rejected")
		}
	case <-r.Context().Done():
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	}
}

// --- helpers ---

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
