// Package handler exposes record stores over HTTP using the resource
// mapping RemoteStore speaks, one collection per record type.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/stevemurr/recstore/record"
	"github.com/stevemurr/recstore/service"
	"github.com/stevemurr/recstore/store"
)

// Handler holds the served stores and registers routes.
type Handler struct {
	stores map[string]store.Store
	logger *slog.Logger
	mux    *http.ServeMux
}

// New creates a Handler serving each store under /{collection}.
func New(stores map[string]store.Store, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{stores: stores, logger: logger, mux: http.NewServeMux()}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

func (h *Handler) routes() {
	// Health / status
	h.mux.HandleFunc("GET /{$}", h.root)
	h.mux.HandleFunc("GET /health", h.health)

	// --- Collection endpoints ---
	h.mux.HandleFunc("GET /{collection}/{$}", h.withStore(h.find))
	h.mux.HandleFunc("POST /{collection}/{$}", h.withStore(h.create))
	h.mux.HandleFunc("GET /{collection}/{id}", h.withStore(h.findByID))
	h.mux.HandleFunc("PUT /{collection}/{id}", h.withStore(h.update))
	h.mux.HandleFunc("DELETE /{collection}/{id}", h.withStore(h.delete))

	// --- Bulk endpoints ---
	h.mux.HandleFunc("POST /{collection}/bulk", h.withStore(h.createMany))
	h.mux.HandleFunc("PUT /{collection}/bulk", h.withStore(h.updateMany))
	h.mux.HandleFunc("DELETE /{collection}/bulk", h.withStore(h.deleteMany))
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *Handler) errorStatus(r *http.Request, err error) int {
	switch {
	case errors.Is(err, store.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, store.ErrDuplicateID), errors.Is(err, service.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, store.ErrInvalidRecord), errors.Is(err, service.ErrValidationFailed):
		return http.StatusBadRequest
	}
	h.logger.Error("store operation failed", "method", r.Method, "path", r.URL.Path, "error", err)
	return http.StatusInternalServerError
}

func (h *Handler) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, h.errorStatus(r, err), err.Error())
}

// writeBulkError reports a bulk request in which some elements failed. The
// results of the elements that succeeded are sent along with the error.
func (h *Handler) writeBulkError(w http.ResponseWriter, r *http.Request, recs []record.Record, err error) {
	if recs == nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, h.errorStatus(r, err), store.BulkFailure{Results: recs, Detail: err.Error()})
}

type storeHandler func(w http.ResponseWriter, r *http.Request, s store.Store)

func (h *Handler) withStore(fn storeHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		collection := r.PathValue("collection")
		s, ok := h.stores[collection]
		if !ok {
			writeError(w, http.StatusNotFound, fmt.Sprintf("unknown collection %q", collection))
			return
		}
		fn(w, r, s)
	}
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0, len(h.stores))
	for n := range h.stores {
		names = append(names, n)
	}
	sort.Strings(names)
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"service":     "recstore",
		"collections": names,
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------- single-record endpoints ----------

func (h *Handler) find(w http.ResponseWriter, r *http.Request, s store.Store) {
	filter, opts, err := store.DecodeQuery(r.URL.Query())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	recs, err := s.Find(r.Context(), filter, opts)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if recs == nil {
		recs = []record.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request, s store.Store) {
	var incoming record.Record
	if err := readJSON(r, &incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rec, err := s.Create(r.Context(), incoming)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handler) findByID(w http.ResponseWriter, r *http.Request, s store.Store) {
	rec, err := s.FindByID(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request, s store.Store) {
	var incoming record.Record
	if err := readJSON(r, &incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	rec, err := s.Update(r.Context(), r.PathValue("id"), incoming)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request, s store.Store) {
	id := r.PathValue("id")
	if err := s.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// ---------- bulk endpoints ----------

func (h *Handler) createMany(w http.ResponseWriter, r *http.Request, s store.Store) {
	var incoming []record.Record
	if err := readJSON(r, &incoming); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	recs, err := s.CreateMany(r.Context(), incoming)
	if err != nil {
		h.writeBulkError(w, r, recs, err)
		return
	}
	writeJSON(w, http.StatusCreated, recs)
}

func (h *Handler) updateMany(w http.ResponseWriter, r *http.Request, s store.Store) {
	var patches []record.Patch
	if err := readJSON(r, &patches); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	recs, err := s.UpdateMany(r.Context(), patches)
	if err != nil {
		h.writeBulkError(w, r, recs, err)
		return
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handler) deleteMany(w http.ResponseWriter, r *http.Request, s store.Store) {
	var ids []string
	if err := readJSON(r, &ids); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := s.DeleteMany(r.Context(), ids); err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "count": len(ids)})
}
