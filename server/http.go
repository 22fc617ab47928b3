package main

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/felixge/httpsnoop"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/burntcarrot/pairpad/jupiter"
)

// documentInfo describes a document in the admin API.
type documentInfo struct {
	Path         string      `json:"path"`
	Length       int         `json:"length"`
	Checksum     string      `json:"checksum"`
	Participants []uuid.UUID `json:"participants"`
}

// newRouter serves participants on / and /ws, and the host's admin API
// under /documents.
func newRouter(h *hub) *mux.Router {
	r := mux.NewRouter()
	r.Use(func(handler http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			m := httpsnoop.CaptureMetrics(handler, w, req)
			h.log.WithFields(logrus.Fields{
				"method":   req.Method,
				"url":      req.URL.String(),
				"duration": m.Duration,
				"status":   m.Code,
			}).Debug("handled")
		})
	})

	ws := func(w http.ResponseWriter, req *http.Request) { serveWs(h, w, req) }
	r.Path("/").HandlerFunc(ws)
	r.Path("/ws").HandlerFunc(ws)

	r.Methods(http.MethodGet).Path("/documents").HandlerFunc(h.listDocuments)
	r.Methods(http.MethodGet).Path("/documents/{path:.+}").HandlerFunc(h.getDocument)
	r.Methods(http.MethodPut).Path("/documents/{path:.+}").HandlerFunc(h.putDocument)
	r.Methods(http.MethodDelete).Path("/documents/{path:.+}").HandlerFunc(h.deleteDocument)
	return r
}

func (h *hub) listDocuments(w http.ResponseWriter, r *http.Request) {
	var docs []documentInfo
	err := h.do(r.Context(), func() {
		docs = make([]documentInfo, 0, len(h.docs))
		for _, path := range h.paths() {
			content := h.docs[path].String()
			info := documentInfo{
				Path:         string(path),
				Length:       h.docs[path].Len(),
				Checksum:     jupiter.ComputeChecksum(content).String(),
				Participants: []uuid.UUID{},
			}
			if ds, ok := h.session.Server().Get(path); ok {
				info.Participants = ds.Participants()
			}
			docs = append(docs, info)
		}
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, docs)
}

func (h *hub) getDocument(w http.ResponseWriter, r *http.Request) {
	path := jupiter.Path(mux.Vars(r)["path"])
	var (
		content string
		found   bool
	)
	err := h.do(r.Context(), func() {
		if doc, ok := h.docs[path]; ok {
			content, found = doc.String(), true
		}
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !found {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, content)
}

// putDocument replaces the content of a document as a host edit, creating the
// document if needed.
func (h *hub) putDocument(w http.ResponseWriter, r *http.Request) {
	path := jupiter.Path(mux.Vars(r)["path"])
	if !h.known(path) {
		http.Error(w, "document is not inside a shared project", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.do(r.Context(), func() { h.edit(path, string(body)) }); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *hub) deleteDocument(w http.ResponseWriter, r *http.Request) {
	path := jupiter.Path(mux.Vars(r)["path"])
	var removed bool
	if err := h.do(r.Context(), func() { removed = h.removeDocument(path) }); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if !removed {
		http.Error(w, "document not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// known reports whether path may hold a document in this session.
func (h *hub) known(path jupiter.Path) bool {
	project := path.Project()
	if project == "" || project == string(path) {
		return false
	}
	if len(h.cfg.Projects) == 0 {
		return true
	}
	_, ok := h.cfg.Projects[project]
	return ok
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
