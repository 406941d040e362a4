// Package api serves the operator HTTP API and the Prometheus endpoint.
package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/controller"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/logging"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/metrics"
)

var log = logging.Logger()

// Handlers implements the HTTP endpoints on top of a Controller.
type Handlers struct {
	ctrl *controller.Controller
}

// NewRouter returns the full route table.
func NewRouter(ctrl *controller.Controller) *mux.Router {
	h := &Handlers{ctrl: ctrl}

	r := mux.NewRouter()
	r.Use(logRequests)
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.Handle("/metrics", metrics.Handler(ctrl.Gatherer())).Methods("GET")

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", h.GetStatus).Methods("GET")
	api.HandleFunc("/diagnostics", h.GetDiagnostics).Methods("GET")
	api.HandleFunc("/scan-status", h.GetScanStatus).Methods("GET")

	api.HandleFunc("/config", h.GetConfig).Methods("GET")
	api.HandleFunc("/config", h.UpdateConfig).Methods("POST", "PATCH")
	api.HandleFunc("/targets", h.AddTargetSample).Methods("POST")
	api.HandleFunc("/targets/clear", h.ClearTargetSamples).Methods("POST")

	api.HandleFunc("/entries", h.ListEntries).Methods("GET")
	api.HandleFunc("/entries", h.AddEntry).Methods("POST")
	api.HandleFunc("/entries/{id}", h.UpdateEntry).Methods("PATCH")
	api.HandleFunc("/entries/{id}", h.DeleteEntry).Methods("DELETE")
	api.HandleFunc("/entries/{id}/scan", h.ScanEntry).Methods("POST")

	api.HandleFunc("/items", h.ListItems).Methods("GET")
	api.HandleFunc("/items/{id}", h.GetItem).Methods("GET")
	api.HandleFunc("/items/{id}", h.DeleteItem).Methods("DELETE")
	api.HandleFunc("/items/{id}/ready", h.SetReady).Methods("POST")
	api.HandleFunc("/items/{id}/reset", h.ResetItem).Methods("POST")
	api.HandleFunc("/items/{id}/path", h.SetItemPath).Methods("POST")

	api.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	api.HandleFunc("/jobs/cancel-all", h.CancelAll).Methods("POST")
	api.HandleFunc("/jobs/archive", h.ArchiveJobs).Methods("POST")
	api.HandleFunc("/jobs/archived", h.ListArchived).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.GetJob).Methods("GET")
	api.HandleFunc("/jobs/{id}", h.DeleteJob).Methods("DELETE")
	api.HandleFunc("/jobs/{id}/cancel", h.CancelJob).Methods("POST")

	api.HandleFunc("/workers", h.ListWorkers).Methods("GET")
	api.HandleFunc("/workers/{id}", h.DeleteWorker).Methods("DELETE")

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		log.Debug("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration", time.Since(start))
	})
}
