package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/archive"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// ============================================================================
// Request bodies
// ============================================================================

// AddEntryRequest registers a root folder.
type AddEntryRequest struct {
	Path string `json:"path"`
	Name string `json:"name"`
	Args string `json:"args"`
}

// ReadyRequest opts an item in or out. A missing flag means true.
type ReadyRequest struct {
	Ready *bool `json:"ready"`
}

// PathRequest re-points an item.
type PathRequest struct {
	Path string `json:"path"`
}

// TargetRequest records one measured MB-per-minute sample.
type TargetRequest struct {
	Height   int     `json:"height"`
	MbPerMin float64 `json:"mbPerMin"`
}

// ArchiveRequest overrides the configured retention for one archival run.
type ArchiveRequest struct {
	MaxAge string `json:"maxAge"`
	Keep   *int   `json:"keep"`
}

// ArchiveResponse reports how many jobs were moved.
type ArchiveResponse struct {
	Archived int `json:"archived"`
}

// CancelResponse reports how many jobs were flagged.
type CancelResponse struct {
	OK              bool `json:"ok"`
	CancelRequested int  `json:"cancelRequested"`
}

// ============================================================================
// Server
// ============================================================================

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handlers) GetDiagnostics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Diagnostics())
}

func (h *Handlers) GetScanStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.ScanStatus())
}

// ============================================================================
// Config
// ============================================================================

func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Store().Config())
}

func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch store.ConfigPatch
	if err := decode(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	cfg, err := h.ctrl.Store().UpdateConfig(patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handlers) AddTargetSample(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	sample, err := h.ctrl.Store().AddTargetSample(req.Height, req.MbPerMin)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

func (h *Handlers) ClearTargetSamples(w http.ResponseWriter, r *http.Request) {
	cfg, err := h.ctrl.Store().ClearTargetSamples()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// ============================================================================
// Entries
// ============================================================================

func (h *Handlers) ListEntries(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Store().ListEntries())
}

func (h *Handlers) AddEntry(w http.ResponseWriter, r *http.Request) {
	var req AddEntryRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.ctrl.Store().AddEntry(req.Path, req.Name, req.Args)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, entry)
}

func (h *Handlers) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var patch store.EntryPatch
	if err := decode(r, &patch); err != nil {
		writeError(w, err)
		return
	}
	entry, err := h.ctrl.Store().UpdateEntry(mux.Vars(r)["id"], patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (h *Handlers) DeleteEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.Store().DeleteEntry(mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// ScanEntry starts a background scan and returns immediately.
func (h *Handlers) ScanEntry(w http.ResponseWriter, r *http.Request) {
	status, err := h.ctrl.StartScan(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, status)
}

// ============================================================================
// Items
// ============================================================================

// ListItems accepts entryId, status and sort query parameters.
func (h *Handlers) ListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.ctrl.Store().ListItems(store.ItemFilter{
		EntryID: q.Get("entryId"),
		Status:  types.ItemStatus(q.Get("status")),
		Sort:    q.Get("sort"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *Handlers) GetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.ctrl.Store().GetItem(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handlers) SetReady(w http.ResponseWriter, r *http.Request) {
	var req ReadyRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	ready := req.Ready == nil || *req.Ready
	item, err := h.ctrl.Store().SetReady(mux.Vars(r)["id"], ready)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handlers) ResetItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.ctrl.Store().ResetItem(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (h *Handlers) SetItemPath(w http.ResponseWriter, r *http.Request) {
	var req PathRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	item, err := h.ctrl.Store().SetItemPath(mux.Vars(r)["id"], req.Path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// DeleteItem honours ?cancelActive=true.
func (h *Handlers) DeleteItem(w http.ResponseWriter, r *http.Request) {
	cancel, err := boolParam(r, "cancelActive")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.ctrl.Store().DeleteItem(mux.Vars(r)["id"], cancel); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// ============================================================================
// Jobs
// ============================================================================

func (h *Handlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Store().ListJobs())
}

// GetJob looks in live state first, then in the archive.
func (h *Handlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.ctrl.LookupJob(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.ctrl.RequestCancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handlers) CancelAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.ctrl.CancelAll(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, CancelResponse{OK: true, CancelRequested: n})
}

// DeleteJob removes a terminal job. An active job is flagged for cancellation
// and the reply is 409.
func (h *Handlers) DeleteJob(w http.ResponseWriter, r *http.Request) {
	if err := h.ctrl.DeleteJob(r.Context(), mux.Vars(r)["id"]); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func (h *Handlers) ArchiveJobs(w http.ResponseWriter, r *http.Request) {
	var req ArchiveRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}
	maxAge, keep := h.ctrl.Retention()
	if req.MaxAge != "" {
		d, err := time.ParseDuration(req.MaxAge)
		if err != nil {
			writeError(w, validationf("maxAge: %v", err))
			return
		}
		maxAge = d
	}
	if req.Keep != nil {
		keep = *req.Keep
	}
	n, err := h.ctrl.ArchiveJobs(r.Context(), maxAge, keep)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ArchiveResponse{Archived: n})
}

// ListArchived accepts itemId and limit query parameters.
func (h *Handlers) ListArchived(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := archive.Filter{ItemID: q.Get("itemId")}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, validationf("limit must be a non-negative integer"))
			return
		}
		filter.Limit = n
	}
	jobs, err := h.ctrl.ArchivedJobs(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

// ============================================================================
// Workers
// ============================================================================

func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.ctrl.Store().ListWorkers(h.ctrl.Liveness()))
}

// DeleteWorker honours ?cancelActive=true.
func (h *Handlers) DeleteWorker(w http.ResponseWriter, r *http.Request) {
	cancel, err := boolParam(r, "cancelActive")
	if err != nil {
		writeError(w, err)
		return
	}
	if err := h.ctrl.Store().DeleteWorker(mux.Vars(r)["id"], cancel); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

func boolParam(r *http.Request, name string) (bool, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, validationf("%s must be a boolean", name)
	}
	return b, nil
}
