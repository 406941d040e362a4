package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/controller"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// Client talks to the operator API. Error replies are converted back into
// errors wrapping the store sentinels.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the server at base, e.g. http://host:8856.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

var statusSentinels = []struct {
	err    error
	status int
}{
	{store.ErrValidation, http.StatusBadRequest},
	{store.ErrNotFound, http.StatusNotFound},
	{store.ErrInvalidState, http.StatusConflict},
	{store.ErrConflict, http.StatusConflict},
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd *bytes.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	} else {
		rd = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e ErrorResponse
		if err := json.NewDecoder(resp.Body).Decode(&e); err != nil || e.Error == "" {
			e.Error = resp.Status
		}
		return errorFor(resp.StatusCode, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func errorFor(code int, msg string) error {
	for _, m := range statusSentinels {
		if rest, found := strings.CutPrefix(msg, m.err.Error()); found && code == m.status {
			return fmt.Errorf("%w%s", m.err, rest)
		}
	}
	for _, m := range statusSentinels {
		if code == m.status {
			return fmt.Errorf("%w: %s", m.err, msg)
		}
	}
	return errors.New(msg)
}

// Status returns the server summary.
func (c *Client) Status(ctx context.Context) (controller.Status, error) {
	var out controller.Status
	err := c.do(ctx, http.MethodGet, "/api/status", nil, &out)
	return out, err
}

// Diagnostics returns the server's tool setup.
func (c *Client) Diagnostics(ctx context.Context) (controller.Diagnostics, error) {
	var out controller.Diagnostics
	err := c.do(ctx, http.MethodGet, "/api/diagnostics", nil, &out)
	return out, err
}

// ScanStatus returns the current or last scan.
func (c *Client) ScanStatus(ctx context.Context) (types.ScanStatus, error) {
	var out types.ScanStatus
	err := c.do(ctx, http.MethodGet, "/api/scan-status", nil, &out)
	return out, err
}

func (c *Client) Config(ctx context.Context) (types.Config, error) {
	var out types.Config
	err := c.do(ctx, http.MethodGet, "/api/config", nil, &out)
	return out, err
}

func (c *Client) UpdateConfig(ctx context.Context, patch store.ConfigPatch) (types.Config, error) {
	var out types.Config
	err := c.do(ctx, http.MethodPatch, "/api/config", patch, &out)
	return out, err
}

func (c *Client) AddTargetSample(ctx context.Context, height int, mbPerMin float64) (store.TargetSample, error) {
	var out store.TargetSample
	err := c.do(ctx, http.MethodPost, "/api/targets", TargetRequest{Height: height, MbPerMin: mbPerMin}, &out)
	return out, err
}

func (c *Client) ClearTargetSamples(ctx context.Context) (types.Config, error) {
	var out types.Config
	err := c.do(ctx, http.MethodPost, "/api/targets/clear", nil, &out)
	return out, err
}

func (c *Client) ListEntries(ctx context.Context) ([]types.Entry, error) {
	var out []types.Entry
	err := c.do(ctx, http.MethodGet, "/api/entries", nil, &out)
	return out, err
}

func (c *Client) AddEntry(ctx context.Context, req AddEntryRequest) (types.Entry, error) {
	var out types.Entry
	err := c.do(ctx, http.MethodPost, "/api/entries", req, &out)
	return out, err
}

func (c *Client) UpdateEntry(ctx context.Context, id string, patch store.EntryPatch) (types.Entry, error) {
	var out types.Entry
	err := c.do(ctx, http.MethodPatch, "/api/entries/"+url.PathEscape(id), patch, &out)
	return out, err
}

func (c *Client) DeleteEntry(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/entries/"+url.PathEscape(id), nil, nil)
}

// ScanEntry starts a background scan of an entry.
func (c *Client) ScanEntry(ctx context.Context, id string) (types.ScanStatus, error) {
	var out types.ScanStatus
	err := c.do(ctx, http.MethodPost, "/api/entries/"+url.PathEscape(id)+"/scan", nil, &out)
	return out, err
}

func (c *Client) ListItems(ctx context.Context, filter store.ItemFilter) ([]types.Item, error) {
	q := url.Values{}
	if filter.EntryID != "" {
		q.Set("entryId", filter.EntryID)
	}
	if filter.Status != "" {
		q.Set("status", string(filter.Status))
	}
	if filter.Sort != "" {
		q.Set("sort", filter.Sort)
	}
	var out []types.Item
	err := c.do(ctx, http.MethodGet, withQuery("/api/items", q), nil, &out)
	return out, err
}

func (c *Client) GetItem(ctx context.Context, id string) (types.Item, error) {
	var out types.Item
	err := c.do(ctx, http.MethodGet, "/api/items/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) SetReady(ctx context.Context, id string, ready bool) (types.Item, error) {
	var out types.Item
	err := c.do(ctx, http.MethodPost, "/api/items/"+url.PathEscape(id)+"/ready", ReadyRequest{Ready: &ready}, &out)
	return out, err
}

func (c *Client) ResetItem(ctx context.Context, id string) (types.Item, error) {
	var out types.Item
	err := c.do(ctx, http.MethodPost, "/api/items/"+url.PathEscape(id)+"/reset", nil, &out)
	return out, err
}

func (c *Client) SetItemPath(ctx context.Context, id, path string) (types.Item, error) {
	var out types.Item
	err := c.do(ctx, http.MethodPost, "/api/items/"+url.PathEscape(id)+"/path", PathRequest{Path: path}, &out)
	return out, err
}

func (c *Client) DeleteItem(ctx context.Context, id string, cancelActive bool) error {
	q := url.Values{}
	if cancelActive {
		q.Set("cancelActive", "true")
	}
	return c.do(ctx, http.MethodDelete, withQuery("/api/items/"+url.PathEscape(id), q), nil, nil)
}

func (c *Client) ListJobs(ctx context.Context) ([]types.JobView, error) {
	var out []types.JobView
	err := c.do(ctx, http.MethodGet, "/api/jobs", nil, &out)
	return out, err
}

func (c *Client) GetJob(ctx context.Context, id string) (types.Job, error) {
	var out types.Job
	err := c.do(ctx, http.MethodGet, "/api/jobs/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) CancelJob(ctx context.Context, id string) (types.Job, error) {
	var out types.Job
	err := c.do(ctx, http.MethodPost, "/api/jobs/"+url.PathEscape(id)+"/cancel", nil, &out)
	return out, err
}

// CancelAll flags every active job and returns how many were flagged.
func (c *Client) CancelAll(ctx context.Context) (int, error) {
	var out CancelResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/cancel-all", nil, &out)
	return out.CancelRequested, err
}

func (c *Client) DeleteJob(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/jobs/"+url.PathEscape(id), nil, nil)
}

// ArchiveJobs runs one archival pass. Zero values use the server's retention.
func (c *Client) ArchiveJobs(ctx context.Context, maxAge time.Duration, keep *int) (int, error) {
	req := ArchiveRequest{Keep: keep}
	if maxAge > 0 {
		req.MaxAge = maxAge.String()
	}
	var out ArchiveResponse
	err := c.do(ctx, http.MethodPost, "/api/jobs/archive", req, &out)
	return out.Archived, err
}

func (c *Client) ArchivedJobs(ctx context.Context, itemID string, limit int) ([]types.Job, error) {
	q := url.Values{}
	if itemID != "" {
		q.Set("itemId", itemID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	var out []types.Job
	err := c.do(ctx, http.MethodGet, withQuery("/api/jobs/archived", q), nil, &out)
	return out, err
}

func (c *Client) ListWorkers(ctx context.Context) ([]types.WorkerView, error) {
	var out []types.WorkerView
	err := c.do(ctx, http.MethodGet, "/api/workers", nil, &out)
	return out, err
}

func (c *Client) DeleteWorker(ctx context.Context, id string, cancelActive bool) error {
	q := url.Values{}
	if cancelActive {
		q.Set("cancelActive", "true")
	}
	return c.do(ctx, http.MethodDelete, withQuery("/api/workers/"+url.PathEscape(id), q), nil, nil)
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
