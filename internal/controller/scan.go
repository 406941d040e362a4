package controller

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/scanner"
	"github.com/EnviralDesign/media-spacesaver-suite/internal/store"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// ScanStatus returns the running scan, or the last finished one.
func (c *Controller) ScanStatus() types.ScanStatus {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	return c.scan
}

// StartScan scans an entry in the background. It fails with ErrConflict while
// another scan runs.
func (c *Controller) StartScan(entryID string) (types.ScanStatus, error) {
	entry, err := c.store.GetEntry(entryID)
	if err != nil {
		return types.ScanStatus{}, err
	}
	if err := c.beginScan(entry); err != nil {
		return types.ScanStatus{}, err
	}

	c.scanWg.Add(1)
	go func() {
		defer c.scanWg.Done()
		if _, err := c.runScan(c.ctx, entry); err != nil {
			log.Error("Scan failed", "entryID", entry.ID, "error", err)
		}
	}()
	return c.ScanStatus(), nil
}

// ScanEntry scans an entry and waits for the result.
func (c *Controller) ScanEntry(ctx context.Context, entryID string) (store.ScanResult, error) {
	entry, err := c.store.GetEntry(entryID)
	if err != nil {
		return store.ScanResult{}, err
	}
	if err := c.beginScan(entry); err != nil {
		return store.ScanResult{}, err
	}
	return c.runScan(ctx, entry)
}

// ScanAll scans every entry in name order. An unavailable root is logged and
// skipped; other failures stop the run.
func (c *Controller) ScanAll(ctx context.Context) error {
	for _, entry := range c.store.ListEntries() {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, err := c.ScanEntry(ctx, entry.ID)
		switch {
		case err == nil:
		case errors.Is(err, scanner.ErrRootUnavailable), errors.Is(err, store.ErrNotFound):
			log.Warn("Skipping entry", "entryID", entry.ID, "error", err)
		default:
			return fmt.Errorf("scan entry %s: %w", entry.ID, err)
		}
	}
	return nil
}

func (c *Controller) beginScan(entry types.Entry) error {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()

	if c.scan.Active {
		return fmt.Errorf("%w: scan of entry %s is running", store.ErrConflict, c.scan.EntryID)
	}
	now := c.config.Now()
	c.scan = types.ScanStatus{
		Active:    true,
		EntryID:   entry.ID,
		EntryName: entry.Name,
		StartedAt: &now,
		UpdatedAt: &now,
	}
	return nil
}

func (c *Controller) runScan(ctx context.Context, entry types.Entry) (store.ScanResult, error) {
	start := time.Now()
	defer c.finishScan()

	sc := scanner.New(c.prober(), c.config.ScanConcurrency)
	known := c.store.ItemFingerprints(entry.ID)
	discovered, err := sc.Scan(ctx, entry.Path, known, c.scanProgress)
	if err != nil {
		return store.ScanResult{}, err
	}
	res, err := c.store.UpsertItemsFromScan(entry.ID, known, discovered)
	if err != nil {
		return store.ScanResult{}, err
	}
	c.metrics.RecordScan(time.Since(start))
	c.refreshGauges()
	return res, nil
}

func (c *Controller) scanProgress(total, done int, current string) {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	now := c.config.Now()
	c.scan.Total = total
	c.scan.Done = done
	c.scan.CurrentPath = current
	c.scan.UpdatedAt = &now
}

func (c *Controller) finishScan() {
	c.scanMu.Lock()
	defer c.scanMu.Unlock()
	now := c.config.Now()
	c.scan.Active = false
	c.scan.CurrentPath = ""
	c.scan.UpdatedAt = &now
	c.scan.FinishedAt = &now
}
