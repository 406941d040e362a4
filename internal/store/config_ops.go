package store

import (
	"fmt"
	"math"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/ranking"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

// ConfigPatch updates selected config fields. Nil fields are left unchanged.
type ConfigPatch struct {
	BaselineArgs           *string         `json:"baselineArgs"`
	FFprobePath            *string         `json:"ffprobePath"`
	TargetMbPerMinByHeight map[int]float64 `json:"targetMbPerMinByHeight"`
}

// TargetSample is the result of recording one measured MB-per-minute sample.
type TargetSample struct {
	Height int     `json:"height"`
	Count  int     `json:"count"`
	Avg    float64 `json:"avg"`
}

// Config returns a copy of the current config.
func (s *Store) Config() types.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneConfig(s.config)
}

// UpdateConfig applies patch. Changing the targets recomputes every item's ratio
// in the same transaction.
func (s *Store) UpdateConfig(patch ConfigPatch) (types.Config, error) {
	if patch.TargetMbPerMinByHeight != nil {
		if err := validateTargets(patch.TargetMbPerMinByHeight); err != nil {
			return types.Config{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := cloneConfig(s.config)
	if patch.BaselineArgs != nil {
		cfg.BaselineArgs = *patch.BaselineArgs
	}
	if patch.FFprobePath != nil {
		cfg.FFprobePath = *patch.FFprobePath
	}

	tx := s.begin()
	if patch.TargetMbPerMinByHeight != nil {
		cfg.TargetMbPerMinByHeight = make(map[int]float64, len(patch.TargetMbPerMinByHeight))
		for k, v := range patch.TargetMbPerMinByHeight {
			cfg.TargetMbPerMinByHeight[k] = v
		}
		s.stageRatios(tx, cfg.TargetMbPerMinByHeight)
	}
	tx.putConfig(cfg)
	if err := tx.commit(); err != nil {
		return types.Config{}, err
	}
	return cloneConfig(cfg), nil
}

// AddTargetSample records a measured MB-per-minute for a height and sets that
// bucket's target to the average of its samples, rounded to one decimal.
func (s *Store) AddTargetSample(height int, mbPerMin float64) (TargetSample, error) {
	if height <= 0 {
		return TargetSample{}, fmt.Errorf("%w: height must be positive", ErrValidation)
	}
	if mbPerMin <= 0 || math.IsNaN(mbPerMin) || math.IsInf(mbPerMin, 0) {
		return TargetSample{}, fmt.Errorf("%w: mbPerMin must be a positive number", ErrValidation)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := cloneConfig(s.config)
	samples := append(cfg.TargetSamplesByHeight[height], mbPerMin)
	cfg.TargetSamplesByHeight[height] = samples

	var sum float64
	for _, v := range samples {
		sum += v
	}
	avg := math.Round(sum/float64(len(samples))*10) / 10
	cfg.TargetMbPerMinByHeight[height] = avg

	tx := s.begin()
	s.stageRatios(tx, cfg.TargetMbPerMinByHeight)
	tx.putConfig(cfg)
	if err := tx.commit(); err != nil {
		return TargetSample{}, err
	}
	return TargetSample{Height: height, Count: len(samples), Avg: avg}, nil
}

// ClearTargetSamples drops every sample and restores the default targets.
func (s *Store) ClearTargetSamples() (types.Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cfg := cloneConfig(s.config)
	cfg.TargetSamplesByHeight = map[int][]float64{}
	cfg.TargetMbPerMinByHeight = types.DefaultTargets()

	tx := s.begin()
	s.stageRatios(tx, cfg.TargetMbPerMinByHeight)
	tx.putConfig(cfg)
	if err := tx.commit(); err != nil {
		return types.Config{}, err
	}
	return cloneConfig(cfg), nil
}

// stageRatios stages every item whose ratio changes under targets.
func (s *Store) stageRatios(tx *txn, targets map[int]float64) {
	for _, it := range sortedByID(s.items) {
		r := ranking.ForItem(it, targets)
		if r == it.Ratio {
			continue
		}
		next := *it
		next.Ratio = r
		tx.putItem(next)
	}
}

func validateTargets(targets map[int]float64) error {
	for h, v := range targets {
		if h <= 0 {
			return fmt.Errorf("%w: target height %d must be positive", ErrValidation, h)
		}
		if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: target for %d must be a positive number", ErrValidation, h)
		}
	}
	return nil
}
