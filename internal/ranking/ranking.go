// Package ranking estimates how much space transcoding an item would save and
// orders items by that estimate.
package ranking

import (
	"math"
	"sort"

	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

const bytesPerMB = 1024 * 1024

// Bucket selects the configured height key used for a given video height.
//
// An exact match wins. Otherwise the nearest key below height is used, and
// heights below every key fall back to the smallest key. ok is false only when
// targets is empty.
func Bucket(height int, targets map[int]float64) (key int, ok bool) {
	if len(targets) == 0 {
		return 0, false
	}
	if _, exact := targets[height]; exact {
		return height, true
	}

	keys := sortedKeys(targets)
	key = keys[0]
	for _, k := range keys {
		if k > height {
			break
		}
		key = k
	}
	return key, true
}

// Compute returns the savings estimate for one file.
//
// targetBytes = durationSec/60 * mbPerMin * 1024 * 1024. Files without a
// duration, a height or a matching target get a zero ratio.
func Compute(sizeBytes int64, durationSec float64, height int, targets map[int]float64) types.Ratio {
	if durationSec <= 0 || height <= 0 {
		return types.Ratio{}
	}
	key, ok := Bucket(height, targets)
	if !ok {
		return types.Ratio{}
	}
	mbPerMin := targets[key]
	if mbPerMin <= 0 {
		return types.Ratio{}
	}

	target := durationSec / 60 * mbPerMin * bytesPerMB
	savings := float64(sizeBytes) - target

	return types.Ratio{
		TargetBytes:  int64(target),
		SavingsBytes: int64(savings),
		SavingsPct:   savingsPct(savings, sizeBytes),
	}
}

// ForItem computes the ratio from an item's stored size and metadata.
func ForItem(item *types.Item, targets map[int]float64) types.Ratio {
	return Compute(item.SizeBytes, item.DurationSec, item.Height, targets)
}

// Less reports whether a ranks before b: savingsBytes desc, savingsPct desc, id asc.
func Less(a, b *types.Item) bool {
	if a.Ratio.SavingsBytes != b.Ratio.SavingsBytes {
		return a.Ratio.SavingsBytes > b.Ratio.SavingsBytes
	}
	if a.Ratio.SavingsPct != b.Ratio.SavingsPct {
		return a.Ratio.SavingsPct > b.Ratio.SavingsPct
	}
	return a.ID < b.ID
}

// Sort orders items best first. Items with no savings stay in the result.
func Sort(items []*types.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return Less(items[i], items[j])
	})
}

// Best returns the top ranked item, or nil for an empty slice.
func Best(items []*types.Item) *types.Item {
	var best *types.Item
	for _, it := range items {
		if best == nil || Less(it, best) {
			best = it
		}
	}
	return best
}

func savingsPct(savings float64, sizeBytes int64) float64 {
	if sizeBytes <= 0 {
		return 0
	}
	return math.Round(savings/float64(sizeBytes)*10000) / 10000
}

func sortedKeys(targets map[int]float64) []int {
	keys := make([]int, 0, len(targets))
	for k := range targets {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
