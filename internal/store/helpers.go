package store

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/EnviralDesign/media-spacesaver-suite/internal/workhours"
	"github.com/EnviralDesign/media-spacesaver-suite/pkg/types"
)

const maxIDLen = 128

func sortedByID[T any](m map[string]*T) []*T {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]*T, 0, len(keys))
	for _, k := range keys {
		out = append(out, m[k])
	}
	return out
}

// validateID rejects identifiers that are empty, too long or contain whitespace
// or control characters.
func validateID(kind, id string) error {
	if id == "" {
		return fmt.Errorf("%w: %s id is required", ErrValidation, kind)
	}
	if len(id) > maxIDLen {
		return fmt.Errorf("%w: %s id longer than %d characters", ErrValidation, kind, maxIDLen)
	}
	if strings.IndexFunc(id, func(r rune) bool { return unicode.IsSpace(r) || unicode.IsControl(r) }) >= 0 {
		return fmt.Errorf("%w: %s id %q contains whitespace", ErrValidation, kind, id)
	}
	return nil
}

const maxLogTail = 200

func truncateTail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= maxLogTail {
		return s
	}
	cut := maxLogTail
	for cut > 0 && !isRuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func isRuneStart(b byte) bool {
	return b&0xC0 != 0x80
}

func validateWindows(windows []types.WorkWindow) error {
	if err := workhours.Validate(windows); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
