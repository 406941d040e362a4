package transcode

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// SplitArgs splits an argument string with POSIX shell word rules: single
// or double quotes group words and a backslash escapes the next character
// outside single quotes. An unterminated quote is an error.
func SplitArgs(s string) ([]string, error) {
	args, err := shlex.Split(s)
	if err != nil {
		return nil, fmt.Errorf("split arguments %q: %w", s, err)
	}
	return args, nil
}

// OutputExt picks the output extension from -f/--format (mkv or mp4),
// falling back to the source extension.
func OutputExt(args []string, sourceExt string) string {
	for i, a := range args {
		var format string
		switch {
		case (a == "-f" || a == "--format") && i+1 < len(args):
			format = args[i+1]
		case strings.HasPrefix(a, "--format="):
			format = strings.TrimPrefix(a, "--format=")
		default:
			continue
		}
		format = strings.ToLower(format)
		if strings.Contains(format, "mkv") {
			return ".mkv"
		}
		if strings.Contains(format, "mp4") {
			return ".mp4"
		}
	}
	return sourceExt
}
