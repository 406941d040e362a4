package transcode

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitArgs(t *testing.T) {
	args, err := SplitArgs(`-f av_mkv  -e x265 --audio-lang-list "eng,jpn" --crop '0:0:0:0'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"-f", "av_mkv", "-e", "x265", "--audio-lang-list", "eng,jpn", "--crop", "0:0:0:0"}, args)

	args, err = SplitArgs(`--title "My Movie"`)
	require.NoError(t, err)
	assert.Equal(t, []string{"--title", "My Movie"}, args)

	args, err = SplitArgs("   ")
	require.NoError(t, err)
	assert.Empty(t, args)

	_, err = SplitArgs(`--title "open`)
	assert.Error(t, err)
}

func TestSplitArgsEscapes(t *testing.T) {
	args, err := SplitArgs(`--title My\ Movie -e x265`)
	require.NoError(t, err)
	assert.Equal(t, []string{"--title", "My Movie", "-e", "x265"}, args)

	args, err = SplitArgs(`--title "say \"hi\""`)
	require.NoError(t, err)
	assert.Equal(t, []string{"--title", `say "hi"`}, args)

	// single quotes keep backslashes, so Windows paths go in single quotes
	args, err = SplitArgs(`--srt-file 'C:\subs\film.srt'`)
	require.NoError(t, err)
	assert.Equal(t, []string{"--srt-file", `C:\subs\film.srt`}, args)
}

func TestOutputExt(t *testing.T) {
	assert.Equal(t, ".mkv", OutputExt([]string{"-f", "av_mkv"}, ".mp4"))
	assert.Equal(t, ".mp4", OutputExt([]string{"--format", "av_mp4"}, ".mkv"))
	assert.Equal(t, ".mp4", OutputExt([]string{"--format=mp4"}, ".avi"))
	assert.Equal(t, ".avi", OutputExt([]string{"-e", "x265"}, ".avi"))
	assert.Equal(t, ".avi", OutputExt([]string{"-f"}, ".avi"))
}

func TestFailureText(t *testing.T) {
	assert.Equal(t, "cancelled: Cancelled by user", FailureText(&CancellationError{}))
	assert.Equal(t, "transcode failed: x265 [error]: bad preset",
		FailureText(&TranscodeError{ExitCode: 3, Tail: "x265 [error]: bad preset"}))
	assert.Equal(t, "transcode failed: HandBrakeCLI exited with code 2", FailureText(&TranscodeError{ExitCode: 2}))
	assert.Equal(t, "verify failed: output is empty", FailureText(&StepError{Step: "verify", Err: ErrOutputEmpty}))
	assert.Equal(t, "boom", FailureText(errors.New("boom")))
}
