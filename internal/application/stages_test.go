package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeFrame(t *testing.T, dir, name string, w, h int) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, pngFrame(t, w, h), 0o644))
	return path
}

func TestAssessAlignmentFeasibility_AcceptsSimilarFrames(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := t.TempDir()
	before := writeFrame(t, dir, "a.png", 100, 100)
	after := writeFrame(t, dir, "b.png", 100, 100)

	feasible, reason := env.svc.assessAlignmentFeasibility(before, after)
	require.True(t, feasible)
	require.Empty(t, reason)
}

func TestAssessAlignmentFeasibility_RejectsSizeMismatch(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := t.TempDir()
	before := writeFrame(t, dir, "a.png", 100, 100)
	after := writeFrame(t, dir, "b.png", 400, 400)

	feasible, reason := env.svc.assessAlignmentFeasibility(before, after)
	require.False(t, feasible)
	require.Contains(t, reason, "dimension delta")
}

func TestAssessAlignmentFeasibility_UnreadableFrameDoesNotBlock(t *testing.T) {
	env := newTestEnv(t, nil)
	dir := t.TempDir()
	after := writeFrame(t, dir, "b.png", 100, 100)

	feasible, _ := env.svc.assessAlignmentFeasibility(filepath.Join(dir, "absent.png"), after)
	require.True(t, feasible)
}

func TestParseLastJSON(t *testing.T) {
	summary := parseLastJSON("progress 10%\nprogress 90%\n{\"added\": 2, \"removed\": 1}")
	require.NotNil(t, summary)
	require.InDelta(t, 2.0, summary["added"].(float64), 1e-9)

	require.Nil(t, parseLastJSON(""))
	require.Nil(t, parseLastJSON("plain text only"))
}

func TestThumbnailMeanDiff_IdenticalIsZero(t *testing.T) {
	dir := t.TempDir()
	a := writeFrame(t, dir, "a.png", 50, 50)

	imgA, err := decodeImage(a)
	require.NoError(t, err)
	require.InDelta(t, 0.0, thumbnailMeanDiff(imgA, imgA, 32), 1e-9)
}

func TestRelativeDelta(t *testing.T) {
	require.InDelta(t, 0.0, relativeDelta(100, 100), 1e-9)
	require.InDelta(t, 0.5, relativeDelta(100, 200), 1e-9)
}
