package vision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadROIFile_MissingFileGivesEmpty(t *testing.T) {
	rois := LoadROIFile(filepath.Join(t.TempDir(), "absent.json"), 100, 100, zerolog.Nop())
	require.Empty(t, rois)
}

func TestLoadROIFile_MalformedJSONGivesEmpty(t *testing.T) {
	path := writeTemp(t, "rois.json", "{not json")
	rois := LoadROIFile(path, 100, 100, zerolog.Nop())
	require.Empty(t, rois)
}

func TestLoadROIFile_ReadsCanonicalShape(t *testing.T) {
	path := writeTemp(t, "rois.json", `{"rois":[{"box":[10,20,30,40],"class_name":"chip","confidence":0.8,"changed":true}]}`)
	rois := LoadROIFile(path, 100, 100, zerolog.Nop())
	require.Len(t, rois, 1)
	require.Equal(t, entity.Region{X1: 10, Y1: 20, X2: 30, Y2: 40}, rois[0].Region)
	require.Equal(t, "chip", rois[0].ClassName)
	require.NotNil(t, rois[0].Confidence)
	require.InDelta(t, 0.8, *rois[0].Confidence, 1e-9)
	require.True(t, rois[0].Changed)
}

func TestLoadROIFile_FallsBackThroughKnownKeys(t *testing.T) {
	path := writeTemp(t, "paired.json", `{"paired":[{"box_shared":[1,2,3,4]}]}`)
	rois := LoadROIFile(path, 100, 100, zerolog.Nop())
	require.Len(t, rois, 1)
	require.Equal(t, entity.Region{X1: 1, Y1: 2, X2: 3, Y2: 4}, rois[0].Region)
}

func TestLoadROIFile_AcceptsBareArray(t *testing.T) {
	path := writeTemp(t, "bare.json", `[{"bbox":[0,0,5,5]}]`)
	rois := LoadROIFile(path, 100, 100, zerolog.Nop())
	require.Len(t, rois, 1)
}

func TestLoadROIFile_ClampsBoxesToFrame(t *testing.T) {
	path := writeTemp(t, "big.json", `{"rois":[{"box":[-10,-10,500,500]}]}`)
	rois := LoadROIFile(path, 100, 80, zerolog.Nop())
	require.Len(t, rois, 1)
	require.Equal(t, entity.Region{X1: 0, Y1: 0, X2: 100, Y2: 80}, rois[0].Region)
}

func TestLoadROIFile_SkipsEntriesWithoutBoxes(t *testing.T) {
	path := writeTemp(t, "mixed.json", `{"rois":[{"label":"no box"},{"box":[1,1,9,9]}]}`)
	rois := LoadROIFile(path, 100, 100, zerolog.Nop())
	require.Len(t, rois, 1)
}

func TestWriteROIFile_RoundTrip(t *testing.T) {
	conf := 0.7
	path := filepath.Join(t.TempDir(), "out.json")
	in := []entity.ROI{{
		Region:      entity.Region{X1: 2, Y1: 3, X2: 20, Y2: 30, ClassName: "cap", Confidence: &conf},
		SourceStage: "object_diff",
		Changed:     true,
	}}
	require.NoError(t, WriteROIFile(path, in))

	out := LoadROIFile(path, 100, 100, zerolog.Nop())
	require.Len(t, out, 1)
	require.Equal(t, in[0].Region.X1, out[0].X1)
	require.Equal(t, "cap", out[0].ClassName)
	require.Equal(t, "object_diff", out[0].SourceStage)
	require.True(t, out[0].Changed)
}

func TestCollectComponentROIs(t *testing.T) {
	report := writeTemp(t, "component_report.json", `{
		"paired": [
			{"box_shared":[10,10,50,50],"class_name":"ic","confidence":0.9,"changed":true},
			{"box_after":[60,60,90,90],"class_name":"resistor"},
			{"note":"no box at all"}
		]
	}`)
	out := filepath.Join(filepath.Dir(report), "handoff.json")

	path := CollectComponentROIs(report, out, zerolog.Nop())
	require.Equal(t, out, path)

	rois := LoadROIFile(path, 200, 200, zerolog.Nop())
	require.Len(t, rois, 2)
	require.Equal(t, "ic", rois[0].ClassName)
	require.Equal(t, "object_diff", rois[0].SourceStage)
	require.Equal(t, "resistor", rois[1].ClassName)
}

func TestCollectComponentROIs_NoPairedEntries(t *testing.T) {
	report := writeTemp(t, "component_report.json", `{"summary":{"added":0}}`)
	out := filepath.Join(filepath.Dir(report), "handoff.json")
	require.Empty(t, CollectComponentROIs(report, out, zerolog.Nop()))
	_, err := os.Stat(out)
	require.True(t, os.IsNotExist(err))
}
