package app

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/CYCLOP5/vis-diff-trackshift/config"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/infrastructure/stage"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/infrastructure/storage"
)

// fakeEngine возвращает фиксированный отчёт выравнивания.
type fakeEngine struct {
	calls int
}

func (f *fakeEngine) Analyze(_ context.Context, beforePath, afterPath, outputDir string, _ entity.AnalyzeOptions) (*entity.AlignmentReport, error) {
	f.calls++
	return &entity.AlignmentReport{
		AlignmentMethod:    "orb",
		ColorNormalization: "none",
		SSIM:               0.97,
		ROICount:           1,
		ROIs:               []entity.Region{{X1: 1, Y1: 1, X2: 5, Y2: 5, Area: 16}},
		Before:             beforePath,
		After:              afterPath,
		Artifacts:          map[string]string{"aligned": filepath.Join(outputDir, "aligned.png")},
	}, nil
}

// fakeRunner пишет отчёт этапа вместо запуска внешнего процесса.
type fakeRunner struct {
	calls      []port.StageSpec
	failOnCall int  // номер вызова, который падает, 0 — не падает
	makeROIDir bool // создавать каталог paired_rois под --artifacts-dir
	reports    map[string]string
}

func (f *fakeRunner) Run(_ context.Context, spec port.StageSpec) (*entity.StageInvocation, error) {
	f.calls = append(f.calls, spec)
	if err := os.MkdirAll(spec.WorkDir, 0o755); err != nil {
		return nil, err
	}
	if f.failOnCall == len(f.calls) {
		return nil, &stage.ExecutionError{Invocation: &entity.StageInvocation{
			Stage:    spec.Name,
			ExitCode: 2,
			Stdout:   "partial output",
			Stderr:   "stage exploded",
			Status:   entity.StageFailed,
		}}
	}

	content, ok := f.reports[spec.Name]
	if !ok {
		content = "{}"
	}
	reportPath := filepath.Join(spec.WorkDir, "report.json")
	for i, arg := range spec.Args {
		if arg == "--output" && i+1 < len(spec.Args) {
			reportPath = spec.Args[i+1]
		}
	}
	if err := os.MkdirAll(filepath.Dir(reportPath), 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(reportPath, []byte(content), 0o644); err != nil {
		return nil, err
	}
	if f.makeROIDir {
		for i, arg := range spec.Args {
			if arg == "--artifacts-dir" && i+1 < len(spec.Args) {
				if err := os.MkdirAll(filepath.Join(spec.Args[i+1], "paired_rois"), 0o755); err != nil {
					return nil, err
				}
			}
		}
	}
	return &entity.StageInvocation{Stage: spec.Name, Status: entity.StageOK}, nil
}

// fakeAppDetector возвращает одну детекцию на весь кроп.
type fakeAppDetector struct {
	calls int
}

func (f *fakeAppDetector) Detect(_ context.Context, img image.Image) (*entity.DetectionSet, error) {
	f.calls++
	b := img.Bounds()
	result := entity.NewDetectionSet()
	result.Append(entity.Region{X1: 0, Y1: 0, X2: b.Dx(), Y2: b.Dy(), ClassName: "component"}, 1, 0.88, nil)
	return result, nil
}

type fakeRenderer struct {
	calls int
}

func (f *fakeRenderer) RenderBoxes(_, _ string, _ []entity.Region) error {
	f.calls++
	return nil
}

func pngFrame(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, w, h))))
	return buf.Bytes()
}

type testEnv struct {
	svc      *PipelineService
	repo     *storage.FileJobRepository
	engine   *fakeEngine
	runner   *fakeRunner
	detector *fakeAppDetector
	renderer *fakeRenderer
}

func newTestEnv(t *testing.T, reports map[string]string) *testEnv {
	t.Helper()
	cfg, err := config.Load()
	require.NoError(t, err)

	repo, err := storage.NewFileJobRepository(t.TempDir())
	require.NoError(t, err)

	env := &testEnv{
		repo:     repo,
		engine:   &fakeEngine{},
		runner:   &fakeRunner{reports: reports},
		detector: &fakeAppDetector{},
		renderer: &fakeRenderer{},
	}
	env.svc = NewPipelineService(cfg, repo, env.engine, env.runner, env.detector, env.renderer, zerolog.Nop())
	return env
}

func TestRunJob_RequiresTwoFrames(t *testing.T) {
	env := newTestEnv(t, nil)
	_, err := env.svc.RunJob(context.Background(), []FrameUpload{{Name: "only.png"}}, entity.ModeBaselineFanout, 0, nil)
	require.Error(t, err)
}

func TestRunJob_ManufacturingDomainSkipsAlignment(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"pcb_cd": `{"defect_count": 2, "artifacts": {}}`,
	})

	frames := []FrameUpload{
		{Name: "a.png", Data: pngFrame(t, 32, 32)},
		{Name: "b.png", Data: pngFrame(t, 32, 32)},
	}
	job, err := env.svc.RunJob(context.Background(), frames, entity.ModeBaselineFanout, 0, map[string]string{"domain": "manufacturing"})
	require.NoError(t, err)
	require.Equal(t, entity.JobCompleted, job.Status)
	require.Len(t, job.Timeline, 1)

	pipeline := job.Timeline[0].Pipeline
	require.Contains(t, pipeline, "alignment")
	require.True(t, pipeline["alignment"].Skipped)
	require.Contains(t, pipeline, "pcb_cd")
	require.NotContains(t, pipeline, "object_diff")

	require.Equal(t, 0, env.engine.calls)
	require.Len(t, env.runner.calls, 1)
	require.Equal(t, "pcb_cd", env.runner.calls[0].Name)
}

func TestRunJob_InfrastructureDomainRunsChangeformer(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"changeformer_cd": `{"changed_ratio": 0.12}`,
	})

	frames := []FrameUpload{
		{Name: "before.png", Data: pngFrame(t, 32, 32)},
		{Name: "after.png", Data: pngFrame(t, 32, 32)},
	}
	job, err := env.svc.RunJob(context.Background(), frames, entity.ModeBaselineFanout, 0, map[string]string{"domain": "infrastructure"})
	require.NoError(t, err)
	require.Equal(t, entity.JobCompleted, job.Status)

	pipeline := job.Timeline[0].Pipeline
	require.True(t, pipeline["alignment"].Skipped)
	require.Contains(t, pipeline, "changeformer_cd")

	require.Len(t, env.runner.calls, 1)
	require.Contains(t, env.runner.calls[0].Args, job.Frames[1].Path)
}

func TestRunJob_DefaultDomainRunsFullPipeline(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"object_diff": `{"paired":[{"box_shared":[2,2,20,20],"class_name":"ic","changed":true}]}`,
	})

	frames := []FrameUpload{
		{Name: "a.png", Data: pngFrame(t, 64, 64)},
		{Name: "b.png", Data: pngFrame(t, 64, 64)},
	}
	job, err := env.svc.RunJob(context.Background(), frames, entity.ModeBaselineFanout, 0, nil)
	require.NoError(t, err)
	require.Equal(t, entity.JobCompleted, job.Status)

	pipeline := job.Timeline[0].Pipeline
	require.Contains(t, pipeline, "alignment")
	require.Contains(t, pipeline, "object_diff")
	require.Contains(t, pipeline, "segmentation")

	require.Equal(t, 1, env.engine.calls)
	require.Equal(t, 1, env.detector.calls)
	require.Equal(t, 1, env.renderer.calls)

	seg := pipeline["segmentation"]
	detections, ok := seg.Summary["detections"].([]map[string]any)
	require.True(t, ok)
	require.Len(t, detections, 1)
	require.Contains(t, seg.Artifacts, "overlay")
}

func TestRunJob_StageExtraArgsArePassedThrough(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"pcb_cd": `{"defect_count": 0}`,
	})
	env.svc.cfg.PCBCD.ExtraArgs = []string{"--checkpoint", "/models/pcb.pt", "--img-size", "1024"}

	frames := []FrameUpload{
		{Name: "a.png", Data: pngFrame(t, 32, 32)},
		{Name: "b.png", Data: pngFrame(t, 32, 32)},
	}
	_, err := env.svc.RunJob(context.Background(), frames, entity.ModeBaselineFanout, 0, map[string]string{"domain": "manufacturing"})
	require.NoError(t, err)

	require.Len(t, env.runner.calls, 1)
	args := env.runner.calls[0].Args
	require.Contains(t, args, "--checkpoint")
	require.Contains(t, args, "/models/pcb.pt")
	require.Contains(t, args, "--img-size")
	require.Contains(t, args, "1024")
}

func TestRunJob_ComponentDiffROIDirFallsBackToArtifactsDir(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"object_diff": `{"paired":[]}`,
	})
	env.runner.makeROIDir = true

	frames := []FrameUpload{
		{Name: "a.png", Data: pngFrame(t, 32, 32)},
		{Name: "b.png", Data: pngFrame(t, 32, 32)},
	}
	job, err := env.svc.RunJob(context.Background(), frames, entity.ModeBaselineFanout, 0, nil)
	require.NoError(t, err)
	require.Equal(t, entity.JobCompleted, job.Status)

	component := job.Timeline[0].Pipeline["object_diff"]
	require.Equal(t,
		filepath.Join(job.Timeline[0].ComparisonRoot, "stages", "object_diff", "artifacts", "paired_rois"),
		component.Artifacts["paired_roi_dir"])
}

func TestRunJob_StageFailureStopsTimelineButWritesResult(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"pcb_cd": `{"defect_count": 0}`,
	})
	env.runner.failOnCall = 2

	frames := []FrameUpload{
		{Name: "f0.png", Data: pngFrame(t, 32, 32)},
		{Name: "f1.png", Data: pngFrame(t, 32, 32)},
		{Name: "f2.png", Data: pngFrame(t, 32, 32)},
	}
	job, err := env.svc.RunJob(context.Background(), frames, entity.ModeConsecutive, 0, map[string]string{"domain": "manufacturing"})
	require.NoError(t, err)
	require.Equal(t, entity.JobFailed, job.Status)

	// Первое сравнение завершилось до падения и осталось в таймлайне.
	require.Len(t, job.Timeline, 1)
	require.NotNil(t, job.Error)
	require.Equal(t, "pcb_cd", job.Error.Stage)
	require.Equal(t, "partial output", job.Error.Stdout)
	require.Equal(t, "stage exploded", job.Error.Stderr)

	// Итоговая запись пишется и для упавшей задачи.
	saved, err := env.repo.Get(job.ID)
	require.NoError(t, err)
	require.NotNil(t, saved)
	require.Equal(t, entity.JobFailed, saved.Status)
}

func TestRunJob_BaselineIndexOutOfRangeResetsToZero(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"pcb_cd": `{"defect_count": 0}`,
	})

	frames := []FrameUpload{
		{Name: "a.png", Data: pngFrame(t, 32, 32)},
		{Name: "b.png", Data: pngFrame(t, 32, 32)},
	}
	job, err := env.svc.RunJob(context.Background(), frames, entity.ModeBaselineFanout, 7, map[string]string{"domain": "manufacturing"})
	require.NoError(t, err)
	require.Equal(t, 0, job.BaselineIndex)
	require.Equal(t, 0, job.Timeline[0].BeforeIndex)
	require.Equal(t, 1, job.Timeline[0].AfterIndex)
}

func TestRunJob_SegmentationWithoutDetectorFails(t *testing.T) {
	env := newTestEnv(t, map[string]string{
		"object_diff": `{"paired":[]}`,
	})
	env.svc.detector = nil

	frames := []FrameUpload{
		{Name: "a.png", Data: pngFrame(t, 32, 32)},
		{Name: "b.png", Data: pngFrame(t, 32, 32)},
	}
	job, err := env.svc.RunJob(context.Background(), frames, entity.ModeBaselineFanout, 0, nil)
	require.NoError(t, err)
	require.Equal(t, entity.JobFailed, job.Status)
	require.Contains(t, job.Error.Message, "segmentation capability")
}
