package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/CYCLOP5/vis-diff-trackshift/config"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/infrastructure/stage"
)

// FrameUpload — загруженный кадр до сохранения на диск.
type FrameUpload struct {
	Name string
	Data []byte
}

// PipelineService разворачивает задачу в пары сравнения, прогоняет
// пайплайн по каждой паре и собирает итоговую запись задачи.
type PipelineService struct {
	cfg      *config.Config
	repo     port.JobRepository
	engine   port.AlignmentEngine
	runner   port.StageRunner
	detector port.InstanceDetector
	renderer port.OverlayRenderer
	log      zerolog.Logger
}

// NewPipelineService создаёт оркестратор задач сравнения.
func NewPipelineService(
	cfg *config.Config,
	repo port.JobRepository,
	engine port.AlignmentEngine,
	runner port.StageRunner,
	detector port.InstanceDetector,
	renderer port.OverlayRenderer,
	log zerolog.Logger,
) *PipelineService {
	return &PipelineService{
		cfg:      cfg,
		repo:     repo,
		engine:   engine,
		runner:   runner,
		detector: detector,
		renderer: renderer,
		log:      log,
	}
}

// pairContext — пути одного сравнения пары кадров.
type pairContext struct {
	comparisonRoot string
	beforePath     string
	afterPath      string
}

// RunJob выполняет задачу целиком: сохраняет кадры, строит пары и
// последовательно прогоняет пайплайн. Падение любого этапа переводит
// задачу в статус failed, но уже завершённые сравнения остаются в
// таймлайне, а итоговая запись пишется в любом случае.
func (s *PipelineService) RunJob(ctx context.Context, frames []FrameUpload, mode entity.ComparisonMode, baselineIndex int, metadata map[string]string) (*entity.Job, error) {
	if len(frames) < 2 {
		return nil, errors.New("at least two frames are required to compute differences")
	}

	ws, err := s.repo.CreateWorkspace()
	if err != nil {
		return nil, err
	}
	s.log.Info().Str("jobId", ws.JobID).Int("frames", len(frames)).Msg("starting job")

	stored := make([]entity.Frame, 0, len(frames))
	for idx, frame := range frames {
		name := frame.Name
		if name == "" {
			name = fmt.Sprintf("frame_%02d", idx)
		}
		path, err := s.repo.SaveFrame(ws, idx, name, frame.Data)
		if err != nil {
			return nil, err
		}
		stored = append(stored, entity.Frame{Index: idx, Path: path, OriginalName: name})
	}

	// Индекс вне диапазона молча сбрасывается в 0: это политика, не ошибка.
	if baselineIndex < 0 || baselineIndex >= len(stored) {
		baselineIndex = 0
	}

	pairs := entity.ComparisonPairs(len(stored), baselineIndex, mode)
	if len(pairs) == 0 {
		return nil, errors.New("no comparisons could be derived from provided frames")
	}

	domain := entity.ParseDomain(metadata["domain"])
	strategy := s.strategyFor(domain)

	job := &entity.Job{
		ID:             ws.JobID,
		Status:         entity.JobRunning,
		StartedAt:      time.Now().UTC(),
		ComparisonMode: mode,
		BaselineIndex:  baselineIndex,
		Frames:         stored,
		Timeline:       []entity.TimelineEntry{},
		Metadata:       metadata,
	}

	status := entity.JobCompleted
	var jobErr *entity.JobError
	for _, pair := range pairs {
		pc := &pairContext{
			comparisonRoot: filepath.Join(ws.TimelineDir, fmt.Sprintf("frame_%02d", pair.After)),
			beforePath:     stored[pair.Before].Path,
			afterPath:      stored[pair.After].Path,
		}
		if err := os.MkdirAll(pc.comparisonRoot, 0o755); err != nil {
			return nil, fmt.Errorf("create comparison root: %w", err)
		}

		results, err := strategy.run(ctx, pc)
		if err != nil {
			status = entity.JobFailed
			jobErr = buildJobError(err)
			s.log.Error().Err(err).Str("jobId", ws.JobID).Msg("job failed")
			break
		}
		job.Timeline = append(job.Timeline, entity.TimelineEntry{
			BeforeIndex:    pair.Before,
			AfterIndex:     pair.After,
			BeforePath:     pc.beforePath,
			AfterPath:      pc.afterPath,
			ComparisonRoot: pc.comparisonRoot,
			Pipeline:       results,
		})
	}

	job.Finalize(status, time.Now().UTC(), jobErr)
	if err := s.repo.SaveResult(ws, job); err != nil {
		return nil, err
	}
	s.log.Info().Str("jobId", ws.JobID).Str("status", string(job.Status)).Msg("job finished")
	return job, nil
}

// GetJob возвращает итоговую запись задачи, nil если задача не найдена.
func (s *PipelineService) GetJob(jobID string) (*entity.Job, error) {
	return s.repo.Get(jobID)
}

// buildJobError переводит ошибку этапа в запись ошибки задачи.
func buildJobError(err error) *entity.JobError {
	var execErr *stage.ExecutionError
	if errors.As(err, &execErr) {
		return &entity.JobError{
			Message: err.Error(),
			Stage:   execErr.Invocation.Stage,
			Stdout:  execErr.Invocation.Stdout,
			Stderr:  execErr.Invocation.Stderr,
		}
	}
	return &entity.JobError{Message: err.Error()}
}
