package container

import (
	"github.com/rs/zerolog"

	"github.com/CYCLOP5/vis-diff-trackshift/config"
	app "github.com/CYCLOP5/vis-diff-trackshift/internal/application"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/infrastructure/stage"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/infrastructure/storage"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/infrastructure/vision"
)

// Container собирает сервисы приложения и их зависимости.
type Container struct {
	Pipeline *app.PipelineService
	Jobs     *storage.FileJobRepository
}

// New строит граф зависимостей оркестратора.
// Детектор сегментации подключается только при заданном адресе сервиса.
func New(cfg *config.Config, log zerolog.Logger) (*Container, error) {
	jobs, err := storage.NewFileJobRepository(cfg.DataRoot)
	if err != nil {
		return nil, err
	}

	engine := vision.NewEngine(cfg.Engine, log)
	runner := stage.NewExecutor(log)
	renderer := vision.NewOverlayRenderer()

	var detector port.InstanceDetector
	if cfg.InferenceURL != "" {
		detector = vision.NewRemoteDetector(cfg.InferenceURL, log)
	}

	pipeline := app.NewPipelineService(cfg, jobs, engine, runner, detector, renderer, log)

	return &Container{
		Pipeline: pipeline,
		Jobs:     jobs,
	}, nil
}
