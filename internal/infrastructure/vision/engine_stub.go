//go:build !gocv
// +build !gocv

package vision

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/CYCLOP5/vis-diff-trackshift/config"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
)

// Engine — заглушка движка выравнивания для сборки без OpenCV.
type Engine struct {
	cfg config.EngineConfig
	log zerolog.Logger
}

// NewEngine создаёт движок-заглушку (без OpenCV).
func NewEngine(cfg config.EngineConfig, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// Analyze возвращает ошибку, если сборка без тега gocv.
func (e *Engine) Analyze(ctx context.Context, beforePath, afterPath, outputDir string, opts entity.AnalyzeOptions) (*entity.AlignmentReport, error) {
	_ = ctx
	_ = beforePath
	_ = afterPath
	_ = outputDir
	_ = opts
	return nil, errors.New("gocv build tag is not enabled")
}

// Проверка реализации интерфейса
var _ port.AlignmentEngine = (*Engine)(nil)
