package port

import (
	"context"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
)

// AlignmentEngine интерфейс движка выравнивания и диффа
type AlignmentEngine interface {
	// Analyze выравнивает пару кадров, считает SSIM и регионы изменений,
	// пишет артефакты (aligned, diff_gray, mask, overlay, heatmap, report.json)
	// в каталог outputDir и возвращает отчёт.
	Analyze(ctx context.Context, beforePath, afterPath, outputDir string, opts entity.AnalyzeOptions) (*entity.AlignmentReport, error)
}
