package port

import (
	"context"
	"image"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
)

// InstanceDetector интерфейс внешней детекции/сегментации
type InstanceDetector interface {
	// Detect запускает детекцию на целом изображении или кропе.
	// Рамки возвращаются в координатах переданного изображения.
	// На мелких кропах детектор обязан вернуть пустые списки, а не ошибку.
	Detect(ctx context.Context, img image.Image) (*entity.DetectionSet, error)
}
