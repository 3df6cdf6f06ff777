package port

import "github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"

// OverlayRenderer интерфейс отрисовки рамок поверх изображения
type OverlayRenderer interface {
	// RenderBoxes читает изображение, рисует подписанные рамки
	// и сохраняет результат в outputPath.
	RenderBoxes(imagePath, outputPath string, boxes []entity.Region) error
}
