//go:build !gocv
// +build !gocv

package vision

import (
	"errors"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
)

// OverlayRenderer — заглушка отрисовщика для сборки без OpenCV.
type OverlayRenderer struct{}

// NewOverlayRenderer создаёт отрисовщик-заглушку (без OpenCV).
func NewOverlayRenderer() *OverlayRenderer {
	return &OverlayRenderer{}
}

// RenderBoxes возвращает ошибку, если сборка без тега gocv.
func (r *OverlayRenderer) RenderBoxes(imagePath, outputPath string, boxes []entity.Region) error {
	_ = imagePath
	_ = outputPath
	_ = boxes
	return errors.New("gocv build tag is not enabled")
}

// Проверка реализации интерфейса
var _ port.OverlayRenderer = (*OverlayRenderer)(nil)
