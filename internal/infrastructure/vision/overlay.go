//go:build gocv
// +build gocv

package vision

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
)

// OverlayRenderer рисует подписанные рамки детекций поверх изображения.
type OverlayRenderer struct{}

// NewOverlayRenderer создаёт отрисовщик рамок.
func NewOverlayRenderer() *OverlayRenderer {
	return &OverlayRenderer{}
}

// RenderBoxes читает изображение, наносит рамки и сохраняет результат.
func (r *OverlayRenderer) RenderBoxes(imagePath, outputPath string, boxes []entity.Region) error {
	mat := gocv.IMRead(imagePath, gocv.IMReadColor)
	defer mat.Close()
	if mat.Empty() {
		return fmt.Errorf("failed to load image: %s", imagePath)
	}

	green := color.RGBA{G: 255, A: 255}
	for _, box := range boxes {
		rect := image.Rect(box.X1, box.Y1, box.X2, box.Y2)
		gocv.Rectangle(&mat, rect, green, 2)
		if box.ClassName != "" {
			label := box.ClassName
			if box.Confidence != nil {
				label = fmt.Sprintf("%s (%.2f)", box.ClassName, *box.Confidence)
			}
			origin := image.Pt(box.X1, maxInt(box.Y1-6, 12))
			gocv.PutText(&mat, label, origin, gocv.FontHersheySimplex, 0.5, green, 1)
		}
	}

	if ok := gocv.IMWrite(outputPath, mat); !ok {
		return fmt.Errorf("write overlay: %s", outputPath)
	}
	return nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// Проверка реализации интерфейса
var _ port.OverlayRenderer = (*OverlayRenderer)(nil)
