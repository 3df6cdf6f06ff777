package vision

import (
	"context"
	"fmt"
	"image"
	"image/draw"

	"github.com/rs/zerolog"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
)

// Compositor запускает детекцию по кропам областей интереса и сшивает
// результаты обратно в глобальные координаты изображения.
type Compositor struct {
	detector port.InstanceDetector
	log      zerolog.Logger
}

// NewCompositor создаёт компоновщик над внешней детекцией.
func NewCompositor(detector port.InstanceDetector, log zerolog.Logger) *Compositor {
	return &Compositor{detector: detector, log: log}
}

// DetectWithROIs прогоняет детекцию независимо по каждой области интереса.
// Пересекающиеся ROI могут дать дублирующиеся детекции, подавление
// дублей остаётся за потребителем.
func (c *Compositor) DetectWithROIs(ctx context.Context, img image.Image, rois []entity.ROI, padding int) (*entity.CompositeResult, error) {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	result := entity.NewCompositeResult()

	for idx, roi := range rois {
		box := roi.Region.Expand(padding, width, height)
		if box.Width() < 2 || box.Height() < 2 {
			c.log.Warn().Int("roi", idx).Msg("roi crop is too small, skipping")
			continue
		}

		crop := cropImage(img, image.Rect(box.X1, box.Y1, box.X2, box.Y2))
		detections, err := c.detector.Detect(ctx, crop)
		if err != nil {
			return nil, fmt.Errorf("detect on roi %d: %w", idx, err)
		}
		if detections == nil || detections.Len() == 0 {
			continue
		}

		for d := 0; d < detections.Len(); d++ {
			local := detections.Boxes[d]
			global := entity.Region{
				X1:        local.X1 + box.X1,
				Y1:        local.Y1 + box.Y1,
				X2:        local.X2 + box.X1,
				Y2:        local.Y2 + box.Y1,
				ClassName: local.ClassName,
			}.Clamp(width, height)
			global.ClassName = local.ClassName

			// Маска кропа переносится на полноразмерный холст,
			// вне кропа холст остаётся пустым.
			canvas := entity.NewMask(width, height)
			if d < len(detections.Masks) && detections.Masks[d] != nil {
				localMask := detections.Masks[d]
				for y := 0; y < localMask.Height; y++ {
					for x := 0; x < localMask.Width; x++ {
						if localMask.At(x, y) {
							canvas.Set(x+box.X1, y+box.Y1, true)
						}
					}
				}
			}

			score := 0.0
			if d < len(detections.Scores) {
				score = detections.Scores[d]
			}
			classID := 0
			if d < len(detections.ClassIDs) {
				classID = detections.ClassIDs[d]
			}

			result.Append(global, classID, score, canvas)
			result.Sources = append(result.Sources, entity.ROIProvenance{ROIIndex: idx, ROI: roi})
		}
	}

	return result, nil
}

// cropImage копирует прямоугольник изображения в отдельный буфер
// с нулевой точкой отсчёта.
func cropImage(img image.Image, r image.Rectangle) image.Image {
	out := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(out, out.Bounds(), img, r.Min.Add(img.Bounds().Min), draw.Src)
	return out
}
