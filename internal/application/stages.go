package app

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/CYCLOP5/vis-diff-trackshift/config"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/infrastructure/vision"
)

// runAlignmentStage запускает движок выравнивания внутри процесса.
// Деградация не фатальна: неудача выравнивания даёт пропуск-итог,
// и пайплайн продолжает работу на невыровненных кадрах.
func (s *PipelineService) runAlignmentStage(ctx context.Context, pc *pairContext) *entity.StageOutcome {
	stageDir := filepath.Join(pc.comparisonRoot, "stages", "alignment")

	if feasible, reason := s.assessAlignmentFeasibility(pc.beforePath, pc.afterPath); !feasible {
		s.log.Info().
			Str("before", filepath.Base(pc.beforePath)).
			Str("after", filepath.Base(pc.afterPath)).
			Str("reason", reason).
			Msg("skipping alignment stage")
		return entity.SkippedOutcome(reason, entity.StageSkipped)
	}

	report, err := s.engine.Analyze(ctx, pc.beforePath, pc.afterPath, stageDir, entity.AnalyzeOptions{
		MinInliers:    s.cfg.Engine.MinInliers,
		MatchLimit:    s.cfg.Engine.MatchLimit,
		BlurKernel:    s.cfg.Engine.BlurKernel,
		MinRegionArea: s.cfg.Engine.MinRegionArea,
		ColorMode:     s.cfg.Engine.ColorMode,
	})
	if err != nil {
		s.log.Warn().Err(err).Msg("alignment stage failed")
		return entity.SkippedOutcome(fmt.Sprintf("Alignment execution failed: %v", err), entity.StageFailed)
	}

	reportMap := toMap(report)
	return &entity.StageOutcome{
		Summary: map[string]any{
			"alignment_method":    report.AlignmentMethod,
			"color_normalization": report.ColorNormalization,
			"ssim":                report.SSIM,
			"roi_count":           report.ROICount,
		},
		Report:    reportMap,
		Artifacts: report.Artifacts,
	}
}

// assessAlignmentFeasibility грубо оценивает, есть ли у выравнивания
// шанс дать сигнал. Сбой самой эвристики не блокирует этап.
func (s *PipelineService) assessAlignmentFeasibility(beforePath, afterPath string) (bool, string) {
	before, err := decodeImage(beforePath)
	if err != nil {
		s.log.Warn().Err(err).Msg("alignment feasibility check failed")
		return true, ""
	}
	after, err := decodeImage(afterPath)
	if err != nil {
		s.log.Warn().Err(err).Msg("alignment feasibility check failed")
		return true, ""
	}

	f := s.cfg.Feasibility
	bw, bh := before.Bounds().Dx(), before.Bounds().Dy()
	aw, ah := after.Bounds().Dx(), after.Bounds().Dy()

	widthDelta := relativeDelta(bw, aw)
	heightDelta := relativeDelta(bh, ah)
	if widthDelta > f.SizeTolerance || heightDelta > f.SizeTolerance {
		return false, fmt.Sprintf("dimension delta (w=%.2f, h=%.2f) exceeds %.2f", widthDelta, heightDelta, f.SizeTolerance)
	}

	aspectBefore := float64(bw) / math.Max(float64(bh), 1)
	aspectAfter := float64(aw) / math.Max(float64(ah), 1)
	aspectDelta := math.Abs(aspectBefore-aspectAfter) / math.Max(math.Max(aspectBefore, aspectAfter), 1e-6)
	if aspectDelta > f.AspectTolerance {
		return false, fmt.Sprintf("aspect ratio delta %.2f exceeds %.2f", aspectDelta, f.AspectTolerance)
	}

	mean := thumbnailMeanDiff(before, after, f.ThumbnailSize)
	if mean > f.MeanDiffThreshold {
		return false, fmt.Sprintf("global difference %.2f exceeds %.2f", mean, f.MeanDiffThreshold)
	}
	return true, ""
}

// runComponentDiffStage запускает внешний этап детекции компонентов.
func (s *PipelineService) runComponentDiffStage(ctx context.Context, pc *pairContext) (*entity.StageOutcome, error) {
	stageDir := filepath.Join(pc.comparisonRoot, "stages", "object_diff")
	reportPath := filepath.Join(stageDir, "component_report.json")
	artifactsDir := filepath.Join(stageDir, "artifacts")

	invocation, err := s.runner.Run(ctx, port.StageSpec{
		Name:    "object_diff",
		Command: s.cfg.ComponentDiff.Command,
		Args: []string{
			"--before", pc.beforePath,
			"--after", pc.afterPath,
			"--output", reportPath,
			"--artifacts-dir", artifactsDir,
			"--save-overlay",
		},
		WorkDir: stageDir,
		Timeout: s.cfg.ComponentDiff.Timeout,
	})
	if err != nil {
		return nil, err
	}

	report, err := loadJSONReport(reportPath)
	if err != nil {
		return nil, err
	}

	outcome := &entity.StageOutcome{
		Summary:   firstNonEmpty(parseLastJSON(invocation.Stdout), report),
		Report:    report,
		ImageSize: imageSizeOf(pc.afterPath),
		Artifacts: map[string]string{},
	}
	if overlay := reportArtifact(report, "overlay"); overlay != "" {
		outcome.Artifacts["overlay"] = overlay
	} else if candidate := filepath.Join(artifactsDir, "component_diff_overlay.png"); fileExists(candidate) {
		outcome.Artifacts["overlay"] = candidate
	}
	if roiDir := reportArtifact(report, "roi_dir"); roiDir != "" {
		outcome.Artifacts["paired_roi_dir"] = roiDir
	} else if candidate := filepath.Join(artifactsDir, "paired_rois"); pathExists(candidate) {
		outcome.Artifacts["paired_roi_dir"] = candidate
	}
	return outcome, nil
}

// runSegmentationStage прогоняет сегментацию по областям интереса
// из отчёта детекции компонентов. Без пригодных ROI кадр
// обрабатывается целиком.
func (s *PipelineService) runSegmentationStage(ctx context.Context, pc *pairContext) (*entity.StageOutcome, error) {
	if s.detector == nil {
		return nil, fmt.Errorf("segmentation capability is not configured")
	}
	stageDir := filepath.Join(pc.comparisonRoot, "stages", "segmentation")
	if err := os.MkdirAll(stageDir, 0o755); err != nil {
		return nil, fmt.Errorf("create segmentation stage dir: %w", err)
	}

	img, err := decodeImage(pc.afterPath)
	if err != nil {
		return nil, fmt.Errorf("load after image: %w", err)
	}
	width, height := img.Bounds().Dx(), img.Bounds().Dy()

	componentReport := filepath.Join(pc.comparisonRoot, "stages", "object_diff", "component_report.json")
	roiFile := vision.CollectComponentROIs(componentReport, filepath.Join(stageDir, "component_rois.json"), s.log)

	var composite *entity.CompositeResult
	if roiFile != "" {
		rois := vision.LoadROIFile(roiFile, width, height, s.log)
		if len(rois) > 0 {
			s.log.Info().Int("rois", len(rois)).Msg("running segmentation on roi crops")
			compositor := vision.NewCompositor(s.detector, s.log)
			composite, err = compositor.DetectWithROIs(ctx, img, rois, s.cfg.ROIPadding)
			if err != nil {
				return nil, err
			}
		}
	}
	if composite == nil {
		detections, err := s.detector.Detect(ctx, img)
		if err != nil {
			return nil, err
		}
		composite = entity.NewCompositeResult()
		if detections != nil {
			composite.DetectionSet = *detections
		}
	}

	summaryPath := filepath.Join(stageDir, "detections.json")
	summary, err := writeDetectionSummary(summaryPath, composite)
	if err != nil {
		return nil, err
	}

	outcome := &entity.StageOutcome{
		Summary:   summary,
		ImageSize: &entity.ImageSize{Width: width, Height: height},
		Artifacts: map[string]string{"raw": summaryPath},
	}

	overlayPath := filepath.Join(stageDir, "overlay.png")
	boxes := make([]entity.Region, composite.Len())
	for i := range composite.Boxes {
		boxes[i] = composite.Boxes[i]
		boxes[i].Confidence = &composite.Scores[i]
	}
	if err := s.renderer.RenderBoxes(pc.afterPath, overlayPath, boxes); err != nil {
		s.log.Warn().Err(err).Msg("segmentation overlay rendering failed")
	} else {
		outcome.Artifacts["overlay"] = overlayPath
	}
	return outcome, nil
}

// runPCBStage запускает внешний этап поиска производственных дефектов.
func (s *PipelineService) runPCBStage(ctx context.Context, pc *pairContext) (*entity.StageOutcome, error) {
	return s.runReportStage(ctx, pc, "pcb_cd", s.cfg.PCBCD, pc.afterPath)
}

// runChangeformerStage запускает внешний этап плотной детекции изменений.
func (s *PipelineService) runChangeformerStage(ctx context.Context, pc *pairContext, afterPath string) (*entity.StageOutcome, error) {
	return s.runReportStage(ctx, pc, "changeformer_cd", s.cfg.Changeformer, afterPath)
}

// runReportStage — общий запуск внешнего этапа с контрактом
// "--before --after --output-dir" и отчётом report.json.
func (s *PipelineService) runReportStage(ctx context.Context, pc *pairContext, name string, stageCfg config.StageConfig, afterPath string) (*entity.StageOutcome, error) {
	stageDir := filepath.Join(pc.comparisonRoot, "stages", name)

	args := []string{
		"--before", pc.beforePath,
		"--after", afterPath,
		"--output-dir", stageDir,
	}
	args = append(args, stageCfg.ExtraArgs...)

	_, err := s.runner.Run(ctx, port.StageSpec{
		Name:    name,
		Command: stageCfg.Command,
		Args:    args,
		WorkDir: stageDir,
		Timeout: stageCfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	report, err := loadJSONReport(filepath.Join(stageDir, "report.json"))
	if err != nil {
		return nil, err
	}

	artifacts := map[string]string{"report": filepath.Join(stageDir, "report.json")}
	for _, artifact := range []string{"mask", "overlay", "heatmap"} {
		if candidate := filepath.Join(stageDir, artifact+".png"); fileExists(candidate) {
			artifacts[artifact] = candidate
		}
	}

	outcome := &entity.StageOutcome{
		Summary:   report,
		Report:    report,
		Artifacts: artifacts,
		ImageSize: imageSizeOf(afterPath),
	}
	return outcome, nil
}

// loadJSONReport читает обязательный отчёт этапа. Отсутствие отчёта
// после успешного запуска — ошибка этапа.
func loadJSONReport(path string) (map[string]any, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("expected output report missing: %s", path)
	}
	var report map[string]any
	if err := json.Unmarshal(raw, &report); err != nil {
		return nil, fmt.Errorf("decode report %s: %w", path, err)
	}
	return report, nil
}

// parseLastJSON разбирает последнюю строку stdout как JSON-сводку.
func parseLastJSON(stdout string) map[string]any {
	stdout = strings.TrimSpace(stdout)
	if stdout == "" {
		return nil
	}
	lines := strings.Split(stdout, "\n")
	var summary map[string]any
	if err := json.Unmarshal([]byte(lines[len(lines)-1]), &summary); err != nil {
		return nil
	}
	return summary
}

func writeDetectionSummary(path string, composite *entity.CompositeResult) (map[string]any, error) {
	detections := make([]map[string]any, 0, composite.Len())
	for i := 0; i < composite.Len(); i++ {
		entry := map[string]any{
			"class_id": composite.ClassIDs[i],
			"box":      []int{composite.Boxes[i].X1, composite.Boxes[i].Y1, composite.Boxes[i].X2, composite.Boxes[i].Y2},
			"score":    composite.Scores[i],
		}
		if composite.Boxes[i].ClassName != "" {
			entry["class_name"] = composite.Boxes[i].ClassName
		}
		if composite.Masks[i] != nil {
			entry["mask_area"] = composite.Masks[i].Area()
		}
		if i < len(composite.Sources) {
			entry["source_roi"] = composite.Sources[i]
		}
		detections = append(detections, entry)
	}
	summary := map[string]any{"detections": detections}

	raw, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode detections: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return nil, fmt.Errorf("write detections: %w", err)
	}
	return summary, nil
}

func toMap(v any) map[string]any {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}

func firstNonEmpty(candidates ...map[string]any) map[string]any {
	for _, c := range candidates {
		if len(c) > 0 {
			return c
		}
	}
	return nil
}

func reportArtifact(report map[string]any, key string) string {
	artifacts, ok := report["artifacts"].(map[string]any)
	if !ok {
		return ""
	}
	value, _ := artifacts[key].(string)
	return value
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func imageSizeOf(path string) *entity.ImageSize {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	cfg, _, err := image.DecodeConfig(f)
	if err != nil {
		return nil
	}
	return &entity.ImageSize{Width: cfg.Width, Height: cfg.Height}
}

func decodeImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

func relativeDelta(a, b int) float64 {
	max := math.Max(math.Max(float64(a), float64(b)), 1)
	return math.Abs(float64(a)-float64(b)) / max
}

// thumbnailMeanDiff сравнивает миниатюры в градациях серого и
// возвращает среднюю разницу в диапазоне [0..1].
func thumbnailMeanDiff(a, b image.Image, size int) float64 {
	if size <= 0 {
		size = 96
	}
	total := 0.0
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			total += math.Abs(sampleGray(a, x, y, size) - sampleGray(b, x, y, size))
		}
	}
	return total / float64(size*size) / 255.0
}

func sampleGray(img image.Image, x, y, size int) float64 {
	b := img.Bounds()
	px := b.Min.X + x*b.Dx()/size
	py := b.Min.Y + y*b.Dy()/size
	r, g, bl, _ := img.At(px, py).RGBA()
	return (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 257.0
}
