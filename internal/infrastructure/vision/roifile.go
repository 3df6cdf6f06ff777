package vision

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
)

// Формат файла передачи ROI между этапами:
// { "rois": [ { "box": [x1,y1,x2,y2], "class_name"?, "confidence"?, "changed"? } ] }
// Внешние этапы пишут рамки под разными ключами, поэтому распознавание
// идёт по упорядоченному списку известных форм с падением в "пусто".

// LoadROIFile читает файл областей интереса. Отсутствующий или
// некорректный файл трактуется как "ROI недоступны", а не как ошибка:
// потребитель в этом случае обрабатывает кадр целиком.
func LoadROIFile(path string, width, height int, log zerolog.Logger) []entity.ROI {
	raw, err := os.ReadFile(path)
	if err != nil {
		log.Warn().Str("path", path).Msg("roi file not found, running on full image")
		return []entity.ROI{}
	}

	entries := decodeROIEntries(raw)
	if entries == nil {
		log.Warn().Str("path", path).Msg("roi payload missing list of boxes, running on full image")
		return []entity.ROI{}
	}

	rois := make([]entity.ROI, 0, len(entries))
	for _, entry := range entries {
		box, ok := coerceBox(entry, []string{"box", "box_shared", "bbox"})
		if !ok {
			continue
		}
		roi := entity.ROI{
			Region: clampROIBox(box, width, height),
		}
		if name, ok := entry["class_name"].(string); ok {
			roi.ClassName = name
		}
		if conf, ok := entry["confidence"].(float64); ok {
			roi.Confidence = &conf
		}
		if changed, ok := entry["changed"].(bool); ok {
			roi.Changed = changed
		}
		if source, ok := entry["source"].(string); ok {
			roi.SourceStage = source
		}
		rois = append(rois, roi)
	}
	return rois
}

func decodeROIEntries(raw []byte) []map[string]any {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil
	}

	var candidates any
	switch typed := payload.(type) {
	case map[string]any:
		for _, key := range []string{"rois", "paired", "boxes"} {
			if v, ok := typed[key]; ok && v != nil {
				candidates = v
				break
			}
		}
	case []any:
		candidates = typed
	}

	list, ok := candidates.([]any)
	if !ok {
		return nil
	}
	entries := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if entry, ok := item.(map[string]any); ok {
			entries = append(entries, entry)
		}
	}
	return entries
}

func coerceBox(entry map[string]any, keys []string) ([4]int, bool) {
	for _, key := range keys {
		raw, ok := entry[key].([]any)
		if !ok || len(raw) != 4 {
			continue
		}
		var box [4]int
		valid := true
		for i, v := range raw {
			f, ok := v.(float64)
			if !ok {
				valid = false
				break
			}
			box[i] = int(f)
		}
		if valid {
			return box, true
		}
	}
	return [4]int{}, false
}

// clampROIBox обрезает рамку по кадру, гарантируя ненулевой размер.
func clampROIBox(box [4]int, width, height int) entity.Region {
	x1 := clampInt(box[0], 0, width-1)
	y1 := clampInt(box[1], 0, height-1)
	x2 := clampInt(box[2], x1+1, width)
	y2 := clampInt(box[3], y1+1, height)
	return entity.Region{X1: x1, Y1: y1, X2: x2, Y2: y2}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// WriteROIFile сохраняет области интереса в формате передачи между этапами.
func WriteROIFile(path string, rois []entity.ROI) error {
	entries := make([]map[string]any, 0, len(rois))
	for _, roi := range rois {
		entry := map[string]any{
			"box": []int{roi.X1, roi.Y1, roi.X2, roi.Y2},
		}
		if roi.ClassName != "" {
			entry["class_name"] = roi.ClassName
		}
		if roi.Confidence != nil {
			entry["confidence"] = *roi.Confidence
		}
		entry["changed"] = roi.Changed
		if roi.SourceStage != "" {
			entry["source"] = roi.SourceStage
		}
		entries = append(entries, entry)
	}
	payload := map[string]any{"rois": entries}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("encode roi file: %w", err)
	}
	if err := os.WriteFile(path, raw, 0o644); err != nil {
		return fmt.Errorf("write roi file: %w", err)
	}
	return nil
}

// CollectComponentROIs извлекает рамки из отчёта этапа детекции компонентов
// и пишет файл передачи ROI. Возвращает пустую строку, когда рамок нет.
func CollectComponentROIs(reportPath, outputPath string, log zerolog.Logger) string {
	raw, err := os.ReadFile(reportPath)
	if err != nil {
		return ""
	}
	var report map[string]any
	if err := json.Unmarshal(raw, &report); err != nil {
		log.Warn().Str("path", reportPath).Msg("component report is not valid json")
		return ""
	}
	paired, ok := report["paired"].([]any)
	if !ok {
		return ""
	}

	rois := make([]entity.ROI, 0, len(paired))
	for _, item := range paired {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		box, ok := coerceBox(entry, []string{"box_shared", "box_after", "box_before"})
		if !ok {
			continue
		}
		roi := entity.ROI{
			Region:      entity.Region{X1: box[0], Y1: box[1], X2: box[2], Y2: box[3]},
			SourceStage: "object_diff",
		}
		if name, ok := entry["class_name"].(string); ok {
			roi.ClassName = name
		}
		if conf, ok := entry["confidence"].(float64); ok {
			roi.Confidence = &conf
		}
		if changed, ok := entry["changed"].(bool); ok {
			roi.Changed = changed
		}
		rois = append(rois, roi)
	}
	if len(rois) == 0 {
		return ""
	}
	if err := WriteROIFile(outputPath, rois); err != nil {
		log.Warn().Err(err).Msg("failed to write roi handoff file")
		return ""
	}
	return outputPath
}

