package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
)

// RemoteDetector вызывает внешний сервис детекции/сегментации по HTTP.
// Ответы разных сервисов различаются по форме, поэтому разбор идёт
// по упорядоченному списку известных ключей и форматов рамок.
type RemoteDetector struct {
	baseURL string
	client  *http.Client
	log     zerolog.Logger
}

// NewRemoteDetector создаёт клиент сервиса детекции.
func NewRemoteDetector(baseURL string, log zerolog.Logger) *RemoteDetector {
	return &RemoteDetector{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 120 * time.Second},
		log:     log,
	}
}

// Detect отправляет изображение сервису и нормализует ответ.
// Сервис обязан терпеть мелкие кропы и возвращать пустые списки.
func (d *RemoteDetector) Detect(ctx context.Context, img image.Image) (*entity.DetectionSet, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode crop: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.baseURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("build inference request: %w", err)
	}
	req.Header.Set("Content-Type", "image/png")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("inference request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read inference response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("inference service returned status %d", resp.StatusCode)
	}

	bounds := img.Bounds()
	return d.parseResponse(body, bounds.Dx(), bounds.Dy()), nil
}

// parseResponse ищет список предсказаний под известными ключами.
// Неопознанная форма даёт пустой результат с предупреждением,
// а не жёсткую ошибку.
func (d *RemoteDetector) parseResponse(body []byte, width, height int) *entity.DetectionSet {
	result := entity.NewDetectionSet()

	var payload any
	if err := json.Unmarshal(body, &payload); err != nil {
		d.log.Warn().Msg("inference response is not valid json, treating as empty")
		return result
	}

	entries := findPredictionList(payload)
	if entries == nil {
		d.log.Warn().Msg("inference response has no recognizable prediction list")
		return result
	}

	for _, entry := range entries {
		box, ok := coerceDetectionBox(entry, width, height)
		if !ok {
			continue
		}
		if name, ok := entry["class_name"].(string); ok {
			box.ClassName = name
		} else if name, ok := entry["class"].(string); ok {
			box.ClassName = name
		}
		classID := 0
		if id, ok := entry["class_id"].(float64); ok {
			classID = int(id)
		}
		score := 0.0
		if s, ok := entry["confidence"].(float64); ok {
			score = s
		} else if s, ok := entry["score"].(float64); ok {
			score = s
		}
		result.Append(box, classID, score, decodeInstanceMask(entry))
	}
	return result
}

func findPredictionList(payload any) []map[string]any {
	var candidates any
	switch typed := payload.(type) {
	case map[string]any:
		for _, key := range []string{"detections", "predictions", "boxes", "results"} {
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

// coerceDetectionBox принимает рамку либо как массив [x1,y1,x2,y2],
// либо как центр с размерами {x, y, width, height}.
func coerceDetectionBox(entry map[string]any, width, height int) (entity.Region, bool) {
	if box, ok := coerceBox(entry, []string{"box", "bbox"}); ok {
		return clampROIBox(box, width, height), true
	}

	cx, okX := entry["x"].(float64)
	cy, okY := entry["y"].(float64)
	w, okW := entry["width"].(float64)
	h, okH := entry["height"].(float64)
	if !okX || !okY || !okW || !okH {
		return entity.Region{}, false
	}
	box := [4]int{
		int(cx - w/2),
		int(cy - h/2),
		int(cx + w/2),
		int(cy + h/2),
	}
	return clampROIBox(box, width, height), true
}

// decodeInstanceMask разбирает маску как вложенные списки строк из 0/1.
func decodeInstanceMask(entry map[string]any) *entity.Mask {
	rows, ok := entry["mask"].([]any)
	if !ok || len(rows) == 0 {
		return nil
	}
	first, ok := rows[0].([]any)
	if !ok || len(first) == 0 {
		return nil
	}
	mask := entity.NewMask(len(first), len(rows))
	for y, rowAny := range rows {
		row, ok := rowAny.([]any)
		if !ok {
			return nil
		}
		for x, cell := range row {
			switch v := cell.(type) {
			case bool:
				mask.Set(x, y, v)
			case float64:
				mask.Set(x, y, v != 0)
			}
		}
	}
	return mask
}

// Проверка реализации интерфейса
var _ port.InstanceDetector = (*RemoteDetector)(nil)
