package entity

// AlignmentMethod — способ геометрической привязки целевого кадра.
type AlignmentMethod string

const (
	AlignFeature AlignmentMethod = "orb"  // гомография по ключевым точкам
	AlignECC     AlignmentMethod = "ecc"  // итеративная привязка по интенсивности
	AlignNone    AlignmentMethod = "none" // привязка не удалась, кадр без изменений
)

// AnalyzeOptions — параметры движка выравнивания и диффа одной пары.
// Нулевые значения заменяются значениями по умолчанию движка.
type AnalyzeOptions struct {
	MinInliers    int    // минимум инлайеров для принятия гомографии
	MatchLimit    int    // ограничение числа лучших матчей, 0 — без ограничения
	BlurKernel    int    // нечётный размер ядра размытия перед SSIM, <=1 отключает
	MinRegionArea int    // минимальная площадь контура региона в пикселях
	ColorMode     string // none | histogram | lab-clahe | auto
}

// AlignmentReport — отчёт этапа выравнивания, сериализуется в report.json.
type AlignmentReport struct {
	AlignmentMethod    string            `json:"alignment_method"`
	ColorNormalization string            `json:"color_normalization"`
	SSIM               float64           `json:"ssim"`
	ROICount           int               `json:"roi_count"`
	ROIs               []Region          `json:"rois"`
	Before             string            `json:"before"`
	After              string            `json:"after"`
	Artifacts          map[string]string `json:"-"`
}
