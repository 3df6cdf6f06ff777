package entity

// DetectionSet — результат детекции на одном изображении или кропе.
// Списки параллельны друг другу и никогда не равны nil.
type DetectionSet struct {
	Boxes    []Region  // рамки в координатах переданного изображения
	ClassIDs []int     // идентификаторы классов
	Scores   []float64 // уверенности детектора
	Masks    []*Mask   // маски экземпляров, элементы могут быть nil
}

// NewDetectionSet создаёт пустой корректно инициализированный результат.
func NewDetectionSet() *DetectionSet {
	return &DetectionSet{
		Boxes:    []Region{},
		ClassIDs: []int{},
		Scores:   []float64{},
		Masks:    []*Mask{},
	}
}

// Len возвращает число детекций.
func (d *DetectionSet) Len() int {
	return len(d.Boxes)
}

// Append добавляет одну детекцию.
func (d *DetectionSet) Append(box Region, classID int, score float64, mask *Mask) {
	d.Boxes = append(d.Boxes, box)
	d.ClassIDs = append(d.ClassIDs, classID)
	d.Scores = append(d.Scores, score)
	d.Masks = append(d.Masks, mask)
}

// ROIProvenance описывает, какая область интереса породила детекцию.
type ROIProvenance struct {
	ROIIndex int `json:"roi_index"` // порядковый номер ROI во входном списке
	ROI      ROI `json:"roi"`       // исходная область с метаданными
}

// CompositeResult — агрегированные детекции по всем ROI
// вместе с провенансом каждой детекции.
type CompositeResult struct {
	DetectionSet
	Sources []ROIProvenance // параллелен спискам DetectionSet
}

// NewCompositeResult создаёт пустой агрегат.
func NewCompositeResult() *CompositeResult {
	return &CompositeResult{
		DetectionSet: *NewDetectionSet(),
		Sources:      []ROIProvenance{},
	}
}
