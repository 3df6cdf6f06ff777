package entity

// Region представляет область изменения на изображении.
type Region struct {
	X1         int      `json:"x1"`                   // левая граница в пикселях
	Y1         int      `json:"y1"`                   // верхняя граница в пикселях
	X2         int      `json:"x2"`                   // правая граница в пикселях
	Y2         int      `json:"y2"`                   // нижняя граница в пикселях
	Area       float64  `json:"area"`                 // площадь контура в пикселях
	ClassName  string   `json:"class_name,omitempty"` // метка класса, если известна
	Confidence *float64 `json:"confidence,omitempty"` // уверенность детектора
}

// Width возвращает ширину области.
func (r Region) Width() int {
	return r.X2 - r.X1
}

// Height возвращает высоту области.
func (r Region) Height() int {
	return r.Y2 - r.Y1
}

// Center возвращает координаты центра области.
func (r Region) Center() (x, y int) {
	return r.X1 + r.Width()/2, r.Y1 + r.Height()/2
}

// Clamp обрезает границы области по размеру изображения.
func (r Region) Clamp(width, height int) Region {
	out := r
	out.X1 = clampInt(out.X1, 0, width)
	out.Y1 = clampInt(out.Y1, 0, height)
	out.X2 = clampInt(out.X2, 0, width)
	out.Y2 = clampInt(out.Y2, 0, height)
	return out
}

// Expand расширяет область на padding пикселей в каждую сторону
// с обрезкой по границам изображения.
func (r Region) Expand(padding, width, height int) Region {
	out := r
	out.X1 = clampInt(out.X1-padding, 0, width)
	out.Y1 = clampInt(out.Y1-padding, 0, height)
	out.X2 = clampInt(out.X2+padding, 0, width)
	out.Y2 = clampInt(out.Y2+padding, 0, height)
	return out
}

// ROI — область интереса, передаваемая между этапами пайплайна.
type ROI struct {
	Region
	SourceStage string `json:"source,omitempty"`  // этап, который создал область
	Changed     bool   `json:"changed,omitempty"` // признак изменения из предыдущего этапа
}

// Mask — полноразмерная булева маска экземпляра.
type Mask struct {
	Width  int
	Height int
	Bits   []bool
}

// NewMask создаёт пустую маску заданного размера.
func NewMask(width, height int) *Mask {
	return &Mask{Width: width, Height: height, Bits: make([]bool, width*height)}
}

// At возвращает значение маски в точке (x, y).
func (m *Mask) At(x, y int) bool {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return false
	}
	return m.Bits[y*m.Width+x]
}

// Set задаёт значение маски в точке (x, y).
func (m *Mask) Set(x, y int, v bool) {
	if x < 0 || y < 0 || x >= m.Width || y >= m.Height {
		return
	}
	m.Bits[y*m.Width+x] = v
}

// Area возвращает число активных пикселей маски.
func (m *Mask) Area() int {
	count := 0
	for _, b := range m.Bits {
		if b {
			count++
		}
	}
	return count
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
