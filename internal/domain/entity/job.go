package entity

import (
	"strings"
	"time"
)

// ComparisonMode задаёт способ построения пар кадров.
type ComparisonMode string

const (
	ModeBaselineFanout ComparisonMode = "baseline-fanout" // базовый кадр против всех остальных
	ModeConsecutive    ComparisonMode = "consecutive"     // соседние кадры попарно
)

// ParseComparisonMode нормализует строку режима сравнения.
// Историческое написание "baseline" принимается как baseline-fanout.
func ParseComparisonMode(raw string) (ComparisonMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "baseline", "baseline-fanout":
		return ModeBaselineFanout, true
	case "consecutive":
		return ModeConsecutive, true
	}
	return "", false
}

// Domain — вариант топологии пайплайна.
type Domain string

const (
	DomainDefault        Domain = ""               // выравнивание + детекция компонентов + сегментация
	DomainManufacturing  Domain = "manufacturing"  // один этап поиска дефектов, без выравнивания
	DomainInfrastructure Domain = "infrastructure" // один этап плотной детекции изменений, без выравнивания
)

// ParseDomain приводит метку домена к известному варианту.
// Неизвестные метки трактуются как домен по умолчанию.
func ParseDomain(raw string) Domain {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(DomainManufacturing):
		return DomainManufacturing
	case string(DomainInfrastructure):
		return DomainInfrastructure
	}
	return DomainDefault
}

// FramePair — индексы сравниваемых кадров.
type FramePair struct {
	Before int // индекс опорного кадра
	After  int // индекс целевого кадра
}

// ComparisonPairs разворачивает список кадров в пары сравнения.
// Менее двух кадров дают пустой список, проверка количества лежит на вызывающем.
func ComparisonPairs(frameCount, baselineIndex int, mode ComparisonMode) []FramePair {
	if frameCount < 2 {
		return []FramePair{}
	}
	pairs := make([]FramePair, 0, frameCount-1)
	if mode == ModeConsecutive {
		for i := 0; i < frameCount-1; i++ {
			pairs = append(pairs, FramePair{Before: i, After: i + 1})
		}
		return pairs
	}
	for i := 0; i < frameCount; i++ {
		if i == baselineIndex {
			continue
		}
		pairs = append(pairs, FramePair{Before: baselineIndex, After: i})
	}
	return pairs
}

// Frame — сохранённый входной кадр задачи.
type Frame struct {
	Index        int    `json:"index"`
	Path         string `json:"path"`
	OriginalName string `json:"originalName"`
}

// TimelineEntry — результат одного сравнения пары кадров.
type TimelineEntry struct {
	BeforeIndex    int                      `json:"beforeIndex"`
	AfterIndex     int                      `json:"afterIndex"`
	BeforePath     string                   `json:"beforePath"`
	AfterPath      string                   `json:"afterPath"`
	ComparisonRoot string                   `json:"comparisonRoot"`
	Pipeline       map[string]*StageOutcome `json:"pipeline"`
}

// JobError описывает этап, на котором задача упала.
type JobError struct {
	Message string `json:"message"`
	Stage   string `json:"stage,omitempty"`
	Stdout  string `json:"stdout,omitempty"`
	Stderr  string `json:"stderr,omitempty"`
}

// JobStatus — итоговый статус задачи.
type JobStatus string

const (
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job — итоговая запись задачи сравнения. После финализации не меняется.
type Job struct {
	ID             string                   `json:"jobId"`
	Status         JobStatus                `json:"status"`
	StartedAt      time.Time                `json:"startedAt"`
	CompletedAt    time.Time                `json:"completedAt"`
	DurationMs     int64                    `json:"durationMs"`
	ComparisonMode ComparisonMode           `json:"comparisonMode"`
	BaselineIndex  int                      `json:"baselineIndex"`
	Frames         []Frame                  `json:"frames"`
	Timeline       []TimelineEntry          `json:"timeline"`
	Pipeline       map[string]*StageOutcome `json:"pipeline,omitempty"`
	Metadata       map[string]string        `json:"metadata,omitempty"`
	Error          *JobError                `json:"error,omitempty"`
}

// Finalize фиксирует статус, длительность и сводный пайплайн задачи.
func (j *Job) Finalize(status JobStatus, finished time.Time, jobErr *JobError) {
	j.Status = status
	j.CompletedAt = finished
	j.DurationMs = finished.Sub(j.StartedAt).Milliseconds()
	j.Error = jobErr
	if len(j.Timeline) > 0 {
		j.Pipeline = j.Timeline[len(j.Timeline)-1].Pipeline
	}
}
