package entity

// StageStatus — статус выполнения этапа.
type StageStatus string

const (
	StageOK      StageStatus = "ok"      // этап завершился успешно
	StageFailed  StageStatus = "failed"  // этап вернул ошибку
	StageSkipped StageStatus = "skipped" // этап пропущен по эвристике или домену
)

// StageInvocation — неизменяемая запись одного запуска внешнего этапа.
type StageInvocation struct {
	Stage    string      `json:"stage"`    // имя этапа
	Command  []string    `json:"command"`  // полная командная строка
	Stdout   string      `json:"stdout"`   // захваченный stdout
	Stderr   string      `json:"stderr"`   // захваченный stderr
	ExitCode int         `json:"exitCode"` // код завершения процесса
	WorkDir  string      `json:"workDir"`  // рабочий каталог этапа
	Status   StageStatus `json:"status"`
}

// StageOutcome — итог этапа в терминах пайплайна: сводка, отчёт и артефакты.
// Неизвестные поля отчёта сохраняются как есть.
type StageOutcome struct {
	Summary   map[string]any    `json:"summary,omitempty"`
	Report    map[string]any    `json:"report,omitempty"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
	ImageSize *ImageSize        `json:"imageSize,omitempty"`
	Logs      string            `json:"logs,omitempty"`
	Skipped   bool              `json:"skipped,omitempty"`
	Reason    string            `json:"reason,omitempty"`
}

// ImageSize — размеры изображения в пикселях.
type ImageSize struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// SkippedOutcome строит стандартный итог пропущенного этапа выравнивания.
func SkippedOutcome(reason string, status StageStatus) *StageOutcome {
	if reason == "" {
		reason = "Alignment skipped due to low similarity."
	}
	return &StageOutcome{
		Summary: map[string]any{
			"alignment_method": string(status),
			"reason":           reason,
			"ssim":             nil,
		},
		Report: map[string]any{
			"status": string(status),
			"reason": reason,
		},
		Skipped: true,
		Reason:  reason,
	}
}
