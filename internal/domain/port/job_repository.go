package port

import "github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"

// JobWorkspace — каталоги одной задачи на диске.
type JobWorkspace struct {
	JobID       string // уникальный идентификатор задачи
	Root        string // корневой каталог задачи
	InputDir    string // каталог сохранённых кадров
	TimelineDir string // каталог результатов сравнений
}

// JobRepository интерфейс файлового хранилища задач
type JobRepository interface {
	// CreateWorkspace выделяет каталоги новой задачи.
	CreateWorkspace() (*JobWorkspace, error)

	// SaveFrame сохраняет загруженный кадр и возвращает путь к файлу.
	SaveFrame(ws *JobWorkspace, index int, originalName string, data []byte) (string, error)

	// SaveResult пишет итоговую запись задачи в result.json.
	SaveResult(ws *JobWorkspace, job *entity.Job) error

	// Get читает итоговую запись задачи, nil если задача не найдена.
	Get(jobID string) (*entity.Job, error)
}
