package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
)

// FileJobRepository — файловое хранилище задач.
// Каждая задача живёт в собственном каталоге под dataRoot,
// итоговая запись лежит рядом с артефактами в result.json.
type FileJobRepository struct {
	dataRoot string
}

// NewFileJobRepository создаёт хранилище и корневой каталог задач.
func NewFileJobRepository(dataRoot string) (*FileJobRepository, error) {
	if err := os.MkdirAll(dataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}
	return &FileJobRepository{dataRoot: dataRoot}, nil
}

// CreateWorkspace выделяет каталоги новой задачи.
func (r *FileJobRepository) CreateWorkspace() (*port.JobWorkspace, error) {
	jobID := strings.ReplaceAll(uuid.NewString(), "-", "")
	root := filepath.Join(r.dataRoot, jobID)
	ws := &port.JobWorkspace{
		JobID:       jobID,
		Root:        root,
		InputDir:    filepath.Join(root, "inputs"),
		TimelineDir: filepath.Join(root, "timeline"),
	}
	for _, dir := range []string{ws.InputDir, ws.TimelineDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create job workspace: %w", err)
		}
	}
	return ws, nil
}

// SaveFrame сохраняет загруженный кадр, сохраняя расширение оригинала.
func (r *FileJobRepository) SaveFrame(ws *port.JobWorkspace, index int, originalName string, data []byte) (string, error) {
	suffix := filepath.Ext(originalName)
	if suffix == "" {
		suffix = ".png"
	}
	path := filepath.Join(ws.InputDir, fmt.Sprintf("frame_%02d%s", index, suffix))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("persist frame %d: %w", index, err)
	}
	return path, nil
}

// SaveResult пишет итоговую запись задачи.
func (r *FileJobRepository) SaveResult(ws *port.JobWorkspace, job *entity.Job) error {
	payload, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job result: %w", err)
	}
	if err := os.WriteFile(filepath.Join(ws.Root, "result.json"), payload, 0o644); err != nil {
		return fmt.Errorf("write job result: %w", err)
	}
	return nil
}

// Get читает итоговую запись задачи, nil если задача не найдена.
func (r *FileJobRepository) Get(jobID string) (*entity.Job, error) {
	payload, err := os.ReadFile(filepath.Join(r.dataRoot, jobID, "result.json"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read job result: %w", err)
	}
	var job entity.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return nil, fmt.Errorf("decode job result: %w", err)
	}
	return &job, nil
}

// Root возвращает каталог задачи для раздачи артефактов.
func (r *FileJobRepository) Root(jobID string) string {
	return filepath.Join(r.dataRoot, jobID)
}

// Проверка реализации интерфейса
var _ port.JobRepository = (*FileJobRepository)(nil)
