package port

import (
	"context"
	"time"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
)

// StageSpec описывает один запуск внешнего аналитического этапа.
type StageSpec struct {
	Name    string        // имя этапа для логов и отчётов
	Command string        // исполняемый файл этапа
	Args    []string      // аргументы командной строки
	WorkDir string        // рабочий каталог, создаётся при необходимости
	Timeout time.Duration // 0 — без ограничения по времени
}

// StageRunner интерфейс исполнителя внешних этапов
type StageRunner interface {
	// Run синхронно выполняет этап и возвращает запись вызова.
	// Ненулевой код завершения приходит как *stage.ExecutionError.
	Run(ctx context.Context, spec StageSpec) (*entity.StageInvocation, error)
}
