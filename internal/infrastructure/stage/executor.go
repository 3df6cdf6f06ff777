package stage

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
)

// ExecutionError — единственный тип ошибки исполнителя.
// Несёт полную запись вызова для диагностики и отчёта задачи.
type ExecutionError struct {
	Invocation *entity.StageInvocation
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("stage %q failed with exit code %d", e.Invocation.Stage, e.Invocation.ExitCode)
}

// Executor запускает внешние аналитические этапы как дочерние процессы.
type Executor struct {
	log zerolog.Logger
}

// NewExecutor создаёт исполнитель этапов.
func NewExecutor(log zerolog.Logger) *Executor {
	return &Executor{log: log}
}

// Run синхронно выполняет этап, захватывая stdout и stderr.
// Политика повторов принадлежит оркестратору, исполнитель не повторяет запуск.
func (e *Executor) Run(ctx context.Context, spec port.StageSpec) (*entity.StageInvocation, error) {
	if err := os.MkdirAll(spec.WorkDir, 0o755); err != nil {
		return nil, fmt.Errorf("create stage work dir: %w", err)
	}

	runCtx := ctx
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	command := append([]string{spec.Command}, spec.Args...)
	e.log.Info().Str("stage", spec.Name).Strs("command", command).Msg("running stage")

	cmd := exec.CommandContext(runCtx, spec.Command, spec.Args...)
	cmd.Dir = spec.WorkDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	// Недоступный бинарник или снятый по тайм-ауту процесс не оставляют
	// кода завершения, такая запись помечается кодом -1.
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	invocation := &entity.StageInvocation{
		Stage:    spec.Name,
		Command:  command,
		Stdout:   strings.TrimSpace(stdout.String()),
		Stderr:   strings.TrimSpace(stderr.String()),
		ExitCode: exitCode,
		WorkDir:  spec.WorkDir,
		Status:   entity.StageOK,
	}

	if runErr != nil {
		invocation.Status = entity.StageFailed
		if invocation.Stderr == "" {
			invocation.Stderr = runErr.Error()
		}
		e.log.Error().
			Str("stage", spec.Name).
			Int("exitCode", invocation.ExitCode).
			Str("stdout", invocation.Stdout).
			Str("stderr", invocation.Stderr).
			Msg("stage failed")
		return nil, &ExecutionError{Invocation: invocation}
	}

	e.log.Info().Str("stage", spec.Name).Msg("stage completed")
	return invocation, nil
}

// Проверка реализации интерфейса
var _ port.StageRunner = (*Executor)(nil)
