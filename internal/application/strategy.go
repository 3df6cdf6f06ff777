package app

import (
	"context"
	"os"

	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
)

// pipelineStrategy — топология пайплайна для одной пары кадров.
// Новый домен добавляется новым вариантом, а не ветвлением внутри
// существующих.
type pipelineStrategy interface {
	run(ctx context.Context, pc *pairContext) (map[string]*entity.StageOutcome, error)
}

func (s *PipelineService) strategyFor(domain entity.Domain) pipelineStrategy {
	switch domain {
	case entity.DomainManufacturing:
		return &manufacturingStrategy{s}
	case entity.DomainInfrastructure:
		return &infrastructureStrategy{s}
	}
	return &defaultStrategy{s}
}

// defaultStrategy: выравнивание, детекция компонентов, затем сегментация
// по областям интереса, извлечённым из отчёта детекции.
type defaultStrategy struct {
	svc *PipelineService
}

func (st *defaultStrategy) run(ctx context.Context, pc *pairContext) (map[string]*entity.StageOutcome, error) {
	results := map[string]*entity.StageOutcome{}
	results["alignment"] = st.svc.runAlignmentStage(ctx, pc)

	component, err := st.svc.runComponentDiffStage(ctx, pc)
	if err != nil {
		return results, err
	}
	results["object_diff"] = component

	segmentation, err := st.svc.runSegmentationStage(ctx, pc)
	if err != nil {
		return results, err
	}
	results["segmentation"] = segmentation
	return results, nil
}

// manufacturingStrategy: один этап поиска дефектов, выравнивание
// отключено для домена.
type manufacturingStrategy struct {
	svc *PipelineService
}

func (st *manufacturingStrategy) run(ctx context.Context, pc *pairContext) (map[string]*entity.StageOutcome, error) {
	results := map[string]*entity.StageOutcome{}
	results["alignment"] = entity.SkippedOutcome("Alignment disabled for manufacturing domain.", entity.StageSkipped)

	pcb, err := st.svc.runPCBStage(ctx, pc)
	if err != nil {
		return results, err
	}
	results["pcb_cd"] = pcb
	return results, nil
}

// infrastructureStrategy: один этап плотной детекции изменений,
// выравнивание отключено для домена. Если выровненный кадр всё же
// существует от предыдущего запуска пары, он передаётся этапу.
type infrastructureStrategy struct {
	svc *PipelineService
}

func (st *infrastructureStrategy) run(ctx context.Context, pc *pairContext) (map[string]*entity.StageOutcome, error) {
	results := map[string]*entity.StageOutcome{}
	alignment := entity.SkippedOutcome("Alignment disabled for infrastructure domain.", entity.StageSkipped)
	results["alignment"] = alignment

	afterPath := pc.afterPath
	if candidate := alignedCandidate(alignment); candidate != "" {
		afterPath = candidate
	}

	changeformer, err := st.svc.runChangeformerStage(ctx, pc, afterPath)
	if err != nil {
		return results, err
	}
	results["changeformer_cd"] = changeformer
	return results, nil
}

// alignedCandidate возвращает путь выровненного кадра из артефактов
// выравнивания, если файл существует. Итог без артефактов означает,
// что этап передаёт исходный кадр дальше без подмены.
func alignedCandidate(alignment *entity.StageOutcome) string {
	if alignment == nil || alignment.Artifacts == nil {
		return ""
	}
	candidate := alignment.Artifacts["aligned"]
	if candidate == "" {
		return ""
	}
	if info, err := os.Stat(candidate); err != nil || info.IsDir() {
		return ""
	}
	return candidate
}
