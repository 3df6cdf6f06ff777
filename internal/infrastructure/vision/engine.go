//go:build gocv
// +build gocv

package vision

import (
	"context"
	"encoding/json"
	"fmt"
	"image"
	"image/color"
	"math"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"gocv.io/x/gocv"

	"github.com/CYCLOP5/vis-diff-trackshift/config"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/entity"
	"github.com/CYCLOP5/vis-diff-trackshift/internal/domain/port"
)

// Engine выравнивает пару кадров и строит карту отличий средствами OpenCV.
type Engine struct {
	cfg config.EngineConfig
	log zerolog.Logger
}

// NewEngine создаёт движок выравнивания с заданными параметрами.
func NewEngine(cfg config.EngineConfig, log zerolog.Logger) *Engine {
	return &Engine{cfg: cfg, log: log}
}

// Analyze выполняет полный проход: выравнивание, нормализация цвета,
// SSIM, извлечение регионов и запись артефактов в outputDir.
func (e *Engine) Analyze(ctx context.Context, beforePath, afterPath, outputDir string, opts entity.AnalyzeOptions) (*entity.AlignmentReport, error) {
	_ = ctx
	opts = e.withDefaults(opts)

	reference := gocv.IMRead(beforePath, gocv.IMReadColor)
	defer reference.Close()
	if reference.Empty() {
		return nil, fmt.Errorf("failed to load reference image: %s", beforePath)
	}
	target := gocv.IMRead(afterPath, gocv.IMReadColor)
	defer target.Close()
	if target.Empty() {
		return nil, fmt.Errorf("failed to load target image: %s", afterPath)
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}

	aligned, method := e.Align(reference, target, opts)
	defer aligned.Close()

	// После варпа размеры могут разойтись с опорным кадром.
	if aligned.Cols() != reference.Cols() || aligned.Rows() != reference.Rows() {
		resized := gocv.NewMat()
		gocv.Resize(aligned, &resized, image.Pt(reference.Cols(), reference.Rows()), 0, 0, gocv.InterpolationArea)
		aligned.Close()
		aligned = resized
		if method == string(entity.AlignNone) {
			method = "resize"
		} else {
			method = method + "+resize"
		}
	}

	colorMode := e.ChooseColorMode(reference, aligned, opts.ColorMode)
	normRef, normAligned := e.NormalizeColors(reference, aligned, colorMode)
	defer normRef.Close()
	defer normAligned.Close()

	refGray := gocv.NewMat()
	defer refGray.Close()
	gocv.CvtColor(normRef, &refGray, gocv.ColorBGRToGray)
	alignedGray := gocv.NewMat()
	defer alignedGray.Close()
	gocv.CvtColor(normAligned, &alignedGray, gocv.ColorBGRToGray)

	if opts.BlurKernel > 1 && opts.BlurKernel%2 == 1 {
		k := image.Pt(opts.BlurKernel, opts.BlurKernel)
		gocv.GaussianBlur(refGray, &refGray, k, 0, 0, gocv.BorderDefault)
		gocv.GaussianBlur(alignedGray, &alignedGray, k, 0, 0, gocv.BorderDefault)
	}

	score, diffGray := e.ComputeDifference(refGray, alignedGray)
	defer diffGray.Close()

	mask := buildMask(diffGray)
	defer mask.Close()
	regions := contourRegions(mask, opts.MinRegionArea)

	overlay := normRef.Clone()
	defer overlay.Close()
	red := color.RGBA{R: 255, A: 255}
	for _, r := range regions {
		gocv.Rectangle(&overlay, image.Rect(r.X1, r.Y1, r.X2, r.Y2), red, 2)
	}

	heatmap := buildHeatmap(diffGray)
	defer heatmap.Close()

	artifacts := map[string]string{
		"aligned": filepath.Join(outputDir, "aligned.png"),
		"diff":    filepath.Join(outputDir, "diff_gray.png"),
		"mask":    filepath.Join(outputDir, "mask.png"),
		"overlay": filepath.Join(outputDir, "overlay.png"),
		"heatmap": filepath.Join(outputDir, "heatmap.png"),
	}
	for name, mat := range map[string]gocv.Mat{
		"aligned": aligned,
		"diff":    diffGray,
		"mask":    mask,
		"overlay": overlay,
		"heatmap": heatmap,
	} {
		if ok := gocv.IMWrite(artifacts[name], mat); !ok {
			return nil, fmt.Errorf("write artifact %s", artifacts[name])
		}
	}

	report := &entity.AlignmentReport{
		AlignmentMethod:    method,
		ColorNormalization: colorMode,
		SSIM:               math.Round(score*10000) / 10000,
		ROICount:           len(regions),
		ROIs:               regions,
		Before:             beforePath,
		After:              afterPath,
		Artifacts:          artifacts,
	}
	payload, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode alignment report: %w", err)
	}
	if err := os.WriteFile(filepath.Join(outputDir, "report.json"), payload, 0o644); err != nil {
		return nil, fmt.Errorf("write alignment report: %w", err)
	}

	e.log.Info().
		Str("method", method).
		Str("colorMode", colorMode).
		Float64("ssim", report.SSIM).
		Int("regions", len(regions)).
		Msg("alignment analysis completed")
	return report, nil
}

// Align подбирает привязку в два приёма: сначала по ключевым точкам,
// затем по интенсивности. Ошибки привязки не фатальны, в худшем случае
// возвращается немодифицированный целевой кадр с методом none.
func (e *Engine) Align(reference, target gocv.Mat, opts entity.AnalyzeOptions) (gocv.Mat, string) {
	if aligned, ok := e.alignFeatures(reference, target, opts); ok {
		return aligned, string(entity.AlignFeature)
	}
	if aligned, ok := e.alignECC(reference, target); ok {
		return aligned, string(entity.AlignECC)
	}
	return target.Clone(), string(entity.AlignNone)
}

// alignFeatures оценивает гомографию по ORB-дескрипторам и RANSAC.
func (e *Engine) alignFeatures(reference, target gocv.Mat, opts entity.AnalyzeOptions) (gocv.Mat, bool) {
	grayRef := gocv.NewMat()
	defer grayRef.Close()
	gocv.CvtColor(reference, &grayRef, gocv.ColorBGRToGray)
	grayTgt := gocv.NewMat()
	defer grayTgt.Close()
	gocv.CvtColor(target, &grayTgt, gocv.ColorBGRToGray)

	orb := gocv.NewORBWithParams(e.cfg.MaxFeatures, 1.2, 8, 31, 0, 2, gocv.ORBScoreTypeHarris, 31, 20)
	defer orb.Close()

	noMask := gocv.NewMat()
	defer noMask.Close()
	keyRef, descRef := orb.DetectAndCompute(grayRef, noMask)
	defer descRef.Close()
	keyTgt, descTgt := orb.DetectAndCompute(grayTgt, noMask)
	defer descTgt.Close()
	if descRef.Empty() || descTgt.Empty() {
		return gocv.Mat{}, false
	}

	matcher := gocv.NewBFMatcherWithParams(gocv.NormHamming, true)
	defer matcher.Close()
	matches := matcher.Match(descRef, descTgt)
	if len(matches) == 0 {
		return gocv.Mat{}, false
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Distance < matches[j].Distance })
	if opts.MatchLimit > 0 && len(matches) > opts.MatchLimit {
		matches = matches[:opts.MatchLimit]
	}

	ptsRef := gocv.NewMatWithSize(len(matches), 1, gocv.MatTypeCV64FC2)
	defer ptsRef.Close()
	ptsTgt := gocv.NewMatWithSize(len(matches), 1, gocv.MatTypeCV64FC2)
	defer ptsTgt.Close()
	for i, m := range matches {
		ptsRef.SetDoubleAt(i, 0, keyRef[m.QueryIdx].X)
		ptsRef.SetDoubleAt(i, 1, keyRef[m.QueryIdx].Y)
		ptsTgt.SetDoubleAt(i, 0, keyTgt[m.TrainIdx].X)
		ptsTgt.SetDoubleAt(i, 1, keyTgt[m.TrainIdx].Y)
	}

	inlierMask := gocv.NewMat()
	defer inlierMask.Close()
	homography := gocv.FindHomography(ptsTgt, &ptsRef, gocv.HomographyMethodRANSAC, e.cfg.RANSACThresh, &inlierMask, 2000, 0.995)
	defer homography.Close()
	if homography.Empty() || gocv.CountNonZero(inlierMask) < opts.MinInliers {
		return gocv.Mat{}, false
	}

	aligned := gocv.NewMat()
	gocv.WarpPerspective(target, &aligned, homography, image.Pt(reference.Cols(), reference.Rows()))
	return aligned, true
}

// alignECC уточняет гомографию максимизацией корреляции интенсивностей.
func (e *Engine) alignECC(reference, target gocv.Mat) (gocv.Mat, bool) {
	grayRef := gocv.NewMat()
	defer grayRef.Close()
	gocv.CvtColor(reference, &grayRef, gocv.ColorBGRToGray)
	grayTgt := gocv.NewMat()
	defer grayTgt.Close()
	gocv.CvtColor(target, &grayTgt, gocv.ColorBGRToGray)

	refNorm := gocv.NewMat()
	defer refNorm.Close()
	grayRef.ConvertToWithParams(&refNorm, gocv.MatTypeCV32F, 1.0/255.0, 0)
	tgtNorm := gocv.NewMat()
	defer tgtNorm.Close()
	grayTgt.ConvertToWithParams(&tgtNorm, gocv.MatTypeCV32F, 1.0/255.0, 0)

	warp := gocv.NewMatWithSize(3, 3, gocv.MatTypeCV32F)
	defer warp.Close()
	for i := 0; i < 3; i++ {
		warp.SetFloatAt(i, i, 1)
	}
	criteria := gocv.NewTermCriteria(gocv.MaxIter|gocv.EPS, e.cfg.ECCIterations, e.cfg.ECCEpsilon)

	// Несходимость решателя всплывает паникой из биндинга.
	converged := func() (ok bool) {
		defer func() {
			if recover() != nil {
				ok = false
			}
		}()
		noMask := gocv.NewMat()
		defer noMask.Close()
		rho := gocv.FindTransformECC(refNorm, tgtNorm, &warp, gocv.MotionHomography, criteria, noMask, 5)
		return rho > -1
	}()
	if !converged {
		return gocv.Mat{}, false
	}

	aligned := gocv.NewMat()
	gocv.WarpPerspectiveWithParams(
		target, &aligned, warp,
		image.Pt(reference.Cols(), reference.Rows()),
		gocv.InterpolationLinear|gocv.WarpInverseMap,
		gocv.BorderConstant, color.RGBA{},
	)
	return aligned, true
}

// ChooseColorMode выбирает стратегию нормализации цвета по статистике яркости.
// Явные режимы проходят без эвристики.
func (e *Engine) ChooseColorMode(reference, target gocv.Mat, requested string) string {
	if requested != "auto" {
		return requested
	}
	grayRef := gocv.NewMat()
	defer grayRef.Close()
	gocv.CvtColor(reference, &grayRef, gocv.ColorBGRToGray)
	grayTgt := gocv.NewMat()
	defer grayTgt.Close()
	gocv.CvtColor(target, &grayTgt, gocv.ColorBGRToGray)

	meanRef, stdRef := grayRef.MeanStdDev()
	meanTgt, stdTgt := grayTgt.MeanStdDev()
	if math.Abs(meanRef.Val1-meanTgt.Val1) > 15.0 {
		return "histogram"
	}
	if math.Abs(stdRef.Val1-stdTgt.Val1) > 10.0 {
		return "lab-clahe"
	}
	return "none"
}

// NormalizeColors применяет выбранную нормализацию и возвращает новые кадры.
func (e *Engine) NormalizeColors(reference, target gocv.Mat, mode string) (gocv.Mat, gocv.Mat) {
	switch mode {
	case "histogram":
		// Гистограмма целевого кадра подгоняется под опорный поканально.
		return reference.Clone(), matchHistograms(target, reference)
	case "lab-clahe":
		// Яркостный канал выравнивается у обоих кадров независимо.
		return applyLabCLAHE(reference), applyLabCLAHE(target)
	}
	return reference.Clone(), target.Clone()
}

// matchHistograms строит поканальные LUT по кумулятивным гистограммам.
func matchHistograms(target, reference gocv.Mat) gocv.Mat {
	tgtChannels := gocv.Split(target)
	refChannels := gocv.Split(reference)
	defer func() {
		for i := range tgtChannels {
			tgtChannels[i].Close()
		}
		for i := range refChannels {
			refChannels[i].Close()
		}
	}()

	matched := make([]gocv.Mat, len(tgtChannels))
	for i := range tgtChannels {
		lut := buildMatchLUT(tgtChannels[i], refChannels[i])
		out := gocv.NewMat()
		gocv.LUT(tgtChannels[i], lut, &out)
		lut.Close()
		matched[i] = out
	}
	defer func() {
		for i := range matched {
			matched[i].Close()
		}
	}()

	result := gocv.NewMat()
	gocv.Merge(matched, &result)
	return result
}

func buildMatchLUT(src, ref gocv.Mat) gocv.Mat {
	srcCDF := channelCDF(src)
	refCDF := channelCDF(ref)
	lut := gocv.NewMatWithSize(1, 256, gocv.MatTypeCV8U)
	j := 0
	for v := 0; v < 256; v++ {
		for j < 255 && refCDF[j] < srcCDF[v] {
			j++
		}
		lut.SetUCharAt(0, v, uint8(j))
	}
	return lut
}

func channelCDF(ch gocv.Mat) [256]float64 {
	hist := gocv.NewMat()
	defer hist.Close()
	noMask := gocv.NewMat()
	defer noMask.Close()
	gocv.CalcHist([]gocv.Mat{ch}, []int{0}, noMask, &hist, []int{256}, []float64{0, 256}, false)

	var cdf [256]float64
	total := float64(ch.Cols() * ch.Rows())
	running := 0.0
	for i := 0; i < 256; i++ {
		running += float64(hist.GetFloatAt(i, 0))
		cdf[i] = running / total
	}
	return cdf
}

// applyLabCLAHE выравнивает локальный контраст L-канала в пространстве Lab.
func applyLabCLAHE(src gocv.Mat) gocv.Mat {
	lab := gocv.NewMat()
	defer lab.Close()
	gocv.CvtColor(src, &lab, gocv.ColorBGRToLab)

	channels := gocv.Split(lab)
	defer func() {
		for i := range channels {
			channels[i].Close()
		}
	}()

	clahe := gocv.NewCLAHEWithParams(2.0, image.Pt(8, 8))
	defer clahe.Close()
	clahe.Apply(channels[0], &channels[0])

	merged := gocv.NewMat()
	defer merged.Close()
	gocv.Merge(channels, &merged)

	out := gocv.NewMat()
	gocv.CvtColor(merged, &out, gocv.ColorLabToBGR)
	return out
}

// ComputeDifference считает SSIM по всему кадру и возвращает скалярную
// оценку вместе с полноразмерной картой отличий в 8-битном диапазоне.
func (e *Engine) ComputeDifference(refGray, tgtGray gocv.Mat) (float64, gocv.Mat) {
	const c1 = 6.5025
	const c2 = 58.5225

	i1 := gocv.NewMat()
	defer i1.Close()
	refGray.ConvertTo(&i1, gocv.MatTypeCV32F)
	i2 := gocv.NewMat()
	defer i2.Close()
	tgtGray.ConvertTo(&i2, gocv.MatTypeCV32F)

	window := image.Pt(11, 11)
	blur := func(src gocv.Mat) gocv.Mat {
		dst := gocv.NewMat()
		gocv.GaussianBlur(src, &dst, window, 1.5, 1.5, gocv.BorderDefault)
		return dst
	}
	square := func(a, b gocv.Mat) gocv.Mat {
		dst := gocv.NewMat()
		gocv.Multiply(a, b, &dst)
		return dst
	}

	mu1 := blur(i1)
	defer mu1.Close()
	mu2 := blur(i2)
	defer mu2.Close()

	mu1Sq := square(mu1, mu1)
	defer mu1Sq.Close()
	mu2Sq := square(mu2, mu2)
	defer mu2Sq.Close()
	mu1Mu2 := square(mu1, mu2)
	defer mu1Mu2.Close()

	i1Sq := square(i1, i1)
	defer i1Sq.Close()
	i2Sq := square(i2, i2)
	defer i2Sq.Close()
	i1I2 := square(i1, i2)
	defer i1I2.Close()

	variance := func(sq, muSq gocv.Mat) gocv.Mat {
		blurred := blur(sq)
		defer blurred.Close()
		dst := gocv.NewMat()
		gocv.Subtract(blurred, muSq, &dst)
		return dst
	}
	sigma1Sq := variance(i1Sq, mu1Sq)
	defer sigma1Sq.Close()
	sigma2Sq := variance(i2Sq, mu2Sq)
	defer sigma2Sq.Close()
	sigma12 := variance(i1I2, mu1Mu2)
	defer sigma12.Close()

	t1 := mu1Mu2.Clone()
	defer t1.Close()
	t1.MultiplyFloat(2)
	t1.AddFloat(c1)

	t2 := sigma12.Clone()
	defer t2.Close()
	t2.MultiplyFloat(2)
	t2.AddFloat(c2)

	numerator := square(t1, t2)
	defer numerator.Close()

	d1 := gocv.NewMat()
	defer d1.Close()
	gocv.Add(mu1Sq, mu2Sq, &d1)
	d1.AddFloat(c1)

	d2 := gocv.NewMat()
	defer d2.Close()
	gocv.Add(sigma1Sq, sigma2Sq, &d2)
	d2.AddFloat(c2)

	denominator := square(d1, d2)
	defer denominator.Close()

	ssimMap := gocv.NewMat()
	defer ssimMap.Close()
	gocv.Divide(numerator, denominator, &ssimMap)

	score := ssimMap.Mean().Val1
	diff := gocv.NewMat()
	ssimMap.ConvertToWithParams(&diff, gocv.MatTypeCV8U, 255, 0)
	return score, diff
}

// ExtractRegions бинаризует карту отличий и возвращает рамки контуров.
// Порядок регионов — порядок обхода контуров, вызывающие не должны
// полагаться на какую-либо сортировку.
func (e *Engine) ExtractRegions(diffGray gocv.Mat, minArea int) []entity.Region {
	mask := buildMask(diffGray)
	defer mask.Close()
	return contourRegions(mask, minArea)
}

// buildMask выделяет сильные отличия порогом Оцу с инверсией:
// на карте SSIM изменённые пиксели тёмные.
func buildMask(diffGray gocv.Mat) gocv.Mat {
	blur := gocv.NewMat()
	defer blur.Close()
	gocv.GaussianBlur(diffGray, &blur, image.Pt(5, 5), 0, 0, gocv.BorderDefault)
	mask := gocv.NewMat()
	gocv.Threshold(blur, &mask, 0, 255, gocv.ThresholdBinaryInv|gocv.ThresholdOtsu)
	return mask
}

func contourRegions(mask gocv.Mat, minArea int) []entity.Region {
	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	regions := make([]entity.Region, 0, contours.Size())
	for i := 0; i < contours.Size(); i++ {
		c := contours.At(i)
		area := gocv.ContourArea(c)
		if area < float64(minArea) {
			continue
		}
		rect := gocv.BoundingRect(c)
		regions = append(regions, entity.Region{
			X1:   rect.Min.X,
			Y1:   rect.Min.Y,
			X2:   rect.Max.X,
			Y2:   rect.Max.Y,
			Area: area,
		})
	}
	return regions
}

func buildHeatmap(diffGray gocv.Mat) gocv.Mat {
	normalized := gocv.NewMat()
	defer normalized.Close()
	gocv.Normalize(diffGray, &normalized, 0, 255, gocv.NormMinMax)
	heatmap := gocv.NewMat()
	gocv.ApplyColorMap(normalized, &heatmap, gocv.ColormapJet)
	return heatmap
}

func (e *Engine) withDefaults(opts entity.AnalyzeOptions) entity.AnalyzeOptions {
	if opts.MinInliers == 0 {
		opts.MinInliers = e.cfg.MinInliers
	}
	if opts.MatchLimit == 0 {
		opts.MatchLimit = e.cfg.MatchLimit
	}
	if opts.BlurKernel == 0 {
		opts.BlurKernel = e.cfg.BlurKernel
	}
	if opts.MinRegionArea == 0 {
		opts.MinRegionArea = e.cfg.MinRegionArea
	}
	if opts.ColorMode == "" {
		opts.ColorMode = e.cfg.ColorMode
	}
	return opts
}

// Проверка реализации интерфейса
var _ port.AlignmentEngine = (*Engine)(nil)
