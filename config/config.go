package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// EngineConfig — параметры движка выравнивания и диффа.
type EngineConfig struct {
	MaxFeatures   int     // число ключевых точек ORB
	MinInliers    int     // минимум инлайеров для принятия гомографии
	MatchLimit    int     // ограничение числа лучших матчей, 0 — без ограничения
	RANSACThresh  float64 // порог репроекции RANSAC в пикселях
	ECCIterations int     // максимум итераций ECC
	ECCEpsilon    float64 // порог сходимости ECC
	BlurKernel    int     // ядро размытия перед SSIM
	MinRegionArea int     // минимальная площадь региона в пикселях
	ColorMode     string  // none | histogram | lab-clahe | auto
}

// FeasibilityConfig — эвристики целесообразности выравнивания.
// Пороговые значения вынесены в конфигурацию, чтобы тесты могли
// проверять граничные случаи напрямую.
type FeasibilityConfig struct {
	SizeTolerance     float64 // допустимая относительная разница размеров
	AspectTolerance   float64 // допустимая относительная разница пропорций
	MeanDiffThreshold float64 // допустимая средняя разница миниатюр [0..1]
	ThumbnailSize     int     // сторона миниатюры для грубого сравнения
}

// StageConfig — настройка одного внешнего этапа.
type StageConfig struct {
	Command   string        // исполняемый файл этапа
	Timeout   time.Duration // 0 — без ограничения по времени
	ExtraArgs []string      // дополнительные аргументы из окружения
}

// Config — настройки оркестратора.
type Config struct {
	DataRoot     string // корень каталогов задач
	HTTPAddr     string // адрес HTTP-сервера
	LogLevel     string // уровень логирования zerolog
	InferenceURL string // адрес сервиса сегментации для компоновщика ROI
	ROIPadding   int    // расширение ROI в пикселях перед кропом

	ComponentDiff StageConfig // внешний этап детекции компонентов
	PCBCD         StageConfig // внешний этап поиска дефектов (manufacturing)
	Changeformer  StageConfig // внешний этап детекции изменений (infrastructure)

	Engine      EngineConfig
	Feasibility FeasibilityConfig
}

// Load читает настройки из окружения с значениями по умолчанию.
func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	cfg := &Config{
		DataRoot:     getenv("ORCHESTRATOR_DATA_ROOT", "data/jobs"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8000"),
		LogLevel:     getenv("LOG_LEVEL", "info"),
		InferenceURL: getenv("SEGMENTATION_URL", ""),
		ROIPadding:   getenvInt("ROI_PADDING", 20),
		ComponentDiff: StageConfig{
			Command: getenv("COMPONENT_DIFF_BIN", "object-diff"),
			Timeout: getenvDuration("COMPONENT_DIFF_TIMEOUT", 0),
		},
		PCBCD: StageConfig{
			Command: getenv("PCB_CD_BIN", "pcb-cd-infer"),
			Timeout: getenvDuration("PCB_CD_TIMEOUT", 0),
			ExtraArgs: getenvArgs(
				"PCB_CD_CHECKPOINT", "--checkpoint",
				"PCB_CD_IMG_SIZE", "--img-size",
			),
		},
		Changeformer: StageConfig{
			Command: getenv("CHANGEFORMER_BIN", "changeformer-cd"),
			Timeout: getenvDuration("CHANGEFORMER_TIMEOUT", 0),
			ExtraArgs: getenvArgs(
				"CHANGEFORMER_CHECKPOINT", "--checkpoint",
				"CHANGEFORMER_IMG_SIZE", "--img-size",
				"CHANGEFORMER_PROB_THRESHOLD", "--prob-threshold",
				"CHANGEFORMER_MIN_REGION_PIXELS", "--min-region-pixels",
			),
		},
		Engine: EngineConfig{
			MaxFeatures:   getenvInt("ALIGN_MAX_FEATURES", 2000),
			MinInliers:    getenvInt("ALIGN_MIN_INLIERS", 50),
			MatchLimit:    getenvInt("ALIGN_MATCH_LIMIT", 0),
			RANSACThresh:  getenvFloat("ALIGN_RANSAC_THRESHOLD", 5.0),
			ECCIterations: getenvInt("ALIGN_ECC_ITERATIONS", 50),
			ECCEpsilon:    getenvFloat("ALIGN_ECC_EPSILON", 1e-6),
			BlurKernel:    getenvInt("DIFF_BLUR_KERNEL", 5),
			MinRegionArea: getenvInt("DIFF_MIN_REGION_AREA", 200),
			ColorMode:     getenv("DIFF_COLOR_MODE", "auto"),
		},
		Feasibility: FeasibilityConfig{
			SizeTolerance:     getenvFloat("ALIGN_SIZE_TOLERANCE", 0.35),
			AspectTolerance:   getenvFloat("ALIGN_ASPECT_TOLERANCE", 0.2),
			MeanDiffThreshold: getenvFloat("ALIGN_MEAN_DIFF_THRESHOLD", 0.6),
			ThumbnailSize:     getenvInt("ALIGN_THUMBNAIL_SIZE", 96),
		},
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

// getenvArgs собирает пары флаг-значение для заданных в окружении
// переопределений. Пары идут в порядке перечисления.
func getenvArgs(pairs ...string) []string {
	var args []string
	for i := 0; i+1 < len(pairs); i += 2 {
		if v := os.Getenv(pairs[i]); v != "" {
			args = append(args, pairs[i+1], v)
		}
	}
	return args
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
