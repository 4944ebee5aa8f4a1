package config

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Config struct {
	Port          string `json:"port"`
	ProjectPath   string `json:"projectPath"`   // файл проекта или каталог с *.yml
	DataDir       string `json:"dataDir"`       // файлы материализованных сущностей
	DataSourceDir string `json:"dataSourceDir"` // каталог описаний источников данных (опционально)
	InlineLimit   int    `json:"inlineLimit"`   // до стольких строк материализация inline

	QueryTimeout    time.Duration `json:"-"`
	QueryTimeoutRaw string        `json:"queryTimeout"` // "30s"

	LogLevel  string `json:"logLevel"`  // debug | info | warn | error
	LogFormat string `json:"logFormat"` // json | console
}

func def() Config {
	return Config{
		Port:            "8080",
		ProjectPath:     "project.yml",
		DataDir:         "data",
		DataSourceDir:   "",
		InlineLimit:     1000,
		QueryTimeout:    30 * time.Second,
		QueryTimeoutRaw: "30s",
		LogLevel:        "info",
		LogFormat:       "json",
	}
}

func loadJSON(path string, c Config) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return c, err
	}
	if err := json.Unmarshal(b, &c); err != nil {
		return c, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func getenv(k, fallback string) string {
	if v, ok := os.LookupEnv(k); ok && strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func getenvInt(k string, fallback int) int {
	if v, ok := os.LookupEnv(k); ok {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return fallback
}

// LoadWithPath вызывает Load с аргументами командной строки процесса.
func LoadWithPath(jsonPath string) (Config, error) {
	return Load(jsonPath, os.Args[1:])
}

// Load: значения по умолчанию, затем JSON (если файл есть), .env и SHAPESHIFTER_* из окружения,
// затем флаги.
func Load(jsonPath string, args []string) (Config, error) {
	cfg := def()

	// JSON (если файл существует)
	if st, err := os.Stat(jsonPath); err == nil && !st.IsDir() {
		if cfg, err = loadJSON(jsonPath, cfg); err != nil {
			return cfg, err
		}
	}

	// .env не обязателен; уже заданные переменные окружения не перекрываются
	_ = godotenv.Load()

	// ENV overrides
	cfg.Port = getenv("SHAPESHIFTER_PORT", cfg.Port)
	cfg.ProjectPath = getenv("SHAPESHIFTER_PROJECT", cfg.ProjectPath)
	cfg.DataDir = getenv("SHAPESHIFTER_DATA_DIR", cfg.DataDir)
	cfg.DataSourceDir = getenv("SHAPESHIFTER_DATA_SOURCES", cfg.DataSourceDir)
	cfg.InlineLimit = getenvInt("SHAPESHIFTER_INLINE_LIMIT", cfg.InlineLimit)
	cfg.QueryTimeoutRaw = getenv("SHAPESHIFTER_QUERY_TIMEOUT", cfg.QueryTimeoutRaw)
	cfg.LogLevel = getenv("SHAPESHIFTER_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("SHAPESHIFTER_LOG_FORMAT", cfg.LogFormat)

	// Flags overrides
	fs := flag.NewFlagSet("shapeshifter", flag.ContinueOnError)
	configPath := fs.String("config", jsonPath, "Path to config JSON")
	port := fs.String("port", cfg.Port, "HTTP port")
	project := fs.String("project", cfg.ProjectPath, "Project file or directory")
	data := fs.String("data-dir", cfg.DataDir, "Directory for materialized data files")
	sources := fs.String("data-sources", cfg.DataSourceDir, "Directory with data source definitions")
	inline := fs.Int("inline-limit", cfg.InlineLimit, "Max rows stored inline on materialization")
	timeout := fs.String("query-timeout", cfg.QueryTimeoutRaw, "Query timeout (e.g. 30s)")
	level := fs.String("log-level", cfg.LogLevel, "Log level (debug/info/warn/error)")
	format := fs.String("log-format", cfg.LogFormat, "Log format (json/console)")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	// Если через флаг передали другой конфиг, перечитаем
	if *configPath != jsonPath {
		return Load(*configPath, args)
	}

	cfg.Port = strings.TrimSpace(*port)
	cfg.ProjectPath = strings.TrimSpace(*project)
	cfg.DataDir = strings.TrimSpace(*data)
	cfg.DataSourceDir = strings.TrimSpace(*sources)
	cfg.InlineLimit = *inline
	cfg.QueryTimeoutRaw = strings.TrimSpace(*timeout)
	cfg.LogLevel = strings.TrimSpace(*level)
	cfg.LogFormat = strings.TrimSpace(*format)

	d, err := time.ParseDuration(cfg.QueryTimeoutRaw)
	if err != nil {
		return cfg, fmt.Errorf("query timeout %q: %w", cfg.QueryTimeoutRaw, err)
	}
	cfg.QueryTimeout = d
	if cfg.InlineLimit < 0 {
		return cfg, fmt.Errorf("inline limit must be non-negative, got %d", cfg.InlineLimit)
	}
	return cfg, nil
}

// NewLogger: zap production-конфигурация с заданным уровнем и форматом.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	switch format {
	case "", "json":
	case "console":
		zc.Encoding = "console"
		zc.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
	logger, err := zc.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
