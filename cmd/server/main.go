package main

import (
	"log"

	"go.uber.org/zap"

	"shapeshifter/internal/api"
	"shapeshifter/internal/config"
	"shapeshifter/internal/datasource"
	"shapeshifter/internal/extract"
	"shapeshifter/internal/materialize"
	"shapeshifter/internal/pipeline"
	"shapeshifter/internal/query"
)

func main() {
	// 1. Конфиг и логгер
	cfg, err := config.LoadWithPath("config.json")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := config.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()

	// 2. Проект
	project, err := api.LoadProject(cfg.ProjectPath)
	if err != nil {
		logger.Fatal("project load failed", zap.String("path", cfg.ProjectPath), zap.Error(err))
	}
	logger.Info("project loaded", zap.String("path", cfg.ProjectPath), zap.Int("entities", len(project.Order)))

	// 3. Источники данных: каталог + options.data_sources проекта
	sources := project.Options.DataSources
	if cfg.DataSourceDir != "" {
		catalog, err := datasource.LoadCatalog(cfg.DataSourceDir)
		if err != nil {
			logger.Fatal("data source catalog load failed", zap.String("dir", cfg.DataSourceDir), zap.Error(err))
		}
		sources = datasource.Merge(catalog, sources)
	}
	logger.Info("data sources", zap.Strings("names", datasource.Names(sources)))

	queries := query.NewSQLRunner(sources, cfg.QueryTimeout)
	defer queries.Close()

	// 4. Сервисы
	blobs := materialize.NewLocalBlobStore(cfg.DataDir)
	mat := materialize.NewService(blobs, cfg.InlineLimit)
	runner := pipeline.New(extract.New(queries, mat), logger)
	storage := api.NewStorage(cfg.ProjectPath, project, runner, mat, logger)

	// 5. REST API
	logger.Info("starting server", zap.String("port", cfg.Port))
	if err := api.RunServer(":"+cfg.Port, storage); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}
