package bootstrap

import (
	"context"
	"log/slog"

	"go.uber.org/fx"
	"gorm.io/gorm"

	"defectflow/internal/bootstrap/config"
	"defectflow/internal/bootstrap/database"
	"defectflow/internal/bootstrap/logging"
	"defectflow/internal/domain/defect"
	cacheinfra "defectflow/internal/infrastructure/cache"
	"defectflow/internal/infrastructure/notify"
	sqliterepo "defectflow/internal/infrastructure/persistence/sqlite/repository"
	sqliteuow "defectflow/internal/infrastructure/persistence/sqlite/uow"
	"defectflow/internal/infrastructure/scoring"
	"defectflow/internal/ports"
	"defectflow/internal/usecase/workflow"
)

var Module = fx.Options(
	fx.Provide(provideConfig),
	fx.Provide(provideDatabase),
	fx.Provide(provideApp),
	fx.Provide(providePipelines),
	fx.Provide(provideEvaluator),
	fx.Provide(provideNotifier),
	fx.Provide(
		fx.Annotate(
			sqliterepo.NewWorkflowRepository,
			fx.As(new(ports.WorkflowRepository)),
		),
	),
	fx.Provide(
		fx.Annotate(
			sqliteuow.NewUnitOfWork,
			fx.As(new(ports.UnitOfWork)),
		),
	),
	fx.Provide(
		fx.Annotate(
			cacheinfra.NewSQLiteCache,
			fx.As(new(ports.Cache)),
		),
	),
	fx.Provide(provideService),
)

type configParams struct {
	fx.In

	Ctx        context.Context
	ConfigFile string `name:"configFile"`
}

func provideConfig(p configParams) (config.Config, error) {
	ctx := logging.WithAttrs(p.Ctx, slog.String("component", "bootstrap.fx"))
	return config.Load(ctx, p.ConfigFile)
}

func provideDatabase(lc fx.Lifecycle, ctx context.Context, cfg config.Config) (*gorm.DB, error) {
	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.fx"))

	db, err := database.Open(logCtx, cfg.Database)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(_ context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})

	return db, nil
}

func provideApp(cfg config.Config, db *gorm.DB) *App {
	return &App{
		Config: cfg,
		DB:     db,
	}
}

func providePipelines(cfg config.Config) (defect.Pipelines, error) {
	if cfg.Workflow.PipelineProfile == "" {
		return defect.BuiltinPipelines(), nil
	}
	return defect.LoadPipelineProfile(cfg.Workflow.PipelineProfile)
}

func provideEvaluator(cfg config.Config) (ports.Evaluator, error) {
	return scoring.NewHTTPEvaluator(scoring.Config{
		BaseURL: cfg.Scoring.BaseURL,
		Timeout: cfg.Scoring.Timeout(),
	})
}

func provideNotifier(cfg config.Config) (ports.Notifier, error) {
	return notify.NewHTTPNotifier(notify.Config{
		BaseURL: cfg.Notifier.BaseURL,
		Timeout: cfg.Notifier.Timeout(),
	})
}

func provideService(
	cfg config.Config,
	repo ports.WorkflowRepository,
	uow ports.UnitOfWork,
	cache ports.Cache,
	evaluator ports.Evaluator,
	notifier ports.Notifier,
	pipelines defect.Pipelines,
) *workflow.Service {
	return workflow.NewService(repo, uow, cache, evaluator, notifier, pipelines, workflow.Options{
		CompactReinvites: cfg.Workflow.CompactReinvites,
		SelfEvalTTL:      cfg.Workflow.SelfEvalTTL(),
	})
}
