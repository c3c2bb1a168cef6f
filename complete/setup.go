package complete

import (
	"log/slog"

	azlet "github.com/Paranoid-AF/azlet"
	"github.com/Paranoid-AF/azlet/resource"
	"github.com/Paranoid-AF/azlet/worker"
)

// New builds an engine from configuration: a worker supervisor, the az
// profile and login watchers, the ARM lister and the resource catalog.
// Nothing is started until the first request except the file watchers.
func New(cfg *azlet.Config, logger *slog.Logger) *Engine {
	if cfg == nil {
		cfg = azlet.DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}

	sup := worker.NewSupervisor(worker.Options{
		Tool:       cfg.Worker.Tool,
		MinVersion: cfg.Worker.MinVersion,
		Python:     cfg.Worker.Python,
		Module:     cfg.Worker.Module,
		ServiceDir: cfg.Worker.ServiceDir,
		RetryDelay: cfg.Worker.RetryDelay,
		Logger:     logger,
	})

	azureDir := azlet.ResolveAzureDir(cfg)
	watch := resource.WatchOptions{PollInterval: cfg.Resources.PollInterval, Logger: logger}
	subs := resource.NewSubscriptionWatcher(azureDir, watch)
	login := resource.NewLoginWatcher(azureDir, resource.LoginOptions{
		WatchOptions: watch,
		Fallback:     resource.CLITokenSource(cfg.Worker.Tool),
	})
	arm := resource.NewARMClient(resource.ARMOptions{
		Endpoint:   cfg.Resources.ARMEndpoint,
		APIVersion: cfg.Resources.APIVersion,
		Logger:     logger,
	})
	catalog := resource.NewCatalog(subs, login, arm,
		resource.WithStaleness(cfg.Resources.Staleness),
		resource.WithFetchTimeout(cfg.Resources.FetchTimeout),
		resource.WithLogger(logger),
	)

	var e *Engine
	svc := NewService(sup, ServiceOptions{
		OnInstallProblem: func(err error) { e.ReportInstallProblem(err) },
		Logger:           logger,
	})
	e = NewEngine(svc, EngineOptions{
		Resources:     catalog,
		MaxCandidates: cfg.Completion.MaxCandidates,
		MaxCommands:   cfg.Recommend.MaxCommands,
		Logger:        logger,
	})
	e.closers = append(e.closers, login.Close, subs.Close, sup.Close)
	logger.Info("engine ready", "tool", cfg.Worker.Tool, "azure_dir", azureDir)
	return e
}
