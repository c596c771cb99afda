package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/matthew-bram/test-probe/internal/blockstorage"
	"github.com/matthew-bram/test-probe/internal/config"
	"github.com/matthew-bram/test-probe/internal/cucumber"
	"github.com/matthew-bram/test-probe/internal/cucumber/steps"
	"github.com/matthew-bram/test-probe/internal/dsl"
	"github.com/matthew-bram/test-probe/internal/fsm"
	"github.com/matthew-bram/test-probe/internal/httpapi"
	"github.com/matthew-bram/test-probe/internal/observability"
	"github.com/matthew-bram/test-probe/internal/queue"
	"github.com/matthew-bram/test-probe/internal/rosetta"
	"github.com/matthew-bram/test-probe/internal/serde"
	"github.com/matthew-bram/test-probe/internal/streaming"
	"github.com/matthew-bram/test-probe/internal/supervisor"
	"github.com/matthew-bram/test-probe/internal/vault"
)

// Glue is the process glue registry. Step packages register their
// initializers here from init functions before main runs.
var Glue = cucumber.NewGlueRegistry()

func init() {
	Glue.Register(steps.GlueName, steps.Initializer)
}

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Log.Level, cfg.Log.Format)
	promRegistry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promRegistry)

	registryClient, err := serde.NewFranzRegistry(cfg.Kafka.SchemaRegistryURL)
	if err != nil {
		logger.Error("failed to connect schema registry", "error", err)
		os.Exit(1)
	}
	serde.Initialize(registryClient)
	dispatcher, _ := serde.Global()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	invoker, err := vault.NewInvoker(ctx, vault.ProviderConfig{
		Provider:     cfg.Vault.Provider,
		Endpoint:     cfg.Vault.Endpoint,
		FunctionName: cfg.Vault.FunctionName,
		FunctionKey:  cfg.Vault.FunctionKey,
		Region:       cfg.Vault.Region,
		FixtureFile:  cfg.Vault.FixtureFile,
	}, &http.Client{Timeout: 30 * time.Second})
	if err != nil {
		logger.Error("failed to build vault transport", "error", err)
		os.Exit(1)
	}

	vaultClient := vault.NewClient(invoker, cfg.Vault.Rosetta, cfg.Vault.RequestParams, rosetta.JaasDefaults{
		TokenEndpoint: cfg.OAuth.TokenEndpoint,
		Scope:         cfg.OAuth.Scope,
	}, logger)

	storageChild := blockstorage.NewChild(blockstorage.ProviderConfig{
		Provider:     cfg.Storage.Provider,
		ManifestName: cfg.Storage.ManifestName,
		LocalRoot:    cfg.Storage.LocalRoot,
		S3: blockstorage.S3Config{
			Endpoint:  cfg.Storage.S3.Endpoint,
			Region:    cfg.Storage.S3.Region,
			AccessKey: cfg.Storage.S3.AccessKey,
			SecretKey: cfg.Storage.S3.SecretKey,
			Insecure:  cfg.Storage.S3.Insecure,
		},
		Azure: blockstorage.AzureConfig{
			StorageAccount: cfg.Storage.Azure.StorageAccount,
		},
	}, logger)

	streamRegistry := streaming.NewRegistry()
	dsl.Initialize(dsl.New(streamRegistry, cfg.DSL.AskTimeout))

	streamFactory := &streaming.Factory{
		BootstrapServers: cfg.Kafka.BootstrapServers,
		Decoder:          dispatcher,
		Logger:           logger,
		Metrics:          metrics,
	}
	runner := cucumber.NewRunner(Glue, logger)

	// The supervisor is constructed after the queue; crashes reported in
	// the window between are only logged.
	var sup *supervisor.Supervisor
	onCrash := func(component string, cause any) {
		if sup != nil {
			sup.NoteCrash(component, cause)
		}
	}

	factory := func(testID, bucket string, onTerminal func(fsm.Outcome)) queue.Execution {
		return fsm.New(fsm.Config{
			TestID:   testID,
			Bucket:   bucket,
			Storage:  storageChild,
			Vault:    vaultClient,
			Streams:  streamFactory,
			Runner:   runner,
			Registry: streamRegistry,
			Timeouts: fsm.Timeouts{
				Setup:     cfg.Timers.Setup,
				Loading:   cfg.Timers.Loading,
				Testing:   cfg.Timers.Testing,
				Completed: cfg.Timers.Completed,
				Exception: cfg.Timers.Exception,
			},
			Logger:     logger,
			Metrics:    metrics,
			OnTerminal: onTerminal,
			OnCrash:    onCrash,
		})
	}

	admissionQueue := queue.New(queue.Config{
		Capacity:        cfg.Queue.Capacity,
		HistoryCapacity: cfg.Queue.HistoryCapacity,
		Factory:         factory,
		Logger:          logger,
		Metrics:         metrics,
		OnCrash:         onCrash,
	})

	sup = supervisor.New(supervisor.Config{
		Queue:      admissionQueue,
		AskTimeout: cfg.DSL.AskTimeout,
		Fatal: func(reason string) {
			logger.Error("supervisor giving up", "reason", reason)
			os.Exit(1)
		},
		Logger:  logger,
		Metrics: metrics,
	})

	server := httpapi.NewServer(httpapi.Config{
		Addr:                  cfg.HTTPAddr(),
		RequestTimeout:        cfg.HTTP.Timeout,
		MaxConcurrentRequests: cfg.HTTP.MaxConcurrentRequests,
		PromRegistry:          promRegistry,
	}, sup, logger)

	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
		}
	}()

	logger.Info("test probe started", "system", cfg.ActorSystemName, "addr", cfg.HTTPAddr())
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}
	admissionQueue.Stop()
	logger.Info("shutdown complete")
}
