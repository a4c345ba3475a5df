package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"AgentReceipt/internal/api"
	"AgentReceipt/internal/attestation"
	"AgentReceipt/internal/chain/provider"
	"AgentReceipt/internal/config"
	"AgentReceipt/internal/jobs"
	"AgentReceipt/internal/ledger"
	"AgentReceipt/internal/receipt"
	"AgentReceipt/internal/verify"
	"AgentReceipt/pkg/logger"
)

// main 是 receiptd 守护进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		log.Fatalf("receiptd 运行失败: %v", err)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(config.Path())
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Service:     "receiptd",
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	l := logger.Named("receiptd")

	res := &resources{cfg: cfg, log: l}
	defer res.close()

	registry, err := provider.NewRegistry(ctx, cfg.Chain.DefinitionsPath, cfg.Chain.DefaultNetwork)
	if err != nil {
		return err
	}
	res.push("chain registry", func() error { registry.Close(); return nil })

	attestations := attestation.NewService(attestation.WithChainIDs(registry.ChainIDs()))

	var signer *attestation.KeySigner
	if key := cfg.WriterKey(); key != "" {
		if signer, err = attestation.NewKeySignerFromHex(key); err != nil {
			return err
		}
		l.Info("已加载签名密钥", slog.String("address", signer.Address().Hex()))
	}

	store, err := res.contentStore(ctx)
	if err != nil {
		return err
	}

	publisher, err := res.eventPublisher()
	if err != nil {
		return err
	}

	anchorLedger, contractAddr, err := res.anchorLedger(ctx, registry, signer, publisher)
	if err != nil {
		return err
	}
	anchorer := ledger.NewAnchorer(anchorLedger, res.writerAddress(signer))

	engine, err := verify.NewEngine(verify.Options{
		Resolver:        registry,
		Attestations:    attestations,
		Ledger:          anchorLedger,
		ContractAddress: contractAddr,
		Store:           store,
		CheckTimeout:    cfg.CheckTimeout(),
	})
	if err != nil {
		return err
	}

	jobStore, queue, err := res.jobBackends(ctx)
	if err != nil {
		return err
	}
	jobService := jobs.NewService(jobStore, queue, cfg.Queue.MaxRetries)
	res.push("job service", jobService.Close)

	processor := jobs.NewProcessor(engine, jobStore, queue, queue,
		jobs.WithWorkerCount(cfg.Queue.Workers),
		jobs.WithAlertDispatcher(res.alertDispatcher()),
	)
	processorCtx, processorCancel := context.WithCancel(ctx)
	defer processorCancel()
	go func() {
		if err := processor.Start(processorCtx); err != nil && !errors.Is(err, context.Canceled) {
			l.Error("任务处理器异常退出", slog.Any("error", err))
		}
	}()

	opts := api.Options{
		Addr:           cfg.Server.Address,
		Generator:      receipt.NewGenerator(registry, registry),
		Attestations:   attestations,
		Store:          store,
		Anchorer:       anchorer,
		Verifier:       engine,
		Jobs:           jobService,
		RateLimiter:    api.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		MaxBodyBytes:   cfg.Server.MaxBodyBytes,
		OnChainDefault: cfg.Verify.OnChainDefault,
	}
	if signer != nil {
		opts.Signer = signer
	}
	server := api.NewServer(opts)

	l.Info("receiptd 启动",
		slog.String("storage", cfg.Storage.Driver),
		slog.String("ledger", cfg.Ledger.Driver),
		slog.String("queue", cfg.Queue.Driver),
		slog.Any("chains", registry.Chains()))

	if err := server.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
