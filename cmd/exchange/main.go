package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"stockmart/params"
	"stockmart/pkg/agent"
	"stockmart/pkg/api"
	"stockmart/pkg/exchange"
	"stockmart/pkg/journal"
	"stockmart/pkg/metrics"
	"stockmart/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLoggerWithFile(cfg.Server.LogFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Server.LogFile)

	jnl, err := journal.Open(cfg.Server.JournalPath)
	if err != nil {
		sugar.Fatalw("journal_open_failed", "path", cfg.Server.JournalPath, "err", err)
	}
	defer jnl.Close()

	collector := metrics.NewCollector()

	exch := exchange.New(sugar, exchange.WithObserver(collector))
	collector.WatchWaiting(exch.WaitingOrders)
	exch.AddTradeListener(func(tx exchange.Transaction) {
		if err := jnl.Append(tx); err != nil {
			sugar.Errorw("journal_append_failed", "transaction_id", tx.ID, "err", err)
		}
	})

	server := api.NewServer(exch, sugar, api.WithMetricsHandler(collector.Handler()))
	exch.AddTradeListener(server.TradeListener())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if cfg.Sim.RunFor > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Sim.RunFor)
		defer cancel()
	}

	go func() {
		if err := server.Start(cfg.Server.HTTPAddr); err != nil {
			sugar.Errorw("api_server_failed", "err", err)
			stop()
		}
	}()

	// ---- Simulated agents ----
	agentCfg := agent.DefaultConfig(cfg.Sim.Companies)
	agentCfg.Tick = cfg.Sim.AgentTick
	agentCfg.Patience = cfg.Sim.AgentPatience

	var wg sync.WaitGroup
	for i := 0; i < cfg.Sim.NumAgents; i++ {
		a := agent.New(exch, agentCfg, sugar, nil)
		if err := a.Register(); err != nil {
			sugar.Fatalw("agent_register_failed", "agent_id", a.ID, "err", err)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Run(ctx)
		}()
	}
	sugar.Infow("simulation_started",
		"agents", cfg.Sim.NumAgents, "companies", cfg.Sim.Companies,
		"http_addr", cfg.Server.HTTPAddr)

	<-ctx.Done()
	sugar.Infow("shutting_down")

	wg.Wait()
	exch.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("api_shutdown_failed", "err", err)
	}
	sugar.Infow("simulation_stopped", "journaled_trades", jnl.Len())
}
