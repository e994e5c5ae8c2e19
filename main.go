package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nimitsolanki/agentic-ai-crypto-trading/config"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/agent"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/analysis"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/bus"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/exchange"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/execution"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/logging"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/notify"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/portfolio"
	"github.com/nimitsolanki/agentic-ai-crypto-trading/internal/risk"
)

func main() {
	configPath := flag.String("config", "config/config.json", "path to the config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := logging.New(cfg.Logging)
	defer func() { _ = logger.Sync() }()

	msgBus, err := buildBus(cfg, logger)
	if err != nil {
		logger.Fatal("message bus", zap.Error(err))
	}
	defer func() { _ = msgBus.Close() }()

	exch, recorder := buildExchange(cfg, logger)
	notifier := buildNotifier(cfg, logger)

	ledger := portfolio.NewLedger(cfg.InitialCapital, cfg.RiskManagement.VaRConfidence, notifier, logger)
	sizer := risk.NewSizer(cfg.RiskManagement, cfg.Analysis.MinConfidence, ledger, logger)
	pipeline := execution.NewPipeline(exch, msgBus, cfg.Execution, notifier, logger)
	analyzer := analysis.NewAnalyzer(cfg.Analysis.VolumeThreshold, cfg.DataCollection.Timeframes[0], logger)

	supervisor := agent.NewSupervisor(
		time.Duration(cfg.MonitoringInterval)*time.Second, ledger, notifier, logger)

	collectInterval := time.Duration(cfg.DataCollection.UpdateInterval) * time.Second
	supervisor.Register("data_collector", func() (agent.Agent, error) {
		return agent.NewCollector(cfg.TradingPairs, cfg.DataCollection.Timeframes,
			collectInterval, exch, recorder, msgBus, logger), nil
	})
	supervisor.Register("market_analyst", func() (agent.Agent, error) {
		return agent.NewAnalyst(analyzer, msgBus, logger), nil
	})
	supervisor.Register("risk_manager", func() (agent.Agent, error) {
		return agent.NewRiskManager(sizer, msgBus, logger), nil
	})
	supervisor.Register("execution", func() (agent.Agent, error) {
		return agent.NewExecutor(pipeline, msgBus, logger), nil
	})
	supervisor.Register("portfolio_manager", func() (agent.Agent, error) {
		return agent.NewBookkeeper(ledger, msgBus, notifier,
			collectInterval, cfg.RebalanceThreshold, logger), nil
	})

	if err := supervisor.Start(context.Background()); err != nil {
		logger.Fatal("supervisor start", zap.Error(err))
	}
	logger.Info("trading system running",
		zap.Strings("pairs", cfg.TradingPairs),
		zap.Bool("paper", cfg.Exchange.Paper))

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	received := <-sig
	supervisor.Shutdown(fmt.Sprintf("received signal %s", received))
}

// buildBus picks Redis when a broker address is configured, otherwise the
// in-process bus.
func buildBus(cfg *config.Config, logger *zap.Logger) (bus.Bus, error) {
	if cfg.Broker.Addr != "" {
		return bus.NewRedisBus(cfg.Broker.Addr, cfg.Broker.DB, logger)
	}
	logger.Info("no broker configured, using in-memory bus")
	return bus.NewMemoryBus(logger), nil
}

// buildExchange wraps the Binance client with the paper simulator when
// paper mode is on. Binance still serves the market data either way.
func buildExchange(cfg *config.Config, logger *zap.Logger) (exchange.Client, agent.PriceRecorder) {
	binanceClient := exchange.NewBinanceClient(
		cfg.Exchange.APIKey, cfg.Exchange.SecretKey, cfg.Exchange.Testnet)
	if cfg.Exchange.Paper {
		paper := exchange.NewPaperClient(binanceClient, logger)
		return paper, paper
	}
	return binanceClient, nil
}

func buildNotifier(cfg *config.Config, logger *zap.Logger) notify.Sink {
	if cfg.Telegram.Token != "" && cfg.Telegram.ChatID != 0 {
		sink, err := notify.NewTelegramSink(cfg.Telegram.Token, cfg.Telegram.ChatID)
		if err != nil {
			logger.Warn("telegram unavailable, falling back to log alerts", zap.Error(err))
		} else {
			return sink
		}
	}
	return notify.NewLogSink(logger)
}
