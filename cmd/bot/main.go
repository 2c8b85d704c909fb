package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"binance-dca-bot-go/internal/bot"
	"binance-dca-bot-go/internal/config"
	"binance-dca-bot-go/internal/downloader"
	"binance-dca-bot-go/internal/gateway"
	"binance-dca-bot-go/internal/logger"
	"binance-dca-bot-go/internal/models"
	"binance-dca-bot-go/internal/persistence"
	"binance-dca-bot-go/internal/reporter"
	"binance-dca-bot-go/internal/server"
	"binance-dca-bot-go/internal/trade"

	"github.com/joho/godotenv"
)

// extractSymbolFromPath pulls the trading pair out of a data file path,
// e.g. "data/BNBUSDT-2025-03-15-2025-06-15.csv" -> "BNBUSDT".
func extractSymbolFromPath(path string) string {
	name := strings.TrimSuffix(path, ".csv")
	parts := strings.Split(name, "/")
	fileName := parts[len(parts)-1]

	symbolParts := strings.Split(fileName, "-")
	if len(symbolParts) > 0 {
		return symbolParts[0]
	}
	return ""
}

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	mode := flag.String("mode", "live", "running mode: live or backtest")
	dataPath := flag.String("data", "", "path to historical data file for backtesting")
	symbol := flag.String("symbol", "", "symbol to backtest (e.g., BNBUSDT)")
	startDate := flag.String("start", "", "start date for backtesting (YYYY-MM-DD)")
	endDate := flag.String("end", "", "end date for backtesting (YYYY-MM-DD)")
	flag.Parse()

	// A default logger so config loading problems are visible; reinitialized
	// from the file below.
	logger.Init(models.LogConfig{Level: "info", Output: "console"})

	if err := godotenv.Load(); err != nil {
		logger.S().Info("no .env file found, reading from system environment")
	} else {
		logger.S().Info("loaded configuration from .env file")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.S().Fatalf("failed to load config file: %v", err)
	}

	logger.Init(cfg.LogConfig)
	defer logger.S().Sync()

	switch *mode {
	case "live":
		runLiveMode(cfg)
	case "backtest":
		finalDataPath, err := resolveBacktestData(*symbol, *startDate, *endDate, *dataPath)
		if err != nil {
			logger.S().Fatal(err)
		}
		runBacktestMode(cfg, finalDataPath)
	default:
		logger.S().Fatalf("unknown mode %q, expected 'live' or 'backtest'", *mode)
	}
}

// resolveBacktestData downloads the requested range when symbol/start/end are
// given, otherwise requires an explicit data path.
func resolveBacktestData(symbol, startDate, endDate, dataPath string) (string, error) {
	shouldDownload := symbol != "" && startDate != "" && endDate != ""

	if shouldDownload {
		startTime, err1 := time.Parse("2006-01-02", startDate)
		endTime, err2 := time.Parse("2006-01-02", endDate)
		if err1 != nil || err2 != nil {
			return "", fmt.Errorf("bad date format, expected YYYY-MM-DD (start: %v, end: %v)", err1, err2)
		}

		dl := downloader.NewKlineDownloader()
		fileName := fmt.Sprintf("data/%s-%s-%s.csv", symbol, startDate, endDate)
		if err := dl.DownloadKlines(symbol, fileName, startTime, endTime); err != nil {
			return "", fmt.Errorf("failed to download data: %w", err)
		}
		return fileName, nil
	}

	if dataPath == "" {
		return "", fmt.Errorf("backtest mode needs either --data or --symbol/--start/--end")
	}
	return dataPath, nil
}

func runLiveMode(cfg *models.Config) {
	logger.S().Info("--- starting live trading mode ---")

	apiKey := os.Getenv("BINANCE_API_KEY")
	secretKey := os.Getenv("BINANCE_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		logger.S().Fatal("BINANCE_API_KEY and BINANCE_SECRET_KEY must be set")
	}

	if cfg.IsTestnet {
		cfg.BaseURL = cfg.TestnetAPIURL
		cfg.WSBaseURL = cfg.TestnetWSURL
		logger.S().Info("using the exchange testnet")
	} else {
		cfg.BaseURL = cfg.LiveAPIURL
		cfg.WSBaseURL = cfg.LiveWSURL
		logger.S().Info("using the exchange production network")
	}

	gw, err := gateway.NewLiveGateway(apiKey, secretKey, cfg.BaseURL, logger.S())
	if err != nil {
		logger.S().Fatalf("failed to initialize exchange gateway: %v", err)
	}

	repo, err := newRepository(cfg)
	if err != nil {
		logger.S().Fatalf("failed to open state storage: %v", err)
	}
	defer repo.Close()

	manager := bot.NewManager(cfg, gw, repo, downloader.NewKlineDownloader(), logger.S())
	for _, symbol := range cfg.Symbols {
		if _, err := manager.Add(symbol); err != nil {
			logger.S().Fatalf("failed to register bot for %s: %v", symbol, err)
		}
		if err := manager.Start(symbol); err != nil {
			logger.S().Errorf("failed to start bot for %s: %v", symbol, err)
		}
	}

	srv := server.New(cfg.ServerAddr, manager, logger.S())
	go func() {
		if err := srv.Run(); err != nil {
			logger.S().Fatalf("control server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.S().Info("shutting down...")
	manager.StopAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.S().Errorf("control server shutdown failed: %v", err)
	}
	logger.S().Info("bot stopped, state saved")
}

func newRepository(cfg *models.Config) (persistence.StateRepository, error) {
	switch cfg.StateBackend {
	case "file":
		return persistence.NewFileRepository(cfg.StateDir)
	default:
		return persistence.NewBadgerRepository(cfg.DBPath)
	}
}

func runBacktestMode(cfg *models.Config, dataPath string) {
	logger.S().Info("--- starting backtest mode ---")

	symbol := extractSymbolFromPath(dataPath)
	if symbol == "" {
		logger.S().Fatalf("cannot extract symbol from data path %s", dataPath)
	}

	klines, err := downloader.LoadKlinesCSV(dataPath)
	if err != nil {
		logger.S().Fatal(err)
	}

	inst := models.Instrument{
		Symbol: symbol, QtyStep: "0.00001", PriceStep: "0.01", MinQty: "0.0001",
	}
	fees := models.FeeRates{Maker: cfg.MakerFeeRate, Taker: cfg.TakerFeeRate}
	sim := gateway.NewSimGateway(inst, fees, cfg.InitialInvestment)
	sim.SetPrice(klines[0].Open)

	summary := &reporter.BacktestSummary{
		Symbol:         symbol,
		DataPath:       dataPath,
		StartTime:      time.UnixMilli(klines[0].OpenTime),
		EndTime:        time.UnixMilli(klines[len(klines)-1].CloseTime),
		InitialBalance: cfg.InitialInvestment,
	}

	replayCycles(cfg, symbol, sim, klines, summary)

	lastClose := klines[len(klines)-1].Close
	cash, baseQty := sim.Balances()
	summary.EndingCash = cash
	summary.EndingAssetQty = baseQty
	summary.EndingAssetValue = baseQty * lastClose
	summary.OrdersPlaced = len(sim.Placed())
	summary.Finalize()
	reporter.PrintSummary(summary)
}

// replayCycles feeds the candle closes through consecutive trade cycles until
// the data runs out.
func replayCycles(cfg *models.Config, symbol string, sim *gateway.SimGateway, klines []models.Kline, summary *reporter.BacktestSummary) {
	ctx := context.Background()
	i := 0
	for i < len(klines) {
		source := trade.NewScriptedSource()
		machine := trade.NewMachine(symbol, cfg.Bot, sim, nil, source, logger.S(), nil)
		if err := machine.Start(ctx); err != nil {
			logger.S().Errorf("[%s] cycle could not start at candle %d: %v", symbol, i, err)
			return
		}

	feed:
		for ; i < len(klines); i++ {
			price := klines[i].Close
			sim.SetPrice(price)

			// A push that times out means the tick loop is gone: the cycle
			// exited on the previous candle. The current candle is replayed
			// by the next cycle.
			pushCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			err := source.Push(pushCtx, price)
			cancel()
			if err != nil {
				select {
				case <-machine.Done():
					summary.CompletedCycles++
				default:
				}
				break feed
			}
			if snap := machine.Snapshot(); snap.CurrentStep > summary.DeepestRungUsed {
				summary.DeepestRungUsed = snap.CurrentStep
			}
		}
		machine.Stop()
		<-machine.Done()
	}
}
