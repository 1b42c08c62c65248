package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	"atlas/api"
	"atlas/config"
	"atlas/manager"
	"atlas/pool"
)

func main() {
	fmt.Println("╔════════════════════════════════════════════════════════════╗")
	fmt.Println("║        🤖 AI-Driven Autonomous Stock Trading System        ║")
	fmt.Println("╚════════════════════════════════════════════════════════════╝")
	fmt.Println()

	// Load .env if present (silently ignore if missing)
	if err := godotenv.Load(); err != nil {
		if os.IsNotExist(err) {
			log.Printf("ℹ️  No .env file found, continuing with OS environment variables")
		} else {
			log.Printf("⚠️  Failed to load .env file: %v", err)
		}
	}

	configFile := "config.json"
	if len(os.Args) > 1 {
		configFile = os.Args[1]
	}

	log.Printf("📋 Loading configuration file: %s", configFile)
	cfg, err := config.LoadConfig(configFile)
	if err != nil {
		log.Fatalf("❌ Failed to load configuration: %v", err)
	}

	// Hosted platforms inject the listen port via environment
	if envPort := os.Getenv("PORT"); envPort != "" {
		if portNum, err := strconv.Atoi(envPort); err == nil {
			cfg.APIServerPort = portNum
			log.Printf("✓ Using PORT from environment: %d", portNum)
		}
	}

	log.Printf("✓ Configuration loaded, %d trader(s) configured", len(cfg.Traders))
	fmt.Println()

	pool.SetDefaultStocks(cfg.DefaultStocks)
	pool.SetUseDefaultStocks(cfg.UseDefaultStocks)
	if cfg.UseDefaultStocks {
		log.Printf("✓ Default stock list enabled (%d symbols): %v", len(cfg.DefaultStocks), cfg.DefaultStocks)
	}
	if cfg.StockPoolAPIURL != "" {
		pool.SetStockPoolAPI(cfg.StockPoolAPIURL)
		log.Printf("✓ Stock pool API configured")
	}

	traderManager := manager.NewTraderManager()

	enabledCount := 0
	for i, traderCfg := range cfg.Traders {
		if !traderCfg.Enabled {
			log.Printf("⏭️  [%d/%d] Skipping disabled trader: %s", i+1, len(cfg.Traders), traderCfg.Name)
			continue
		}

		enabledCount++
		log.Printf("📦 [%d/%d] Initializing %s (%s model)...",
			i+1, len(cfg.Traders), traderCfg.Name, strings.ToUpper(traderCfg.AIModel))

		if err := traderManager.AddTrader(traderCfg, cfg); err != nil {
			log.Fatalf("❌ Failed to initialize trader: %v", err)
		}
	}

	if enabledCount == 0 {
		log.Fatalf("❌ No enabled traders found, set at least one trader's enabled=true in %s", configFile)
	}

	fmt.Println()
	fmt.Println("🏁 Active Traders:")
	for _, traderCfg := range cfg.Traders {
		if !traderCfg.Enabled {
			continue
		}
		fmt.Printf("  • %s (%s) - Initial Balance: %.0f USD\n",
			traderCfg.Name, strings.ToUpper(traderCfg.AIModel), traderCfg.InitialBalance)
	}

	fmt.Println()
	fmt.Println("🤖 AI Full Decision Mode:")
	fmt.Printf("  • Leverage caps: %dx for large-cap stocks, %dx for all others\n",
		cfg.Leverage.LargeCapLeverage, cfg.Leverage.OtherLeverage)
	fmt.Println("  • AI decides position size, stop loss and take profit autonomously")
	fmt.Println("  • Decisions are validated and logged every cycle")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println(strings.Repeat("=", 60))
	fmt.Println()

	apiServer := api.NewServer(traderManager, cfg.APIServerPort)
	go func() {
		if err := apiServer.Start(); err != nil {
			log.Printf("❌ API server error: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	traderManager.StartAll()

	<-sigChan
	fmt.Println()
	log.Println("📛 Received shutdown signal, stopping all traders...")
	traderManager.StopAll()

	fmt.Println()
	fmt.Println("👋 Goodbye!")
}
