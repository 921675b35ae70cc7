/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the Warp Points Ledger server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Create ledger engine, accessor, sweeper and revenue aggregator
  4. Configure HTTP router
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port            HTTP server port (default: 8080)
  -db              SQLite database path (default: points.db)
                   Use ":memory:" for in-memory database
  -bonus-validity  Bonus point lifetime (default: 8760h = 365 days)
  -overdraft-floor Lowest allowed purchased balance (default: 0)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/points.db"

  # Run with in-memory database
  ./server -db=":memory:"

  # Allow purchased balance to go 100 points negative
  ./server -overdraft-floor="-100"

ENVIRONMENT:
  POINTS_SWEEP_SECRET  Bearer secret for POST /api/jobs/expire-bonuses.
                       When unset the endpoint is disabled.

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/points-ledger/api"
	"github.com/warp/points-ledger/ledger"
	"github.com/warp/points-ledger/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "points.db", "SQLite database path")
	bonusValidity := flag.Duration("bonus-validity", ledger.DefaultConfig().BonusValidity, "bonus point lifetime")
	overdraftFloor := flag.String("overdraft-floor", "0", "lowest allowed purchased balance (0 or negative)")
	flag.Parse()

	floor, err := ledger.NewAmountFromString(*overdraftFloor)
	if err != nil {
		log.Fatalf("Invalid -overdraft-floor: %v", err)
	}

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire up the ledger core
	cfg := ledger.DefaultConfig()
	cfg.BonusValidity = *bonusValidity
	cfg.OverdraftFloor = floor

	engine := ledger.NewEngine(store, cfg)
	accessor := ledger.NewAccessor(store)
	sweeper := ledger.NewSweeper(store, engine)

	// Initialize handler
	handler := api.NewHandler(engine, accessor, sweeper, store, os.Getenv("POINTS_SWEEP_SECRET"))
	if handler.SweepSecret == "" {
		log.Println("POINTS_SWEEP_SECRET not set; expiry job endpoint disabled")
	}

	// Create router
	router := api.NewRouter(handler)

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
