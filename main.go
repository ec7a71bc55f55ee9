package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/andrenbrandao/bancodigital-ledger/pkg/api"
	"github.com/andrenbrandao/bancodigital-ledger/pkg/config"
	"github.com/andrenbrandao/bancodigital-ledger/pkg/domain"
	"github.com/andrenbrandao/bancodigital-ledger/pkg/ledger"
	"github.com/andrenbrandao/bancodigital-ledger/pkg/logging"
	"github.com/andrenbrandao/bancodigital-ledger/pkg/memstore"
	"github.com/andrenbrandao/bancodigital-ledger/pkg/repositories"
	"github.com/honeycombio/honeycomb-opentelemetry-go"
	"github.com/honeycombio/otel-config-go/otelconfig"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// seedMemory loads the demo accounts of seed.sql into the in-memory store.
func seedMemory(store *memstore.Store) {
	accounts := []struct {
		user    string
		number  string
		branch  string
		balance string
	}{
		{"o barato sai caro", "10001-1", "0001", "1000.00"},
		{"zan corp ltda", "10002-2", "0001", "800.00"},
		{"les cruders", "10003-3", "0001", "10000.00"},
		{"padaria joia de cocaia", "10004-4", "0002", "100000.00"},
		{"kid mais", "10005-5", "0002", "5000.00"},
	}
	for i, a := range accounts {
		id := int64(i + 1)
		store.AddUser(domain.User{Id: id, Name: a.user})
		store.SeedAccount(domain.Account{
			Id:      id,
			Number:  a.number,
			Branch:  a.branch,
			UserId:  id,
			Balance: decimal.RequireFromString(a.balance),
		})
	}
}

func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (ledger.Store, func(), error) {
	if cfg.Storage == config.StorageMemory {
		store := memstore.New()
		if cfg.SeedDemo {
			seedMemory(store)
		}
		return store, func() {}, nil
	}

	pool, err := repositories.Connect(ctx, cfg.DatabaseURL, cfg.DBConnectAttempts, logger)
	if err != nil {
		return nil, nil, err
	}
	if err := repositories.Migrate(pool, logger); err != nil {
		pool.Close()
		return nil, nil, err
	}
	if cfg.SeedFile != "" {
		if err := repositories.Seed(ctx, pool, cfg.SeedFile); err != nil {
			pool.Close()
			return nil, nil, err
		}
	}
	return repositories.NewStore(pool), pool.Close, nil
}

func run(ctx context.Context) error {
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.OtelEnabled {
		otelShutdown, err := otelconfig.ConfigureOpenTelemetry(
			otelconfig.WithSpanProcessor(honeycomb.NewBaggageSpanProcessor()),
		)
		if err != nil {
			return fmt.Errorf("error setting up OTel SDK: %w", err)
		}
		defer otelShutdown()
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	processor, err := ledger.NewProcessor(store, logger)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           otelhttp.NewHandler(api.NewHandler(processor, logger), "ledger"),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening to requests", zap.String("addr", server.Addr), zap.String("storage", cfg.Storage))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func main() {
	fmt.Println("Starting up server...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}
