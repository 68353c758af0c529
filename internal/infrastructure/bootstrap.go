package infrastructure

import (
	"context"

	"dreammotion/internal/config"
	"dreammotion/internal/inference"
	"dreammotion/internal/repository"
	"dreammotion/internal/service"
	transportHTTP "dreammotion/internal/transport/http"
	transportNATS "dreammotion/internal/transport/nats"
	"dreammotion/internal/worker"
)

// Bootstrap initialises all dependencies from config and wires up the
// application. Returns the App, a cleanup function, or an error.
func Bootstrap(ctx context.Context) (*App, func(), error) {
	cfg, err := config.New()
	if err != nil {
		return nil, nil, err
	}

	db, err := connectPostgres(cfg.DSN())
	if err != nil {
		return nil, nil, err
	}

	rdb, err := connectRedis(cfg.RedisAddr())
	if err != nil {
		db.Close()
		return nil, nil, err
	}

	var cleanupFns []func()
	cleanupFns = append(cleanupFns, func() {
		db.Close()
		_ = rdb.Close()
	})

	nc, err := connectNats(cfg.NatsAddr())
	if err != nil {
		return nil, runCleanup(cleanupFns), err
	}
	cleanupFns = append(cleanupFns, nc.Close)

	bus := transportNATS.NewBus(nc)
	ledger := repository.NewLedgerRepo(rdb, db, bus, cfg.SignupGrant)
	jobs := repository.NewGenerationRepo(db)
	provider := inference.NewClient(cfg.InferenceURL, cfg.InferenceToken, nil)

	var engine service.Engine = service.NewCreditEngine(ledger, jobs, provider, cfg.InferenceWebhookURL())

	servers := []Server{
		worker.NewLedgerSyncWorker(ledger, nc),
		worker.NewReaper(engine, cfg.ReapInterval, cfg.ReapMaxAge),
	}

	if addr, apiErr := cfg.ApiAddr(); apiErr == nil {
		auth := transportHTTP.NewAuth(cfg.JWTSecret)
		servers = append(servers, transportHTTP.NewServer(addr, engine, auth))
	}

	return NewApp(servers), runCleanup(cleanupFns), nil
}

// runCleanup returns a single function that calls all cleanup functions in
// reverse order.
func runCleanup(fns []func()) func() {
	return func() {
		for i := len(fns) - 1; i >= 0; i-- {
			fns[i]()
		}
	}
}
