// Command lending-server starts the library lending gRPC server.
package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"slices"
	"syscall"
	"time"

	"go.uber.org/zap"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/DongNguyen06/lib-v2/internal/audit"
	"github.com/DongNguyen06/lib-v2/internal/config"
	"github.com/DongNguyen06/lib-v2/internal/limiter"
	"github.com/DongNguyen06/lib-v2/internal/migrate"
	"github.com/DongNguyen06/lib-v2/internal/notify"
	"github.com/DongNguyen06/lib-v2/internal/repository"
	"github.com/DongNguyen06/lib-v2/internal/repository/memory"
	"github.com/DongNguyen06/lib-v2/internal/repository/postgres"
	grpcserver "github.com/DongNguyen06/lib-v2/internal/server/grpc"
	"github.com/DongNguyen06/lib-v2/internal/service"
)

var (
	version   = "dev"
	buildDate = "unknown"
)

// main loads configuration, runs migrations when a database is configured,
// and starts the gRPC server.
func main() {
	cfg, err := config.Load(".env", os.Args[1:])
	if err != nil {
		_, _ = os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(2)
	}

	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()
	logger.Info("starting",
		zap.String("version", version),
		zap.String("buildDate", buildDate),
		zap.String("addr", cfg.Addr),
	)

	// Context with OS signals
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		store    repository.Store
		senders  = notify.Multi{}
		auditors = audit.Multi{audit.NewZap(logger)}
		lim      limiter.Limiter
		notes    grpcserver.NotificationLister
	)
	throttle := limiter.Policy{Max: cfg.ThrottleHits, Window: cfg.ThrottleWindow, BlockFor: cfg.ThrottleBlock}

	if cfg.DSN != "" {
		ver, applied, err := migrate.Up(ctx, cfg.DSN)
		if err != nil {
			logger.Fatal("migrate up", zap.Error(err))
		}
		logger.Info("schema ready", zap.Int64("version", ver), zap.Int("applied", applied))

		db, err := postgres.New(ctx, cfg.DSN)
		if err != nil {
			logger.Fatal("connect db", zap.Error(err))
		}
		defer db.Close()

		store = postgres.NewStore(db)
		inbox := postgres.NewNotificationRepo(db)
		notes = inbox
		auditors = append(auditors, audit.NewStore(postgres.NewAuditRepo(db)))
		lim = limiter.NewPG(db.Pool, throttle)
		if slices.Contains(cfg.Notifiers, config.NotifierStore) {
			senders = append(senders, notify.NewStore(inbox))
		}
	} else {
		logger.Warn("no database configured, state is kept in memory")
		store = memory.New()
		inbox := notify.NewInbox(100)
		notes = inbox
		senders = append(senders, inbox)
		lim = limiter.NewMemory(throttle)
	}

	for _, n := range cfg.Notifiers {
		switch n {
		case config.NotifierLog:
			senders = append(senders, notify.NewLog(logger.Named("notify")))
		case config.NotifierSNS:
			client, err := notify.NewSNSClient(ctx, cfg.AWSRegion, cfg.AWSEndpoint)
			if err != nil {
				logger.Fatal("sns client", zap.Error(err))
			}
			senders = append(senders, notify.NewSNS(client, cfg.SNSTopicARN))
		case config.NotifierKafka:
			k := notify.NewKafka(notify.NewKafkaWriter(cfg.KafkaBrokers, cfg.KafkaTopic))
			defer func() { _ = k.Close() }()
			senders = append(senders, k)
		}
	}

	lending := service.NewLending(service.Deps{
		Store:    store,
		Rules:    cfg.Rules,
		Policy:   cfg.Policy,
		Notifier: senders,
		Audit:    auditors,
		Log:      logger,
	})

	opts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpcserver.RecoverUnary(logger),
			grpcserver.LoggingUnary(logger),
			grpcserver.AuthUnary([]byte(cfg.JWTKey)),
			grpcserver.ThrottleUnary(lim, logger),
		),
	}
	if cfg.TLSCert != "" {
		creds, err := credentials.NewServerTLSFromFile(cfg.TLSCert, cfg.TLSKey)
		if err != nil {
			logger.Fatal("failed to load TLS cert/key", zap.Error(err))
		}
		opts = append(opts, grpc.Creds(creds))
	} else {
		logger.Warn("TLS disabled")
	}
	s := grpc.NewServer(opts...)

	grpcserver.Register(s, grpcserver.New(grpcserver.FromLending(lending), notes, logger))

	// Health & reflection (dev)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	if cfg.Dev {
		reflection.Register(s)
	}

	lis, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		logger.Fatal("listen", zap.Error(err))
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("addr", cfg.Addr), zap.Bool("tls", cfg.TLSCert != ""))
		errCh <- s.Serve(lis)
	}()

	// Wait for stop
	select {
	case <-ctx.Done():
		hs.Shutdown()
		done := make(chan struct{})
		go func() {
			s.GracefulStop()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			s.Stop()
		}
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		os.Exit(1)
	}

	logger.Info("shutdown complete")
}
