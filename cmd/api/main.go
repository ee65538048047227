package main

import (
	"context"
	"database/sql"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"google.golang.org/grpc"

	"authgate.org/internal/auth"
	"authgate.org/internal/config"
	"authgate.org/internal/httpapi"
	"authgate.org/internal/obs"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	db, err := sql.Open("pgx", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	store := auth.NewPGStore(db)
	credentials := auth.NewCredentials(store,
		auth.WithHashCost(cfg.Auth.HashCost),
		auth.WithMinPasswordLength(cfg.Auth.MinPasswordLength),
	)
	tokens, err := auth.NewService(store, credentials,
		auth.WithSigningSecret(cfg.Auth.SigningSecret),
		auth.WithIssuer(cfg.Auth.Issuer),
		auth.WithAccessTTL(cfg.Auth.AccessTTL),
		auth.WithRefreshTTL(cfg.Auth.RefreshTTL),
	)
	if err != nil {
		log.Fatalf("token service: %v", err)
	}
	registry, err := auth.NewRegistry(auth.BuiltinResources, nil, auth.BuiltinRoles, nil)
	if err != nil {
		log.Fatalf("registry: %v", err)
	}
	evaluator := auth.NewEvaluator(registry)

	if cfg.Auth.BootstrapAdmin {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		created, err := tokens.BootstrapAdmin(ctx, cfg.Auth.BootstrapAdminPassword)
		cancel()
		if err != nil {
			log.Fatalf("bootstrap admin: %v", err)
		}
		if created {
			log.Println("bootstrap admin account created")
		}
	}

	cleanupCtx, stopCleanup := context.WithCancel(context.Background())
	go runTokenCleanup(cleanupCtx, tokens, cfg.Auth.CleanupInterval)

	probe := httpapi.ReadyProbe{DB: db}
	api := httpapi.New(probe, version, tokens, credentials, registry, evaluator)

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	log.Printf("Starting authgate-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.Server.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcSrv = grpc.NewServer()
		httpapi.NewGRPCHealthServer(probe).Register(grpcSrv)
		log.Printf("Starting gRPC health on %s", cfg.Server.GRPCAddr)
		go func() {
			if err := grpcSrv.Serve(lis); err != nil {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")
	stopCleanup()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	_ = srv.Shutdown(ctx)
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	_ = db.Close()
	log.Println("Stopped")
}

// runTokenCleanup periodically purges revoked and expired refresh tokens.
func runTokenCleanup(ctx context.Context, tokens *auth.Service, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := tokens.CleanupExpiredTokens(ctx)
			if err != nil {
				log.Printf("token cleanup: %v", err)
				continue
			}
			if n > 0 {
				obs.TokensCleanedTotal.Add(float64(n))
				log.Printf("token cleanup: removed %d", n)
			}
		}
	}
}
