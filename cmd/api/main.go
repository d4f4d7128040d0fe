package main

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"tessera.dev/internal/audit"
	"tessera.dev/internal/auth"
	"tessera.dev/internal/config"
	"tessera.dev/internal/grpcapi"
	"tessera.dev/internal/httpapi"
	"tessera.dev/internal/obs"
	"tessera.dev/internal/ott"
	"tessera.dev/internal/store"
	"tessera.dev/internal/token"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	configFile := pflag.String("config", "", "YAML config file (overrides AUTH_CONFIG_FILE)")
	httpAddr := pflag.String("http-addr", "", "HTTP listen address")
	grpcAddr := pflag.String("grpc-addr", "", "gRPC listen address, or \"off\" to disable gRPC")
	pflag.Parse()

	if *configFile != "" {
		_ = os.Setenv("AUTH_CONFIG_FILE", *configFile)
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if *httpAddr != "" {
		cfg.HTTP.Addr = *httpAddr
	}
	if *grpcAddr != "" {
		cfg.GRPC.Addr = *grpcAddr
	}
	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrMissingSecret) {
			log.Fatal("refusing to start: AUTH_JWT_SECRET is not set")
		}
		log.Fatalf("invalid config: %v", err)
	}

	obs.Init()
	obs.InitBuildInfo(version, commit)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	signer, err := token.New([]byte(cfg.JWTSecret))
	if err != nil {
		log.Fatalf("signer: %v", err)
	}

	otts, err := ott.New(
		ott.WithTTL(cfg.OTT.TTL),
		ott.WithReapInterval(cfg.OTT.ReapInterval),
		ott.WithMetrics(obs.OTTMetrics{}),
	)
	if err != nil {
		log.Fatalf("ott store: %v", err)
	}
	go otts.Run(ctx)

	var pub audit.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		kp, err := audit.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Fatalf("kafka publisher: %v", err)
		}
		pub = kp
	}
	recorder := audit.NewRecorder(pub)

	svc, err := auth.NewService(db, signer, otts,
		auth.WithSessionTTL(cfg.Session.TTL),
		auth.WithAuditor(recorder),
		auth.WithLoginMetrics(obs.LoginMetrics{}),
	)
	if err != nil {
		log.Fatalf("auth service: %v", err)
	}

	trusted, err := cfg.TrustedProxyPrefixes()
	if err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	ready := httpapi.ReadyProbe{DB: db.DB()}
	api := httpapi.New(svc, httpapi.Options{
		Version: version,
		Ready:   ready,
		Cookie: httpapi.CookieConfig{
			Name:      cfg.Session.CookieName,
			CrossSite: cfg.Session.CrossSiteCookies,
			Secure:    cfg.Production(),
		},
		NextURLBase:    cfg.Session.NextURLBase,
		AllowedOrigins: cfg.CORS.Origins,
		RateBurst:      cfg.RateLimit.Burst,
		RatePerSecond:  cfg.RateLimit.PerSecond,
		MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
		TrustedProxies: trusted,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           api.Handler(),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	var grpcServer *grpc.Server
	if cfg.GRPC.Addr != "off" {
		lis, err := net.Listen("tcp", cfg.GRPC.Addr)
		if err != nil {
			log.Fatalf("grpc listen: %v", err)
		}
		grpcServer = grpc.NewServer(grpc.UnaryInterceptor(grpcapi.UnaryLogger))
		grpcapi.NewServer(svc).Register(grpcServer)
		hs := grpcapi.NewHealth(ready)
		healthpb.RegisterHealthServer(grpcServer, hs.Server)
		go hs.Watch(ctx, 10*time.Second)
		go func() {
			obs.Info("grpc_listening", map[string]any{"addr": cfg.GRPC.Addr})
			if err := grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Fatalf("grpc serve: %v", err)
			}
		}()
	}

	go func() {
		obs.Info("http_listening", map[string]any{
			"addr":    srv.Addr,
			"version": version,
			"env":     cfg.Env,
		})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	obs.Info("shutting_down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := recorder.Close(); err != nil {
		obs.Warn("audit_close_failed", map[string]any{"error": err.Error()})
	}
	obs.Info("stopped", nil)
}
