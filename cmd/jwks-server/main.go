package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc"

	"github.com/zarvd/jwks-server/internal/discovery"
	"github.com/zarvd/jwks-server/internal/key"
	"github.com/zarvd/jwks-server/internal/metrics"
	"github.com/zarvd/jwks-server/internal/server"
	"github.com/zarvd/jwks-server/internal/token"
)

type CLI struct {
	Listen           string        `default:":8080" env:"JWKS_SERVER_LISTEN" help:"HTTP address to listen on"`
	UnixDomainSocket string        `env:"JWKS_SERVER_UNIX_DOMAIN_SOCKET" help:"Unix domain socket to serve the ExternalJWTSigner gRPC API on"`
	Issuer           string        `env:"JWKS_SERVER_ISSUER" help:"Issuer URL for the iss claim and discovery document; derived from the request host when empty"`
	Subject          string        `default:"1234567890" env:"JWKS_SERVER_SUBJECT" help:"Subject claim of issued tokens"`
	Name             string        `default:"John Doe" env:"JWKS_SERVER_NAME" help:"Name claim of issued tokens"`
	KeyValidity      time.Duration `default:"1h" env:"JWKS_SERVER_KEY_VALIDITY" help:"How long generated signing keys stay valid"`
	TokenValidity    time.Duration `default:"1h" env:"JWKS_SERVER_TOKEN_VALIDITY" help:"Lifetime of issued tokens"`
	StaticSigningKey string        `type:"filecontent" env:"JWKS_SERVER_STATIC_SIGNING_KEY" help:"Path to a PEM encoded 2048-bit RSA key to use as the default signing key"`
	StaticKeyID      string        `default:"static" env:"JWKS_SERVER_STATIC_KEY_ID" help:"ID of the static signing key"`
	LogLevel         string        `default:"info" enum:"debug,info,warn,error" env:"JWKS_SERVER_LOG_LEVEL" help:"Log level (${enum})"`
}

func (cli *CLI) Run(ctx context.Context, logger *slog.Logger) error {
	store := key.NewStore(key.WithLogger(logger), key.WithValidity(cli.KeyValidity))
	if cli.StaticSigningKey != "" {
		signingKey, err := key.DecodeRSAPrivateKey(cli.StaticSigningKey)
		if err != nil {
			return fmt.Errorf("failed to decode static signing key: %w", err)
		}
		if _, err := store.Import(cli.StaticKeyID, signingKey); err != nil {
			return fmt.Errorf("failed to import static signing key: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.New(registry, store.Len)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	backend := &server.Backend{
		Issuer: token.NewIssuer(store,
			token.WithLogger(logger),
			token.WithSubject(cli.Subject),
			token.WithName(cli.Name),
			token.WithIssuer(cli.Issuer),
			token.WithTokenValidity(cli.TokenValidity),
		),
		Publisher: discovery.NewPublisher(logger, store),
		Keys:      store,
		Clock:     key.SystemClock,
		Metrics:   m,
	}

	httpServer := &http.Server{
		Addr:              cli.Listen,
		Handler:           server.NewHTTPServer(logger, backend, cli.Issuer, registry).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Listeners are opened before any server starts so a failure here
	// leaves nothing running.
	var listener net.Listener
	if cli.UnixDomainSocket != "" {
		listener, err = net.Listen("unix", cli.UnixDomainSocket)
		if err != nil {
			return fmt.Errorf("failed to listen: %w", err)
		}
		defer listener.Close()
	}

	errCh := make(chan error, 2)
	go func() {
		logger.Info("serving HTTP on", slog.String("address", cli.Listen))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("failed to serve HTTP: %w", err)
		}
	}()

	var grpcServer *grpc.Server
	if listener != nil {
		grpcServer = server.NewGRPCServer(logger, backend)
		go func() {
			logger.Info("serving gRPC on", slog.String("address", listener.Addr().String()))
			if err := grpcServer.Serve(listener); err != nil {
				errCh <- fmt.Errorf("failed to serve gRPC: %w", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if grpcServer != nil {
		grpcServer.GracefulStop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shut down HTTP server: %w", err)
	}
	return nil
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var cli CLI
	cliCtx := kong.Parse(&cli,
		kong.Name("jwks-server"),
		kong.Description("Issues RS256 tokens and publishes their verification keys as a JWKS."),
	)

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cli.LogLevel)}))

	cliCtx.BindTo(ctx, (*context.Context)(nil))
	cliCtx.Bind(logger)

	if err := cliCtx.Run(); err != nil {
		logger.Error("failed to run CLI", slog.Any("error", err))
		os.Exit(1)
	}
}
