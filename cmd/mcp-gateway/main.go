package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/relaymcp/relay/broker"
	"github.com/relaymcp/relay/broker/membroker"
	"github.com/relaymcp/relay/broker/natsbroker"
	"github.com/relaymcp/relay/config"
	"github.com/relaymcp/relay/engine"
	"github.com/relaymcp/relay/feature/echofeature"
	"github.com/relaymcp/relay/logging"
	"github.com/relaymcp/relay/middleware/authmw"
	"github.com/relaymcp/relay/middleware/ratelimitmw"
	"github.com/relaymcp/relay/session"
	"github.com/relaymcp/relay/session/memstore"
	"github.com/relaymcp/relay/session/redisstore"
	"github.com/relaymcp/relay/transport"

	"github.com/golang-jwt/jwt/v5"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "mcp-gateway",
	Short: "Broker-routed Streamable-HTTP gateway for MCP",
	RunE:  runServe,
}

func init() {
	rootCmd.Flags().StringP("config", "c", "", "Path to YAML config file (required)")
	_ = rootCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, _ []string) error {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	logger := logging.NewZerolog(logging.Config{Level: cfg.Logging.Level, JSONOutput: cfg.Logging.JSON})

	brk, closeBroker, err := buildBroker(cmd.Context(), cfg.Broker)
	if err != nil {
		return fmt.Errorf("mcp-gateway: broker: %w", err)
	}
	defer closeBroker()

	store, err := buildSessionStore(cfg.SessionStore)
	if err != nil {
		return fmt.Errorf("mcp-gateway: session store: %w", err)
	}

	eng := engine.New()
	if err := eng.AddFeature(echofeature.New()); err != nil {
		return fmt.Errorf("mcp-gateway: register feature: %w", err)
	}

	tcfg := transport.Config{
		Endpoint:                  cfg.HTTPServer.Endpoint,
		ResponseTimeout:           cfg.StreamableHTTP.Timeout(),
		ResponseModePolicy:        transport.DefaultResponseModePolicy,
		EnableBackgroundChannel:   *cfg.StreamableHTTP.EnableBackgroundChannel,
		EnableSessionTermination:  *cfg.StreamableHTTP.EnableSessionTermination,
		EnforceStrictCapabilities: cfg.EnforceStrictCapabilities,
	}

	handler, err := transport.NewHandler(eng, brk, store, tcfg, logger)
	if err != nil {
		return fmt.Errorf("mcp-gateway: build transport: %w", err)
	}
	handler.Middlewares = buildMiddlewares(cmd.Context(), *cfg, logger)

	addr := net.JoinHostPort(cfg.HTTPServer.Host, fmt.Sprintf("%d", cfg.HTTPServer.Port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mcp-gateway: listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: handler}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	handler.SetReady(true)
	logger.Info("mcp-gateway: listening", logging.F("addr", addr), logging.F("endpoint", tcfg.Endpoint))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("mcp-gateway: shutting down")
	case err := <-errCh:
		logger.Error("mcp-gateway: listener error", err)
	}

	handler.SetReady(false)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if err := handler.Close(); err != nil {
		logger.Error("mcp-gateway: transport close", err)
	}
	if err := eng.Close(); err != nil {
		logger.Error("mcp-gateway: engine close", err)
	}
	return nil
}

func buildBroker(ctx context.Context, cfg config.Broker) (broker.Broker, func(), error) {
	switch cfg.Backend {
	case "nats":
		b, err := natsbroker.Dial(ctx, natsbroker.Options{
			URL:            cfg.NATS.URL,
			StreamName:     cfg.NATS.StreamName,
			StreamSubjects: cfg.NATS.StreamSubjects,
		})
		if err != nil {
			return nil, func() {}, err
		}
		return b, func() { _ = b.Close() }, nil
	default:
		b := membroker.New(cfg.Memory.LogCapacity)
		return b, func() { _ = b.Close() }, nil
	}
}

func buildSessionStore(cfg config.SessionStore) (session.Store, error) {
	switch cfg.Backend {
	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ttl := time.Duration(cfg.Redis.TTLMs) * time.Millisecond
		return redisstore.New(rdb, ttl), nil
	default:
		return memstore.New(), nil
	}
}

func buildMiddlewares(ctx context.Context, cfg config.Config, logger logging.Logger) []func(http.Handler) http.Handler {
	var mws []func(http.Handler) http.Handler
	for _, name := range cfg.HTTPServer.Middlewares {
		switch name {
		case "ratelimit":
			mws = append(mws, ratelimitmw.Middleware(
				ratelimitmw.BySessionHeader,
				cfg.RateLimit.RequestsPerSecond,
				cfg.RateLimit.Burst,
				cfg.RateLimit.MaxKeys,
			))
		case "auth":
			verifier, err := buildVerifier(ctx, cfg.Auth)
			if err != nil {
				logger.Warn("mcp-gateway: auth middleware disabled", logging.F("err", err.Error()))
				continue
			}
			mws = append(mws, authmw.Middleware(verifier, logger))
		default:
			logger.Warn("mcp-gateway: unknown middleware, skipping", logging.F("name", name))
		}
	}
	return mws
}

func buildVerifier(ctx context.Context, cfg config.Auth) (authmw.Verifier, error) {
	if cfg.HMACSecret != "" {
		secret := []byte(cfg.HMACSecret)
		return authmw.KeyfuncVerifier{Keyfunc: func(*jwt.Token) (any, error) {
			return secret, nil
		}}, nil
	}
	if cfg.IntrospectionURL != "" {
		ccCfg := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
		}
		return authmw.NewIntrospectionVerifier(ctx, cfg.IntrospectionURL, ccCfg), nil
	}
	return nil, fmt.Errorf("auth middleware requires auth.hmacSecret or auth.introspectionUrl")
}
