// cmd/api/main.go
package main

import (
	"context"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"quickbill/internal/platform/config"
	"quickbill/internal/platform/httpx"
	"quickbill/internal/platform/logging"
	"quickbill/internal/platform/server"
)

func main() {
	cfg := config.Load("api-gateway", "8080")
	logger := logging.Init(cfg.ServiceName, cfg.LogLevel, cfg.LogPretty)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	catalogProxy := newProxy(cfg.CatalogURL, logger)
	billingProxy := newProxy(cfg.BillingURL, logger)

	router := server.NewRouter(logger, nil)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(limit(rate.NewLimiter(rate.Limit(cfg.GatewayRate), cfg.GatewayBurst)))
		r.Mount("/catalog", http.StripPrefix("/api/v1/catalog", catalogProxy))
		r.Mount("/billing", http.StripPrefix("/api/v1/billing", billingProxy))
	})

	if err := server.Run(ctx, ":"+cfg.Port, router, cfg.ShutdownTimeout, logger); err != nil {
		logger.Fatal().Err(err).Msg("api gateway stopped")
	}
}

func newProxy(target string, logger zerolog.Logger) http.Handler {
	u, err := url.Parse(target)
	if err != nil {
		logger.Fatal().Err(err).Str("target", target).Msg("invalid upstream url")
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		logger.Error().Err(err).Str("upstream", u.Host).Str("path", r.URL.Path).Msg("upstream unreachable")
		httpx.WriteError(w, httpx.NewAPIError(http.StatusBadGateway, httpx.CodeUnavailable, "upstream service unavailable"))
	}
	return proxy
}

func limit(l *rate.Limiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !l.Allow() {
				httpx.WriteError(w, httpx.NewAPIError(http.StatusTooManyRequests, httpx.CodeUnavailable, "rate limit exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
