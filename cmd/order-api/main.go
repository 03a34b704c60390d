package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MicahParks/keyfunc"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	log "github.com/sirupsen/logrus"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/api"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/app"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/config"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal(err)
	}
	logger := cfg.NewLogger()

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatalf("app: %v", err)
	}
	defer a.Close()

	auth, err := newAuth(cfg.Auth)
	if err != nil {
		logger.Fatalf("auth: %v", err)
	}

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization, echo.HeaderContentEncoding},
	}))
	e.Use(middleware.ContextTimeout(cfg.HTTP.RequestTimeout))

	api.Register(e, api.Deps{
		Orders:       a.Orders,
		Payments:     a.Payments,
		Inventory:    a.Inventory,
		Events:       a.Publisher,
		Auth:         auth,
		MaxBodyBytes: cfg.HTTP.MaxBodyBytes,
	}, logger)

	listenAddr := ":" + cfg.HTTP.Port
	if val, ok := os.LookupEnv("FUNCTIONS_CUSTOMHANDLER_PORT"); ok {
		listenAddr = ":" + val
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		if err := e.Start(listenAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("http server: %v", err)
		}
	}()
	logger.WithField("addr", listenAddr).Info("order api started")

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("http shutdown")
	}
}

// newAuth returns nil when authentication is disabled.
func newAuth(cfg config.Auth) (api.Authenticator, error) {
	switch cfg.Mode {
	case config.AuthHS256:
		return api.NewHS256Auth([]byte(cfg.Secret), cfg.Audience, cfg.Issuer), nil
	case config.AuthJWKS:
		jwks, err := keyfunc.Get(cfg.JWKSURL, keyfunc.Options{RefreshInterval: time.Hour})
		if err != nil {
			return nil, err
		}
		return api.NewJWKSAuth(jwks, cfg.Audience, cfg.Issuer, cfg.CacheTTL), nil
	}
	return nil, nil
}
