package main

import (
	"context"

	log "github.com/sirupsen/logrus"

	"github.com/xi2852-amsidh-lokhande/order-processing-system/app"
	"github.com/xi2852-amsidh-lokhande/order-processing-system/config"
)

func main() {
	cfg, err := config.New()
	if err != nil {
		log.Fatal(err)
	}
	logger := cfg.NewLogger()
	logger.Info("storage init starting")

	a, err := app.New(cfg, logger)
	if err != nil {
		logger.Fatalf("app: %v", err)
	}
	defer a.Close()

	if err := a.EnsureStorage(context.Background()); err != nil {
		logger.Fatal(err)
	}
	logger.Info("storage init complete")
}
