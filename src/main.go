package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/cipherpad/engine/src/config"
	"github.com/cipherpad/engine/src/server"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("failed to load configuration")
	}

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	srv := server.NewServer(cfg, logger)
	defer srv.Close()

	if err := srv.Run(); err != nil {
		logger.WithError(err).Error("server exited with error")
		os.Exit(1)
	}
}
