package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"brainage-api/internal/bootstrap"
	"brainage-api/internal/logger"
	httptransport "brainage-api/internal/transport/http"
)

func main() {
	envErr := godotenv.Load()

	app, err := bootstrap.New()
	if err != nil {
		logger.WithError(err, "bootstrap").Fatal("bootstrap failed")
	}
	log := logger.WithComponent("server")
	if envErr != nil {
		log.Debug("no .env file found, using environment variables")
	}
	defer func() {
		if err := app.Close(); err != nil {
			log.WithError(err).Warn("close resources failed")
		}
	}()

	router := httptransport.NewRouter(app)
	server := &http.Server{
		Addr:              app.Config.HTTPAddr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).
			WithField("model_path", app.Config.Model.Path).
			Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	waitForShutdown(server)
}

func waitForShutdown(server *http.Server) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err, "server").Warn("server shutdown failed")
	}
}
