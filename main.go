package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"unitools/market-api/app"
	"unitools/market-api/config"
	"unitools/market-api/internal"
	"unitools/market-api/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

func main() {
	gin.SetMode(gin.ReleaseMode)

	err := config.Setup()
	if err != nil {
		panic(err)
	}

	if err := app.MakeLogger(viper.GetString("app.log_level")); err != nil {
		panic(err)
	}
	defer zap.L().Sync()

	for _, w := range config.Warnings() {
		zap.L().Warn(w)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	d, err := internal.NewDeps(ctx)
	cancel()
	if err != nil {
		zap.L().Fatal("Failed to initialize dependencies", zap.Error(err))
	}
	defer d.Close()

	router, err := app.NewRouter(d)
	if err != nil {
		zap.L().Fatal("Failed to create router", zap.Error(err))
	}

	janitor := service.NewJanitor(d.DB, d.Verifications, d.Images, viper.GetDuration("verification.orphan_after"))
	if err := janitor.Start(viper.GetDuration("verification.cleanup_interval")); err != nil {
		zap.L().Fatal("Failed to start janitor", zap.Error(err))
	}
	defer janitor.Stop()

	srv := &http.Server{
		Addr:              ":" + strconv.Itoa(viper.GetInt("host.port")),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       time.Minute,
		WriteTimeout:      2 * time.Minute,
		IdleTimeout:       2 * time.Minute,
		MaxHeaderBytes:    1 << 20,
	}

	go func() {
		zap.L().Info("Server starting", zap.String("addr", srv.Addr))

		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.L().Fatal("Server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	zap.L().Info("Shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Error("Server forced to shutdown", zap.Error(err))
	}
}
