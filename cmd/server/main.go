package main

import (
	"os"
	"os/signal"
	"syscall"

	"collaborative-editor/internal/bootstrap"

	"github.com/sirupsen/logrus"
)

func main() {
	app, err := bootstrap.NewApp(nil)
	if err != nil {
		logrus.Fatalf("Failed to initialize application: %v", err)
	}

	handle, err := app.Start(app.Config.ServerPort)
	if err != nil {
		logrus.Fatalf("Failed to start application: %v", err)
	}
	app.Log.Infof("Collaborative editor listening on %s", handle.Addr)

	// 设置优雅关闭
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logrus.Info("Shutdown signal received...")

	app.Shutdown()
}
