package main

import (
	"context"

	"go.uber.org/zap"

	"modbus-formatter/internal/app"
	"modbus-formatter/internal/config"
)

func main() {
	logger, _ := zap.NewProduction(zap.AddStacktrace(zap.FatalLevel))
	defer logger.Sync()
	sugar := logger.Sugar()

	ctx := context.Background()
	cfg, err := config.LoadConfig(ctx)
	if err != nil {
		sugar.Fatalw("invalid configuration", "error", err)
	}

	// --- Run formatter (blocking) ---
	if err := app.StartFormatterApp(ctx, cfg, sugar); err != nil {
		sugar.Fatalw("formatter app failed", "error", err)
	}
}
