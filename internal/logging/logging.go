package logging

import (
	"log"
	"os"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logger *zap.SugaredLogger
	once   sync.Once
)

// Init builds the global logger. Production config when SLOTHIVE_ENV=production,
// colored development config otherwise.
func Init() {
	once.Do(func() {
		var cfg zap.Config
		if os.Getenv("SLOTHIVE_ENV") == "production" {
			cfg = zap.NewProductionConfig()
			cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
		} else {
			cfg = zap.NewDevelopmentConfig()
			cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}

		base, err := cfg.Build()
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		logger = base.Sugar()
	})
}

// L returns the global sugared logger, initializing it on first use.
func L() *zap.SugaredLogger {
	if logger == nil {
		Init()
	}
	return logger
}
