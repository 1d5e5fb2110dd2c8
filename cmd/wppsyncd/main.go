package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"github.com/matheus3301/wppsync/internal/config"
	"github.com/matheus3301/wppsync/internal/daemon"
	"github.com/matheus3301/wppsync/internal/profile"
)

func main() {
	profileFlag := flag.String("profile", "", "profile name (overrides config default)")
	envFile := flag.String("env", ".env", "dotenv file to load before reading the environment")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load(*envFile)

	name := profile.Resolve(*profileFlag)
	if err := profile.ValidateName(name); err != nil {
		fail(err)
	}

	cfg, err := config.LoadOrDefault(profile.ConfigPath())
	if err != nil {
		fail(fmt.Errorf("read config: %w", err))
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		fail(fmt.Errorf("invalid config %s: %w", profile.ConfigPath(), err))
	}

	app := fx.New(
		daemon.Module(daemon.Params{Profile: name, Config: cfg}),
		fx.WithLogger(func(logger *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.Named("fx")}
		}),
	)

	app.Run()
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}
