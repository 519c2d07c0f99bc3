// Package config loads typed configuration from environment variables.
//
// It wraps `github.com/joho/godotenv` and `github.com/caarlos0/env/v11`:
// a default `.env` file is read once per process when present, optional
// extra dotenv files can be named per call, and the environment is parsed
// into any struct annotated with `env` tags.
//
// # Usage
//
//	type ServiceConfig struct {
//		AdminToken    string        `env:"ADMIN_TOKEN,required"`
//		SweepInterval time.Duration `env:"SWEEP_INTERVAL" envDefault:"1h"`
//	}
//
//	cfg, err := config.Load[ServiceConfig]()
//	if err != nil {
//		return err
//	}
//
// For values the process cannot start without:
//
//	cfg := config.MustLoad[ServiceConfig]()
//
// Tests can bypass the process environment entirely:
//
//	cfg, err := config.Load[ServiceConfig](config.WithEnvironment(map[string]string{
//		"ADMIN_TOKEN": "secret",
//	}))
//
// # Error Handling
//
// Parsing failures wrap ErrParsingConfig; unreadable dotenv files wrap
// ErrLoadingEnvFile. Both can be checked with errors.Is.
package config
