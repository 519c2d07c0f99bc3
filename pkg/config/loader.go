package config

import (
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

var defaultEnvLoaded sync.Once

type options struct {
	files       []string
	prefix      string
	environment map[string]string
}

// Option configures a single Load call.
type Option func(*options)

// WithEnvFiles loads the given dotenv files before parsing. Unlike the
// default .env, explicitly named files must exist. Values already present in
// the process environment win.
func WithEnvFiles(paths ...string) Option {
	return func(o *options) {
		o.files = append(o.files, paths...)
	}
}

// WithPrefix prepends prefix to every env tag, e.g. "SUBCTL_".
func WithPrefix(prefix string) Option {
	return func(o *options) {
		o.prefix = prefix
	}
}

// WithEnvironment parses from the given map instead of the process environment.
// Dotenv files are not read. Intended for tests.
func WithEnvironment(vars map[string]string) Option {
	return func(o *options) {
		o.environment = vars
	}
}

// Load parses environment variables into a new T using its `env` struct tags.
//
// The default .env file in the working directory is loaded once per process if
// it exists.
//
// Example:
//
//	type MongoConfig struct {
//		URI      string `env:"MONGODB_URI,required"`
//		Database string `env:"MONGODB_DATABASE" envDefault:"tutor"`
//	}
//
//	cfg, err := config.Load[MongoConfig]()
func Load[T any](opts ...Option) (T, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if o.environment == nil {
		defaultEnvLoaded.Do(func() {
			if _, err := os.Stat(".env"); err == nil {
				_ = godotenv.Load()
			}
		})
		if len(o.files) > 0 {
			if err := godotenv.Load(o.files...); err != nil {
				var zero T
				return zero, errors.Join(ErrLoadingEnvFile, err)
			}
		}
	}

	cfg, err := env.ParseAsWithOptions[T](env.Options{
		Prefix:      o.prefix,
		Environment: o.environment,
	})
	if err != nil {
		var zero T
		return zero, errors.Join(ErrParsingConfig, err)
	}
	return cfg, nil
}

// MustLoad works like Load but panics on failure.
// Use it for configuration the process cannot start without.
func MustLoad[T any](opts ...Option) T {
	cfg, err := Load[T](opts...)
	if err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
	return cfg
}
