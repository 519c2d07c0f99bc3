// Package httpserver runs an http.Handler with graceful shutdown and optional
// background tasks that share the server's lifetime.
//
// # Usage
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	err := srv.Run(ctx, router, sweeper.Run)
//
// Run returns when ctx is canceled (after a graceful shutdown), when the
// listener fails (ErrStart), or when a background task returns an error.
//
// # Health Checks
//
//	router.Get("/healthz", httpserver.HealthCheckHandler(log, 2*time.Second,
//		httpserver.Check{Name: "mongo", Fn: mongo.Healthcheck(client)},
//	))
package httpserver
