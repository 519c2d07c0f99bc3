// Package redis connects to Redis with go-redis.
//
// Connect retries the initial ping within the configured timeout and
// Healthcheck adapts a client to a readiness probe.
//
// # Usage
//
//	cfg, err := config.Load[redis.Config]()
//	if err != nil {
//		return err
//	}
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer client.Close()
package redis
