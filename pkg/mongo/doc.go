// Package mongo connects to MongoDB with the official v2 driver.
//
// Connect retries the initial connection until the server answers a ping;
// Healthcheck adapts a client to a readiness probe; EnsureIndexes creates the
// indexes a store needs at startup.
//
// # Usage
//
//	cfg, err := config.Load[mongo.Config]()
//	if err != nil {
//		return err
//	}
//	db, err := mongo.ConnectDatabase(ctx, cfg)
//	if err != nil {
//		return err
//	}
//	defer db.Client().Disconnect(context.Background())
package mongo
