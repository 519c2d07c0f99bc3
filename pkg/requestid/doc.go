// Package requestid assigns every HTTP request an id and carries it through
// the request context into logs and audit entries.
//
//	r := chi.NewRouter()
//	r.Use(requestid.Middleware)
//
//	log := logger.New(logger.WithContextExtractors(requestid.LoggerExtractor()))
//	auditLog := audit.NewLogger(storage, audit.WithRequestIDExtractor(requestid.Lookup))
package requestid
