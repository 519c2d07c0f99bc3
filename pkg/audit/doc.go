// Package audit records who changed what and why.
//
// A Logger builds Event values (actor, action, resource, before/after
// snapshots, reason) and hands them to a pluggable Storage. Actor and request
// ID may be pulled from context through ContextExtractor callbacks; explicit
// EventOption values always win. A Reader queries stored events newest first.
//
//	l := audit.NewLogger(storage, audit.WithRequestIDExtractor(requestIDFromCtx))
//	err := l.Log(ctx, "subscription.override",
//	    audit.WithActor("ops@example.com"),
//	    audit.WithResource("subscription", userID),
//	    audit.WithChange(before, after),
//	    audit.WithReason("refund granted"),
//	)
//
// MemoryStorage is provided for tests; production storage lives with the
// service that owns the database.
package audit
