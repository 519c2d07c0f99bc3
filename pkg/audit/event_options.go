package audit

// WithResource sets the resource type and ID
func WithResource(resource, id string) EventOption {
	return func(e *Event) {
		e.Resource = resource
		e.ResourceID = id
	}
}

// WithActor sets who performed the action, overriding any context value.
func WithActor(actor string) EventOption {
	return func(e *Event) {
		e.Actor = actor
	}
}

// WithReason records the free-text justification given by the actor.
func WithReason(reason string) EventOption {
	return func(e *Event) {
		e.Reason = reason
	}
}

// WithChange records the state before and after the action.
func WithChange(before, after map[string]any) EventOption {
	return func(e *Event) {
		e.Before = before
		e.After = after
	}
}

// WithMetadata adds metadata to the event
func WithMetadata(key string, value any) EventOption {
	return func(e *Event) {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any)
		}
		e.Metadata[key] = value
	}
}

// WithResult sets the event result
func WithResult(result Result) EventOption {
	return func(e *Event) {
		e.Result = result
	}
}
