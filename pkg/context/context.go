// Package context carries request-scoped identifiers through a context.Context
package context

import "context"

type key int

const (
	requestIDKey key = iota
	projectIDKey
	entityIDKey
	analystKey
)

func value(ctx context.Context, k key) string {
	v, _ := ctx.Value(k).(string)
	return v
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return value(ctx, requestIDKey)
}

// SetProjectID records the project a request operates on
func SetProjectID(ctx context.Context, projectID string) context.Context {
	return context.WithValue(ctx, projectIDKey, projectID)
}

func GetProjectID(ctx context.Context) string {
	return value(ctx, projectIDKey)
}

// SetEntityID records the entity named in the request path
func SetEntityID(ctx context.Context, entityID string) context.Context {
	return context.WithValue(ctx, entityIDKey, entityID)
}

func GetEntityID(ctx context.Context) string {
	return value(ctx, entityIDKey)
}

// SetAnalyst records who is acting on suggestions, as reported by the caller
func SetAnalyst(ctx context.Context, analyst string) context.Context {
	return context.WithValue(ctx, analystKey, analyst)
}

func GetAnalyst(ctx context.Context) string {
	return value(ctx, analystKey)
}

// Fields returns the identifiers set on ctx, keyed for structured logs
func Fields(ctx context.Context) map[string]any {
	fields := make(map[string]any, 4)
	for name, k := range map[string]key{
		"request_id": requestIDKey,
		"project_id": projectIDKey,
		"entity_id":  entityIDKey,
		"analyst":    analystKey,
	} {
		if v := value(ctx, k); v != "" {
			fields[name] = v
		}
	}
	return fields
}
