package appctx

import "context"

type ContextKey string

var (
	RequestIDKey = ContextKey("X-Request-Id")
	OrgIDKey     = ContextKey("X-Org-Id")
	UserIDKey    = ContextKey("X-User-Id")
	MessageKey   = ContextKey("X-Kafka-Message")
)

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	value, _ := ctx.Value(RequestIDKey).(string)
	return value
}

func SetOrgID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, OrgIDKey, orgID)
}

func GetOrgID(ctx context.Context) string {
	value, _ := ctx.Value(OrgIDKey).(string)
	return value
}

func SetUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, UserIDKey, userID)
}

func GetUserID(ctx context.Context) string {
	value, _ := ctx.Value(UserIDKey).(string)
	return value
}

// SetMessageRef records topic/partition/offset of the message being handled.
func SetMessageRef(ctx context.Context, ref string) context.Context {
	return context.WithValue(ctx, MessageKey, ref)
}

func GetMessageRef(ctx context.Context) string {
	value, _ := ctx.Value(MessageKey).(string)
	return value
}
