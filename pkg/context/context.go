// Package context carries per-request identity: the request id, the brokerage
// account every query is scoped to, and the reviewer acting on merges.
package context

import "context"

type contextKey string

const (
	requestIDKey  contextKey = "request_id"
	accountIDKey  contextKey = "account_id"
	reviewerIDKey contextKey = "reviewer_id"
)

func value(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

func SetRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

func GetRequestID(ctx context.Context) string {
	return value(ctx, requestIDKey)
}

func SetAccountID(ctx context.Context, accountID string) context.Context {
	return context.WithValue(ctx, accountIDKey, accountID)
}

func GetAccountID(ctx context.Context) string {
	return value(ctx, accountIDKey)
}

func SetReviewerID(ctx context.Context, reviewerID string) context.Context {
	return context.WithValue(ctx, reviewerIDKey, reviewerID)
}

func GetReviewerID(ctx context.Context) string {
	return value(ctx, reviewerIDKey)
}
