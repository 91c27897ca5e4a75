package mongoutil

import (
	"context"
	"errors"

	"go.mongodb.org/mongo-driver/mongo"
)

const (
	defaultMaxPoolSize = 100
	defaultMaxRetry    = 3
)

// shouldRetry determines whether an error should trigger a retry.
func shouldRetry(ctx context.Context, err error) bool {
	select {
	case <-ctx.Done():
		return false
	default:
		var cmdErr mongo.CommandError
		if errors.As(err, &cmdErr) {
			// 13 Unauthorized / 18 AuthenticationFailed 重试无意义
			return cmdErr.Code != 13 && cmdErr.Code != 18
		}
		return true
	}
}
