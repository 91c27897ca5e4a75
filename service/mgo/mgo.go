package mgo

import (
	"context"
	"math/rand"
	"time"

	"MinerWs/data/database/mgo/mongoutil"
	"MinerWs/logger"
	"MinerWs/tools/errs"

	"go.uber.org/zap"
)

const (
	baseBackoff = 200 * time.Millisecond
	maxBackoff  = 5 * time.Second
)

// backoff 指数退避 + 0~20% 抖动
func backoff(attempt int, rnd func(int64) int64) time.Duration {
	if attempt > 6 {
		attempt = 6
	}
	d := baseBackoff << attempt
	if d > maxBackoff {
		d = maxBackoff
	}
	jitter := time.Duration(rnd(int64(d / 5)))
	return d - jitter/2
}

// Dial keeps calling mongoutil.NewMongoDB with backoff until it succeeds,
// ctx is done or maxWait elapses. maxWait <= 0 waits for ctx only.
func Dial(ctx context.Context, cfg *mongoutil.Config, maxWait time.Duration) (*mongoutil.Client, error) {
	if maxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, maxWait)
		defer cancel()
	}
	var lastErr error
	for attempt := 0; ; attempt++ {
		cli, err := mongoutil.NewMongoDB(ctx, cfg)
		if err == nil {
			if attempt > 0 {
				logger.Info("mongo connected", zap.Int("attempts", attempt+1))
			}
			return cli, nil
		}
		lastErr = err
		logger.Warn("mongo connect failed, retrying", zap.Int("attempt", attempt+1), zap.Error(err))

		timer := time.NewTimer(backoff(attempt, rand.Int63n))
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, errs.ErrStoreUnavailable.WrapMsg("mongo not ready", "err", lastErr)
		case <-timer.C:
		}
	}
}
