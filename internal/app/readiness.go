package app

import (
	"context"
	"fmt"
)

// Pinger is the minimal pool surface a DB readiness probe needs.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RedisPingResult is the minimal result of a redis Ping.
type RedisPingResult interface{ Err() error }

// RedisPinger is the minimal redis client surface for readiness.
type RedisPinger interface {
	Ping(ctx context.Context) RedisPingResult
}

// KafkaPinger is the minimal broker client surface for readiness.
// *kgo.Client satisfies it.
type KafkaPinger interface {
	Ping(ctx context.Context) error
}

// BuildReadinessChecks returns the db, redis and kafka probes for /readyz.
func BuildReadinessChecks(pool Pinger, rdb RedisPinger, kafka KafkaPinger) (
	func(ctx context.Context) error,
	func(ctx context.Context) error,
	func(ctx context.Context) error,
) {
	dbCheck := func(ctx context.Context) error {
		if pool == nil {
			return fmt.Errorf("db not configured")
		}
		return pool.Ping(ctx)
	}
	redisCheck := func(ctx context.Context) error {
		if rdb == nil {
			return fmt.Errorf("redis not configured")
		}
		return rdb.Ping(ctx).Err()
	}
	kafkaCheck := func(ctx context.Context) error {
		if kafka == nil {
			return fmt.Errorf("kafka not configured")
		}
		return kafka.Ping(ctx)
	}
	return dbCheck, redisCheck, kafkaCheck
}
