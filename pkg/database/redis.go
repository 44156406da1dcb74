package database

import (
	"context"
	"fmt"

	"llm-retrieval-go/pkg/log"

	"github.com/go-redis/redis/v8"
)

// OpenRedis 建立 Redis 客户端连接并做一次连通性检查。
func OpenRedis(addr, password string, db int) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}

	log.Info("Redis client connected successfully")
	return rdb, nil
}
