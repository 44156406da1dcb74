// Package storage 提供对象存储抽象及 MinIO、进程内两种实现，
// 用于持久化上传文档的原始内容。
package storage

import "context"

// Store 是对象存储的抽象接口。
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
