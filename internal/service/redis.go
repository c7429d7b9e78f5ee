package service

import (
	"context"
	"errors"
	"time"

	"github.com/getcharzp/go-clickseg/internal/config"
	"github.com/getcharzp/go-clickseg/segment"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EmbeddingCache 以图片 MD5 为键缓存编码结果
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, family, md5 string) (segment.EmbeddingStore, error)
	SetEmbedding(ctx context.Context, family, md5 string, store segment.EmbeddingStore) error
}

type RedisService struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisService(cfg *config.RedisConfig, logger *zap.Logger) *RedisService {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	return &RedisService{
		client: client,
		ttl:    cfg.TTL,
		logger: logger,
	}
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func embeddingKey(family, md5 string) string {
	return "embedding:" + family + ":" + md5
}

// GetEmbedding 从缓存获取 embedding, 未命中时返回 nil, nil
func (s *RedisService) GetEmbedding(ctx context.Context, family, md5 string) (segment.EmbeddingStore, error) {
	data, err := s.client.Get(ctx, embeddingKey(family, md5)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}

	store, err := segment.UnmarshalEmbedding(data)
	if err != nil {
		s.logger.Error("failed to unmarshal embedding",
			zap.String("md5", md5), zap.Error(err))
		return nil, err
	}
	return store, nil
}

// SetEmbedding 写入缓存
func (s *RedisService) SetEmbedding(ctx context.Context, family, md5 string, store segment.EmbeddingStore) error {
	data, err := segment.MarshalEmbedding(store)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, embeddingKey(family, md5), data, s.ttl).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}
