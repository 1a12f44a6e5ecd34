package export

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"

	"northsea/internal/apperr"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const artifactKeyPrefix = "northsea:export:"

// Artifact 是一次导出的结果。
type Artifact struct {
	Name   string // <uuid>.<format>
	Format Format
	Body   []byte
}

// ArtifactStore 把导出结果暂存到 Redis，过期自动清理。
type ArtifactStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewArtifactStore 创建制品存储，ttl <= 0 时默认 1 小时。
func NewArtifactStore(rdb *redis.Client, ttl time.Duration) *ArtifactStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &ArtifactStore{rdb: rdb, ttl: ttl}
}

// Enabled reports whether artifacts can be persisted.
func (s *ArtifactStore) Enabled() bool {
	return s != nil && s.rdb != nil
}

// Save 保存制品并返回下载名。
func (s *ArtifactStore) Save(ctx context.Context, format Format, body []byte) (string, error) {
	if !s.Enabled() {
		return "", apperr.Unavailable("export storage is not configured")
	}
	name := fmt.Sprintf("%s.%s", uuid.NewString(), format)
	if err := s.rdb.Set(ctx, artifactKeyPrefix+name, body, s.ttl).Err(); err != nil {
		return "", fmt.Errorf("save export %s: %w", name, err)
	}
	return name, nil
}

// Load 读取制品；名称非法、不存在或已过期都返回 NotFound。
func (s *ArtifactStore) Load(ctx context.Context, name string) (*Artifact, error) {
	if !s.Enabled() {
		return nil, apperr.Unavailable("export storage is not configured")
	}
	format, err := parseName(name)
	if err != nil {
		return nil, err
	}
	body, err := s.rdb.Get(ctx, artifactKeyPrefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, apperr.NotFound("export %s not found", name)
	}
	if err != nil {
		return nil, fmt.Errorf("load export %s: %w", name, err)
	}
	return &Artifact{Name: name, Format: format, Body: body}, nil
}

func parseName(name string) (Format, error) {
	ext := path.Ext(name)
	id := strings.TrimSuffix(name, ext)
	if _, err := uuid.Parse(id); err != nil {
		return "", apperr.NotFound("export %s not found", name)
	}
	format, err := ParseFormat(strings.TrimPrefix(ext, "."))
	if err != nil {
		return "", apperr.NotFound("export %s not found", name)
	}
	return format, nil
}
