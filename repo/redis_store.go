package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Skryldev/student-registry/db"
	"github.com/Skryldev/student-registry/models"
)

// redisStore keeps every student in a single hash: field = id, value = the
// JSON-encoded record.
type redisStore struct {
	rdb redis.Cmdable
	key string
}

// NewRedisStore returns a StudentStore on the hash named key.
func NewRedisStore(rdb redis.Cmdable, key string) StudentStore {
	if key == "" {
		key = "students"
	}
	return &redisStore{rdb: rdb, key: key}
}

func (s *redisStore) Get(ctx context.Context, id string) (*models.Student, error) {
	raw, err := s.rdb.HGet(ctx, s.key, id).Bytes()
	if err != nil {
		return nil, s.mapErr(err)
	}
	return decodeStudent(raw)
}

func (s *redisStore) Put(ctx context.Context, st *models.Student) error {
	raw, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("repo/redis: encode %s: %w", st.ID, err)
	}
	if err := s.rdb.HSet(ctx, s.key, st.ID, raw).Err(); err != nil {
		return fmt.Errorf("repo/redis: put %s: %w", st.ID, s.mapErr(err))
	}
	return nil
}

// Remove reads and deletes the field inside one MULTI/EXEC block.
func (s *redisStore) Remove(ctx context.Context, id string) (*models.Student, error) {
	var get *redis.StringCmd
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		get = pipe.HGet(ctx, s.key, id)
		pipe.HDel(ctx, s.key, id)
		return nil
	})
	if err != nil {
		return nil, s.mapErr(err)
	}
	raw, err := get.Bytes()
	if err != nil {
		return nil, s.mapErr(err)
	}
	return decodeStudent(raw)
}

func (s *redisStore) All(ctx context.Context) ([]*models.Student, error) {
	values, err := s.rdb.HVals(ctx, s.key).Result()
	if err != nil {
		return nil, s.mapErr(err)
	}
	students := make([]*models.Student, 0, len(values))
	for _, v := range values {
		st, err := decodeStudent([]byte(v))
		if err != nil {
			return nil, err
		}
		students = append(students, st)
	}
	sortByID(students)
	return students, nil
}

func (s *redisStore) Count(ctx context.Context) (int64, error) {
	n, err := s.rdb.HLen(ctx, s.key).Result()
	if err != nil {
		return 0, s.mapErr(err)
	}
	return n, nil
}

func (s *redisStore) mapErr(err error) error {
	if errors.Is(err, redis.Nil) {
		return &db.DBError{Sentinel: db.ErrNotFound, Cause: err}
	}
	return db.DefaultErrorMapper().Map(err)
}

func decodeStudent(raw []byte) (*models.Student, error) {
	st := &models.Student{}
	if err := json.Unmarshal(raw, st); err != nil {
		return nil, fmt.Errorf("repo/redis: decode: %w", err)
	}
	return st, nil
}

var _ StudentStore = (*redisStore)(nil)
