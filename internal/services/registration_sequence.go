// internal/services/registration_sequence.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/javajoker/coop-registry/internal/config"
	"github.com/javajoker/coop-registry/internal/models"
)

// RegistrationSequence hands out per-year registration numbers. Values are never reused.
type RegistrationSequence interface {
	Next(ctx context.Context, year int) (int64, error)
}

// DBSequence keeps the counter in registration_counters and serialises callers on the row lock.
type DBSequence struct {
	db *gorm.DB
}

func NewDBSequence(db *gorm.DB) *DBSequence {
	return &DBSequence{db: db}
}

func (s *DBSequence) Next(ctx context.Context, year int) (int64, error) {
	var next int64

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		counter, err := lockCounter(tx, year)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			seed, seedErr := maxIssuedSequence(tx, year)
			if seedErr != nil {
				return seedErr
			}
			// A concurrent first allocation may insert the row first; either way we lock it next.
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).
				Create(&models.RegistrationCounter{Year: year, LastValue: seed, UpdatedAt: time.Now().UTC()}).Error; err != nil {
				return fmt.Errorf("failed to create registration counter: %w", err)
			}
			counter, err = lockCounter(tx, year)
		}
		if err != nil {
			return fmt.Errorf("failed to lock registration counter: %w", err)
		}

		next = counter.LastValue + 1
		return tx.Model(&models.RegistrationCounter{}).
			Where("year = ?", year).
			Updates(map[string]interface{}{
				"last_value": next,
				"updated_at": time.Now().UTC(),
			}).Error
	})
	if err != nil {
		return 0, err
	}

	return next, nil
}

func lockCounter(tx *gorm.DB, year int) (*models.RegistrationCounter, error) {
	var counter models.RegistrationCounter
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("year = ?", year).
		First(&counter).Error; err != nil {
		return nil, err
	}
	return &counter, nil
}

// maxIssuedSequence is the highest sequence already present for year, revoked or deleted rows included.
func maxIssuedSequence(db *gorm.DB, year int) (int64, error) {
	var numbers []string
	if err := db.Unscoped().
		Model(&models.Certificate{}).
		Where("registration_no LIKE ?", models.RegistrationYearPrefix(year)+"%").
		Pluck("registration_no", &numbers).Error; err != nil {
		return 0, fmt.Errorf("failed to scan issued registration numbers: %w", err)
	}

	var highest int64
	for _, number := range numbers {
		_, seq, err := models.ParseRegistrationNo(number)
		if err == nil && seq > highest {
			highest = seq
		}
	}
	return highest, nil
}

// RedisSequence allocates with INCR. The key is seeded from the database once per year.
type RedisSequence struct {
	client *redis.Client
	db     *gorm.DB
	prefix string

	mu     sync.Mutex
	seeded map[int]bool
}

func NewRedisSequence(client *redis.Client, db *gorm.DB, prefix string) *RedisSequence {
	return &RedisSequence{
		client: client,
		db:     db,
		prefix: prefix,
		seeded: make(map[int]bool),
	}
}

func (s *RedisSequence) key(year int) string {
	return fmt.Sprintf("%s:regno:%d", s.prefix, year)
}

func (s *RedisSequence) Next(ctx context.Context, year int) (int64, error) {
	if err := s.seed(ctx, year); err != nil {
		return 0, err
	}

	next, err := s.client.Incr(ctx, s.key(year)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: redis INCR failed: %v", ErrUnavailable, err)
	}
	return next, nil
}

func (s *RedisSequence) seed(ctx context.Context, year int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.seeded[year] {
		return nil
	}

	highest, err := maxIssuedSequence(s.db.WithContext(ctx), year)
	if err != nil {
		return err
	}
	if err := s.client.SetNX(ctx, s.key(year), highest, 0).Err(); err != nil {
		return fmt.Errorf("%w: redis SETNX failed: %v", ErrUnavailable, err)
	}

	s.seeded[year] = true
	return nil
}

// NewRedisClient returns nil when no URL is configured.
func NewRedisClient(cfg config.RedisConfig) (*redis.Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return client, nil
}
