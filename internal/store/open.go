package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

type Options struct {
	DatabaseURL string
	SQLitePath  string
	RedisURL    string
	UseRedis    bool
	RedisTTL    time.Duration
	Migrate     bool
}

// Open picks a backend: Postgres when DatabaseURL is set, then SQLite, then
// Redis when UseRedis is set, and Memory otherwise.
func Open(ctx context.Context, o Options, log zerolog.Logger) (Store, error) {
	switch {
	case strings.TrimSpace(o.DatabaseURL) != "":
		p, err := NewPostgres(o.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("postgres: %w", err)
		}
		if o.Migrate {
			if err := p.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		log.Info().Str("backend", "postgres").Msg("snapshot store ready")
		return p, nil
	case strings.TrimSpace(o.SQLitePath) != "":
		s, err := NewSQLite(o.SQLitePath)
		if err != nil {
			return nil, err
		}
		if err := s.Migrate(ctx); err != nil {
			return nil, err
		}
		log.Info().Str("backend", "sqlite").Str("path", o.SQLitePath).Msg("snapshot store ready")
		return s, nil
	case o.UseRedis && strings.TrimSpace(o.RedisURL) != "":
		r, err := NewRedis(o.RedisURL, o.RedisTTL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		log.Info().Str("backend", "redis").Dur("ttl", o.RedisTTL).Msg("snapshot store ready")
		return r, nil
	}
	log.Info().Str("backend", "memory").Msg("snapshot store ready")
	return NewMemory(), nil
}
