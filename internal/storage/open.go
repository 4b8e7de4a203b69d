package storage

import (
	"fmt"

	"geminichat/internal/config"
	"geminichat/internal/redis"
)

// OpenKV builds the KV backend named by cfg.Storage.Driver.
func OpenKV(cfg *config.Config) (KV, error) {
	driver := cfg.Storage.Driver
	switch driver {
	case "memory":
		return NewMemory(), nil
	case "bolt":
		return OpenBolt(cfg.Databases["bolt"].DSN)
	case "redis":
		client, err := redis.NewRedisClient(cfg)
		if err != nil {
			return nil, fmt.Errorf("create redis client: %w", err)
		}
		return NewRedis(client, cfg.Storage.KeyPrefix), nil
	case "sqlite3", "mysql":
		db, err := Open(driver, cfg)
		if err != nil {
			return nil, err
		}
		if err := Migrate(db, driver); err != nil {
			db.Close()
			return nil, err
		}
		kv, err := NewSQL(db, driver)
		if err != nil {
			db.Close()
			return nil, err
		}
		return kv, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver: %s", driver)
	}
}
