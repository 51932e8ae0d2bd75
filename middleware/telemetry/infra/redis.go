package infra

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig descreve a conexão usada pelo RedisKeyCache.
type RedisConfig struct {
	// Um endereço ou uma lista de seeds host:port
	Addrs        []string
	DB           int
	Password     string
	MasterName   string
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	PoolSize     int
}

func (rc RedisConfig) AsUniversalOptions() *redis.UniversalOptions {
	return &redis.UniversalOptions{
		Addrs:        rc.Addrs,
		DB:           rc.DB,
		Password:     rc.Password,
		MasterName:   rc.MasterName,
		DialTimeout:  rc.DialTimeout,
		ReadTimeout:  rc.ReadTimeout,
		WriteTimeout: rc.WriteTimeout,
		PoolSize:     rc.PoolSize,
	}
}
