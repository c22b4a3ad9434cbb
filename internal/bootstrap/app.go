package bootstrap

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"brainage-api/internal/app"
	"brainage-api/internal/cache"
	"brainage-api/internal/config"
	"brainage-api/internal/logger"
	"brainage-api/internal/model"
	redisClient "brainage-api/internal/platform/redis"
)

type App struct {
	Config      *config.Config
	Model       *model.Host
	Redis       *redis.Client
	Predictions *app.PredictionService

	StartedAt time.Time
}

func New() (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config failed: %w", err)
	}
	logger.Initialize(logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})
	log := logger.WithComponent("bootstrap")

	host := model.NewHost(cfg.Model.Path, model.NewONNXLoader(cfg.Model.ONNXSharedLibPath))
	if cfg.Model.Preload {
		if _, err := host.Load(); err != nil {
			return nil, fmt.Errorf("preload model failed: %w", err)
		}
	}

	var opts []app.Option
	var redisCli *redis.Client
	if cfg.Cache.RedisAddr != "" {
		redisCli, err = redisClient.New(context.Background(), redisClient.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		if err != nil {
			// Predictions still work without the cache.
			log.WithError(err).Warn("prediction cache disabled")
		} else {
			ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
			opts = append(opts, app.WithCache(cache.NewPredictionCache(redisCli, modelFingerprint(cfg.Model.Path), ttl)))
			log.WithField("addr", cfg.Cache.RedisAddr).Info("prediction cache enabled")
		}
	}

	a := NewWithHost(cfg, host, opts...)
	a.Redis = redisCli
	return a, nil
}

// NewWithHost wires the services around an existing model host.
func NewWithHost(cfg *config.Config, host *model.Host, opts ...app.Option) *App {
	return &App{
		Config:      cfg,
		Model:       host,
		Predictions: app.NewPredictionService(host, opts...),
		StartedAt:   time.Now(),
	}
}

func (a *App) Close() error {
	var firstErr error
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			firstErr = err
		}
	}
	if a.Model != nil {
		if err := a.Model.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// modelFingerprint identifies the artifact by path, size and modification
// time so that replacing the model invalidates cached predictions.
func modelFingerprint(path string) string {
	h := sha256.New()
	h.Write([]byte(path))
	if info, err := os.Stat(path); err == nil {
		h.Write([]byte(strconv.FormatInt(info.Size(), 10)))
		h.Write([]byte(info.ModTime().UTC().Format(time.RFC3339Nano)))
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
