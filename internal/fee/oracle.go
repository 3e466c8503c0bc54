// Package fee caches node fee estimates and falls back to a fixed rate when
// the node cannot provide one.
package fee

import (
	"context"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"
)

const (
	DefaultFallback     = 10.0
	DefaultTTL          = time.Minute
	DefaultTargetBlocks = 3
)

// Source estimates a fee rate in sat/vB.
type Source interface {
	EstimateFeeRate(ctx context.Context, targetBlocks int) (float64, error)
}

type Config struct {
	TTL          time.Duration
	Fallback     float64
	TargetBlocks int
}

type Oracle struct {
	src    Source
	cfg    Config
	logger *zap.Logger
	cache  *ttlcache.Cache[int, float64]
}

func NewOracle(src Source, cfg Config, logger *zap.Logger) *Oracle {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.Fallback <= 0 {
		cfg.Fallback = DefaultFallback
	}
	if cfg.TargetBlocks <= 0 {
		cfg.TargetBlocks = DefaultTargetBlocks
	}
	return &Oracle{
		src:    src,
		cfg:    cfg,
		logger: logger,
		cache: ttlcache.New[int, float64](
			ttlcache.WithTTL[int, float64](cfg.TTL),
			ttlcache.WithDisableTouchOnHit[int, float64](),
		),
	}
}

// RecommendedFeeRate returns the cached estimate for the configured target,
// refreshing it from the source when expired. It never fails.
func (o *Oracle) RecommendedFeeRate(ctx context.Context) float64 {
	if item := o.cache.Get(o.cfg.TargetBlocks); item != nil {
		return item.Value()
	}
	if o.src == nil {
		return o.cfg.Fallback
	}

	rate, err := o.src.EstimateFeeRate(ctx, o.cfg.TargetBlocks)
	if err != nil || rate <= 0 {
		o.logger.Warn("fee estimate unavailable, using fallback",
			zap.Error(err),
			zap.Float64("fallback", o.cfg.Fallback),
		)
		return o.cfg.Fallback
	}
	o.cache.Set(o.cfg.TargetBlocks, rate, ttlcache.DefaultTTL)
	return rate
}

// Start runs the expiry loop until Stop is called.
func (o *Oracle) Start() {
	o.cache.Start()
}

func (o *Oracle) Stop() {
	o.cache.Stop()
}
