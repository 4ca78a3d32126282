package repository

import (
	"context"
	"errors"

	"github.com/7D-Solutions/gaugecore/common"
	"github.com/7D-Solutions/gaugecore/db"
	"github.com/7D-Solutions/gaugecore/gauge"
)

// CachedGauges layers the Redis cache over a gauge repository. Reads
// outside a transaction are served from the cache when possible; reads
// inside a transaction bypass it so locked rows stay authoritative.
// Writes delegate and drop the entry directly; the bus subscription
// covers writers on other instances.
type CachedGauges struct {
	GaugeRepository
	cache *RedisCache
}

// NewCachedGauges wraps the repository with the cache.
func NewCachedGauges(inner GaugeRepository, cache *RedisCache) *CachedGauges {
	return &CachedGauges{GaugeRepository: inner, cache: cache}
}

func (r *CachedGauges) FindByID(ctx context.Context, tx db.Tx, id int64) (*gauge.Gauge, error) {
	if tx == nil {
		var g gauge.Gauge
		err := r.cache.GetGauge(ctx, id, &g)
		if err == nil {
			return &g, nil
		}
		if !errors.Is(err, ErrCacheMiss) {
			common.Logger.WithError(err).WithField("gauge_id", id).Warn("gauge cache read failed")
		}
	}

	g, err := r.GaugeRepository.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if tx == nil {
		if err := r.cache.SetGauge(ctx, id, g); err != nil {
			common.Logger.WithError(err).WithField("gauge_id", id).Warn("gauge cache write failed")
		}
	}
	return g, nil
}

func (r *CachedGauges) Update(ctx context.Context, tx db.Tx, g *gauge.Gauge) error {
	if err := r.GaugeRepository.Update(ctx, tx, g); err != nil {
		return err
	}
	if err := r.cache.InvalidateGauge(ctx, g.ID); err != nil {
		common.Logger.WithError(err).WithField("gauge_id", g.ID).Warn("gauge cache invalidation failed")
	}
	return nil
}

// CachedCertificates layers the cache over the certificate chain listing,
// which is the hot read behind gauge detail views. Everything else
// delegates; chain mutations invalidate through the bus subscription.
type CachedCertificates struct {
	CertificateRepository
	cache *RedisCache
}

// NewCachedCertificates wraps the repository with the cache.
func NewCachedCertificates(inner CertificateRepository, cache *RedisCache) *CachedCertificates {
	return &CachedCertificates{CertificateRepository: inner, cache: cache}
}

func (r *CachedCertificates) ListFor(ctx context.Context, gaugeID int64, includeDeleted bool) ([]*Certificate, error) {
	if includeDeleted {
		return r.CertificateRepository.ListFor(ctx, gaugeID, true)
	}

	var chain []*Certificate
	err := r.cache.GetCertChain(ctx, gaugeID, &chain)
	if err == nil {
		return chain, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		common.Logger.WithError(err).WithField("gauge_id", gaugeID).Warn("cert chain cache read failed")
	}

	chain, err = r.CertificateRepository.ListFor(ctx, gaugeID, false)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetCertChain(ctx, gaugeID, chain); err != nil {
		common.Logger.WithError(err).WithField("gauge_id", gaugeID).Warn("cert chain cache write failed")
	}
	return chain, nil
}
