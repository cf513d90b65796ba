// Пакет service — бизнес-логика сервиса запросов.
// CatalogService — LRU-кэш каталога доступных значений фильтров
// (регионы, города). Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/truth0530/AEDpics-sub004/internal/repository"
)

// Prometheus-метрики кэша каталога.
var (
	catalogCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rq_catalog_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш каталога фильтров.",
	})
	catalogCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rq_catalog_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша каталога фильтров.",
	})
)

// Ключ каталога регионов (единственная запись без параметра).
const regionsKey = "regions"

// CatalogService — кэш справочных значений фильтров.
// Каждый экземпляр сервиса имеет собственный in-memory кэш
// (per-instance, stateless архитектура).
type CatalogService struct {
	hcRepo repository.HealthCenterRepository
	cache  *expirable.LRU[string, []string]
}

// NewCatalogService создаёт кэш каталога с указанным размером и TTL.
func NewCatalogService(hcRepo repository.HealthCenterRepository, maxSize int, ttl time.Duration) *CatalogService {
	cache := expirable.NewLRU[string, []string](maxSize, nil, ttl)
	return &CatalogService{
		hcRepo: hcRepo,
		cache:  cache,
	}
}

// Regions возвращает список кодов регионов справочника.
// Сначала проверяет кэш, при промахе — запрос к PostgreSQL.
func (c *CatalogService) Regions(ctx context.Context) ([]string, error) {
	if vals, ok := c.cache.Get(regionsKey); ok {
		catalogCacheHitsTotal.Inc()
		return vals, nil
	}
	catalogCacheMissesTotal.Inc()

	vals, err := c.hcRepo.ListRegions(ctx)
	if err != nil {
		return nil, fmt.Errorf("каталог регионов: %w", err)
	}

	c.cache.Add(regionsKey, vals)
	return vals, nil
}

// Cities возвращает список кодов городов региона.
func (c *CatalogService) Cities(ctx context.Context, region string) ([]string, error) {
	key := "cities:" + region
	if vals, ok := c.cache.Get(key); ok {
		catalogCacheHitsTotal.Inc()
		return vals, nil
	}
	catalogCacheMissesTotal.Inc()

	vals, err := c.hcRepo.ListCities(ctx, region)
	if err != nil {
		return nil, fmt.Errorf("каталог городов региона %s: %w", region, err)
	}

	c.cache.Add(key, vals)
	return vals, nil
}
