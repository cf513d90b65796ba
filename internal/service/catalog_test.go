package service

import (
	"context"
	"testing"
	"time"
)

// TestCatalogService_Regions проверяет кэширование каталога регионов.
func TestCatalogService_Regions(t *testing.T) {
	callCount := 0
	hc := &mockHealthCenterRepo{
		listRegionsFn: func(_ context.Context) ([]string, error) {
			callCount++
			return []string{"11", "26", "27"}, nil
		},
	}

	catalog := NewCatalogService(hc, 16, time.Minute)

	// Первый вызов — cache miss, идёт в БД.
	regions, err := catalog.Regions(context.Background())
	if err != nil {
		t.Fatalf("Regions ошибка: %v", err)
	}
	if len(regions) != 3 {
		t.Errorf("regions = %v, ожидались 3 кода", regions)
	}
	if callCount != 1 {
		t.Errorf("hcRepo.ListRegions вызван %d раз, ожидался 1", callCount)
	}

	// Второй вызов — cache hit, в БД не идёт.
	if _, err := catalog.Regions(context.Background()); err != nil {
		t.Fatalf("Regions ошибка (cache hit): %v", err)
	}
	if callCount != 1 {
		t.Errorf("hcRepo.ListRegions вызван %d раз, ожидался 1 (cache hit)", callCount)
	}
}

// TestCatalogService_Cities проверяет раздельные ключи кэша по регионам.
func TestCatalogService_Cities(t *testing.T) {
	calls := map[string]int{}
	hc := &mockHealthCenterRepo{
		listCitiesFn: func(_ context.Context, region string) ([]string, error) {
			calls[region]++
			if region == "11" {
				return []string{"11680", "11650"}, nil
			}
			return []string{"26440"}, nil
		},
	}

	catalog := NewCatalogService(hc, 16, time.Minute)

	cities, err := catalog.Cities(context.Background(), "11")
	if err != nil {
		t.Fatalf("Cities ошибка: %v", err)
	}
	if len(cities) != 2 {
		t.Errorf("cities(11) = %v, ожидались 2 кода", cities)
	}

	if _, err := catalog.Cities(context.Background(), "26"); err != nil {
		t.Fatalf("Cities ошибка: %v", err)
	}
	// Повтор по уже закэшированному региону.
	if _, err := catalog.Cities(context.Background(), "11"); err != nil {
		t.Fatalf("Cities ошибка (cache hit): %v", err)
	}

	if calls["11"] != 1 || calls["26"] != 1 {
		t.Errorf("вызовы hcRepo.ListCities = %v, ожидался 1 на регион", calls)
	}
}
