package repository

import (
	"context"
	"fmt"
	"strings"
)

// HealthCenterRepository — доступ к справочнику учреждений (health_center).
// Jurisdiction-режим резолвит устройства через имена учреждений:
// запись устройства хранит free-text имя, не FK, поэтому идентичность
// учреждения восстанавливается нормализацией пробелов.
type HealthCenterRepository interface {
	// ResolveNames возвращает нормализованные (без пробелов) имена
	// учреждений, чья юрисдикция попадает в указанные регионы/города.
	// Фаза 1 двухфазного jurisdiction-резолва.
	ResolveNames(ctx context.Context, regions, cities []string) ([]string, error)
	// ListRegions возвращает коды регионов справочника (для filter options).
	ListRegions(ctx context.Context) ([]string, error)
	// ListCities возвращает коды городов указанного региона.
	ListCities(ctx context.Context, region string) ([]string, error)
}

// healthCenterRepo — реализация HealthCenterRepository через pgx.
type healthCenterRepo struct {
	db DBTX
}

// NewHealthCenterRepository создаёт репозиторий учреждений.
func NewHealthCenterRepository(db DBTX) HealthCenterRepository {
	return &healthCenterRepo{db: db}
}

// NormalizeAuthorityName убирает все пробельные символы из имени
// учреждения. Коллизии имён разных учреждений после нормализации
// не разрешаются — совпадение имени достаточно для матча.
func NormalizeAuthorityName(name string) string {
	return strings.Join(strings.Fields(name), "")
}

// ResolveNames возвращает нормализованные имена учреждений по юрисдикции.
func (r *healthCenterRepo) ResolveNames(ctx context.Context, regions, cities []string) ([]string, error) {
	var conditions []string
	var args []any
	argNum := 1

	if len(regions) > 0 {
		conditions = append(conditions, fmt.Sprintf("region_code = ANY($%d)", argNum))
		args = append(args, regions)
		argNum++
	}
	if len(cities) > 0 {
		conditions = append(conditions, fmt.Sprintf("city_code = ANY($%d)", argNum))
		args = append(args, cities)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	query := fmt.Sprintf(`SELECT name FROM health_center %s ORDER BY name`, where)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка резолва учреждений: %w", err)
	}
	defer rows.Close()

	var names []string
	seen := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ошибка сканирования имени учреждения: %w", err)
		}
		normalized := NormalizeAuthorityName(name)
		if normalized == "" || seen[normalized] {
			continue
		}
		seen[normalized] = true
		names = append(names, normalized)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации учреждений: %w", err)
	}

	return names, nil
}

// ListRegions возвращает коды регионов справочника.
func (r *healthCenterRepo) ListRegions(ctx context.Context) ([]string, error) {
	rows, err := r.db.Query(ctx, `SELECT DISTINCT region_code FROM health_center ORDER BY region_code`)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки регионов: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

// ListCities возвращает коды городов региона.
func (r *healthCenterRepo) ListCities(ctx context.Context, region string) ([]string, error) {
	rows, err := r.db.Query(ctx,
		`SELECT DISTINCT city_code FROM health_center WHERE region_code = $1 ORDER BY city_code`,
		region,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки городов: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}
