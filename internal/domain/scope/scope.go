// Пакет scope — вычисление Access Scope вызывающего.
// Scope выводится из роли и привязки к юрисдикции на каждый запрос
// и никогда не кэшируется между запросами: роль и привязка могут
// измениться между вызовами.
package scope

import (
	"errors"
	"fmt"
)

// Роли реестра в порядке убывания широты доступа.
const (
	// RoleAdmin — центральный администратор: все регионы, чувствительные поля, экспорт.
	RoleAdmin = "admin"
	// RoleRegional — региональный координатор (시도): привязан к региону.
	RoleRegional = "regional"
	// RoleMunicipal — муниципальный координатор (시군구): привязан к региону и городу.
	RoleMunicipal = "municipal"
	// RoleInspector — выездной проверяющий: привязан к юрисдикции, без чувствительных полей.
	RoleInspector = "inspector"
)

// Ошибки резолва scope.
var (
	// ErrUnknownRole — роль не даёт доступа к реестру (forbidden-by-role).
	ErrUnknownRole = errors.New("роль не имеет доступа к реестру устройств")
	// ErrScopeConfig — у привязанной роли отсутствует назначенная юрисдикция.
	// Это повреждённая учётная запись (5xx), а не ошибка запроса.
	ErrScopeConfig = errors.New("учётная запись без назначенной юрисдикции")
)

// Caller — идентичность вызывающего, извлечённая из сессии.
type Caller struct {
	// Subject — идентификатор пользователя (sub из JWT)
	Subject string
	// Role — роль реестра
	Role string
	// RegionCode — назначенный регион (для привязанных ролей)
	RegionCode string
	// CityCode — назначенный город/район (для municipal)
	CityCode string
	// OrganizationCode — код организации пользователя
	OrganizationCode string
}

// AccessScope — вычисленный набор ограничений одного вызывающего.
type AccessScope struct {
	// Regions — разрешённые коды регионов (пусто при AllRegions)
	Regions []string
	// Cities — разрешённые коды городов (пусто — без ограничения по городу)
	Cities []string
	// MaxPageSize — максимальный размер страницы для роли
	MaxPageSize int
	// AllRegions — роль видит все регионы без ограничений
	AllRegions bool
	// ViewSensitive — роль видит чувствительные поля (контакты ответственных)
	ViewSensitive bool
	// CanExport — роли доступен экспорт (используется только UI-подсказкой)
	CanExport bool
}

// roleProfile — статический профиль роли.
type roleProfile struct {
	allRegions    bool
	cityBound     bool
	maxPageSize   int
	viewSensitive bool
	canExport     bool
}

// profiles — профили ролей. Роль вне таблицы не имеет доступа к реестру.
var profiles = map[string]roleProfile{
	RoleAdmin:     {allRegions: true, maxPageSize: 10000, viewSensitive: true, canExport: true},
	RoleRegional:  {maxPageSize: 5000, viewSensitive: true, canExport: true},
	RoleMunicipal: {cityBound: true, maxPageSize: 1000, viewSensitive: true},
	RoleInspector: {maxPageSize: 500},
}

// IsValidRole проверяет, известна ли роль реестру.
func IsValidRole(role string) bool {
	_, ok := profiles[role]
	return ok
}

// Resolve вычисляет AccessScope вызывающего.
// Глобальные роли получают AllRegions без ограничений; привязанные —
// ровно назначенный регион (и город, если роль привязана глубже),
// никогда не надмножество.
// Возвращает ErrUnknownRole для ролей без доступа и ErrScopeConfig,
// если у привязанной роли нет назначенного региона/города.
func Resolve(c Caller) (*AccessScope, error) {
	p, ok := profiles[c.Role]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownRole, c.Role)
	}

	sc := &AccessScope{
		MaxPageSize:   p.maxPageSize,
		AllRegions:    p.allRegions,
		ViewSensitive: p.viewSensitive,
		CanExport:     p.canExport,
	}

	if p.allRegions {
		return sc, nil
	}

	// Привязанная роль обязана иметь назначенный регион.
	if c.RegionCode == "" {
		return nil, fmt.Errorf("%w: роль %q без region_code (subject %s)", ErrScopeConfig, c.Role, c.Subject)
	}
	sc.Regions = []string{c.RegionCode}

	if p.cityBound {
		if c.CityCode == "" {
			return nil, fmt.Errorf("%w: роль %q без city_code (subject %s)", ErrScopeConfig, c.Role, c.Subject)
		}
		sc.Cities = []string{c.CityCode}
	} else if c.CityCode != "" {
		// Необязательная привязка к городу сужает scope, но не расширяет его.
		sc.Cities = []string{c.CityCode}
	}

	return sc, nil
}

// AllowsRegion проверяет, входит ли регион в scope.
func (s *AccessScope) AllowsRegion(region string) bool {
	if s.AllRegions {
		return true
	}
	for _, r := range s.Regions {
		if r == region {
			return true
		}
	}
	return false
}

// AllowsCity проверяет, входит ли город в scope.
// Пустой список Cities означает отсутствие ограничения по городу.
func (s *AccessScope) AllowsCity(city string) bool {
	if s.AllRegions || len(s.Cities) == 0 {
		return true
	}
	for _, c := range s.Cities {
		if c == city {
			return true
		}
	}
	return false
}
