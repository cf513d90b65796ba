// Пакет filter — набор фильтров запроса и политика его приведения к scope.
// Enforce валидирует запрошенные фильтры против Access Scope:
// опущенные региональные фильтры молча сужаются до юрисдикции вызывающего
// (с фиксацией в applied defaults), явно запрошенные вне scope — отклоняются.
// Enforcer добавляет значения по умолчанию, но никогда молча не удаляет
// заданное вызывающим значение.
package filter

import "fmt"

// Mode — стратегия построения запроса.
type Mode string

const (
	// ModeAddress — фильтрация по собственным атрибутам записи (default).
	ModeAddress Mode = "address"
	// ModeJurisdiction — резолв через названия курирующих учреждений.
	ModeJurisdiction Mode = "jurisdiction"
	// ModeAssignment — вселенная строк ограничена открытыми назначениями.
	ModeAssignment Mode = "assignment"
)

// Ключи фильтров в applied defaults и missing filters.
const (
	KeyRegion = "region"
	KeyCity   = "city"
)

// FilterSet — запрошенные вызывающим ограничения.
// Мутируется только Enforcer-ом.
type FilterSet struct {
	// Regions, Cities — явно запрошенные коды регионов/городов
	Regions []string
	Cities  []string

	// Category1..3 — трёхуровневая категория места установки
	Category1 string
	Category2 string
	Category3 string

	// Statuses — операционные статусы устройства
	Statuses []string

	// Bucket-фильтры дат (пустой токен — фильтр не применяется)
	BatteryExpiry  Bucket
	PadExpiry      Bucket
	Replacement    Bucket
	LastInspection Bucket

	// Search — free-text поиск (номер, серийник, учреждение, адрес)
	Search string

	// ExternalDisplay — флаг внешней видимости (Y, N, blocked)
	ExternalDisplay string

	// Identity lookup — взаимоисключим со всеми прочими фильтрами
	ManagementNumber string
	EquipmentSerial  string

	// Mode — стратегия запроса
	Mode Mode

	// Пагинация
	Cursor string
	Limit  int
	// Page — номер страницы, только для отображения в ответе
	Page int

	// IncludeSchedule — вернуть список серийников открытых назначений вызывающего
	IncludeSchedule bool
}

// Enforced — приведённый к scope набор фильтров.
type Enforced struct {
	// Filters — эффективные фильтры (с инъектированными default-ами)
	Filters FilterSet
	// AppliedDefaults — ключи фильтров, добавленных Enforcer-ом
	AppliedDefaults []string
	// PageSize — размер страницы: min(max(1, запрошенный), scope.MaxPageSize)
	PageSize int
	// IdentityLookup — запрос по уникальному идентификатору (scope-exempt)
	IdentityLookup bool
}

// Rejection — структурированный отказ enforcement.
// Не содержит никаких данных устройств.
type Rejection struct {
	// Reason — машиночитаемая причина отказа
	Reason string `json:"reason"`
	// MissingFilters — обязательные фильтры без значения и default-а
	MissingFilters []string `json:"missingFilters,omitempty"`
	// UnauthorizedRegions — явно запрошенные регионы вне scope
	UnauthorizedRegions []string `json:"unauthorizedRegions,omitempty"`
	// UnauthorizedCities — явно запрошенные города вне scope
	UnauthorizedCities []string `json:"unauthorizedCities,omitempty"`
}

// IsAuthorizationFailure различает отказ 403 (вне юрисдикции)
// от ошибки валидации 400.
func (r *Rejection) IsAuthorizationFailure() bool {
	return len(r.UnauthorizedRegions) > 0 || len(r.UnauthorizedCities) > 0
}

// Scope — минимальный интерфейс Access Scope, нужный Enforcer-у.
// Реализуется *scope.AccessScope.
type Scope interface {
	AllowsRegion(region string) bool
	AllowsCity(city string) bool
}

// ScopeDefaults — юрисдикция для инъекции default-ов.
type ScopeDefaults struct {
	// AllRegions — scope без региональных ограничений
	AllRegions bool
	// Regions, Cities — юрисдикция вызывающего
	Regions []string
	Cities  []string
	// MaxPageSize — потолок размера страницы
	MaxPageSize int
}

// DefaultPageSize — размер страницы при отсутствии limit в запросе.
const DefaultPageSize = 30

// Enforce валидирует запрошенные фильтры против scope.
// Возвращает (enforced, nil) либо (nil, rejection).
// Ключевой нюанс: опущенный фильтр сужается, явно запрошенный
// вне юрисдикции — отклоняется.
func Enforce(sc Scope, defaults ScopeDefaults, req FilterSet) (*Enforced, *Rejection) {
	// Identity lookup обходит региональный enforcement целиком:
	// запрос по уникальному идентификатору возвращает максимум одну запись.
	if req.ManagementNumber != "" || req.EquipmentSerial != "" {
		if rej := validateIdentityLookup(req); rej != nil {
			return nil, rej
		}
		return &Enforced{
			Filters: FilterSet{
				ManagementNumber: req.ManagementNumber,
				EquipmentSerial:  req.EquipmentSerial,
			},
			PageSize:       1,
			IdentityLookup: true,
		}, nil
	}

	if rej := validateTokens(req); rej != nil {
		return nil, rej
	}

	enforced := &Enforced{Filters: req}
	enforced.PageSize = clampPageSize(req.Limit, defaults.MaxPageSize)
	if enforced.Filters.Mode == "" {
		enforced.Filters.Mode = ModeAddress
	}

	if defaults.AllRegions {
		// Глобальный scope: запрошенные фильтры проходят без изменений,
		// включая пустые (= без ограничения).
		return enforced, nil
	}

	// Регионы: опущено — инъекция юрисдикции, явно вне scope — отказ.
	if len(req.Regions) == 0 {
		enforced.Filters.Regions = append([]string(nil), defaults.Regions...)
		enforced.AppliedDefaults = append(enforced.AppliedDefaults, KeyRegion)
	} else {
		var unauthorized []string
		for _, r := range req.Regions {
			if !sc.AllowsRegion(r) {
				unauthorized = append(unauthorized, r)
			}
		}
		if len(unauthorized) > 0 {
			return nil, &Rejection{
				Reason:              "unauthorized region",
				UnauthorizedRegions: unauthorized,
			}
		}
	}

	// Города: та же политика, только для scope с привязкой к городу.
	if len(defaults.Cities) > 0 {
		if len(req.Cities) == 0 {
			enforced.Filters.Cities = append([]string(nil), defaults.Cities...)
			enforced.AppliedDefaults = append(enforced.AppliedDefaults, KeyCity)
		} else {
			var unauthorized []string
			for _, c := range req.Cities {
				if !sc.AllowsCity(c) {
					unauthorized = append(unauthorized, c)
				}
			}
			if len(unauthorized) > 0 {
				return nil, &Rejection{
					Reason:             "unauthorized city",
					UnauthorizedCities: unauthorized,
				}
			}
		}
	}

	return enforced, nil
}

// clampPageSize нормализует размер страницы: min(max(1, requested), maxPageSize).
func clampPageSize(requested, maxPageSize int) int {
	if requested < 1 {
		requested = DefaultPageSize
	}
	if requested > maxPageSize {
		return maxPageSize
	}
	return requested
}

// validateIdentityLookup проверяет взаимоисключимость identity lookup
// со всеми прочими фильтрами.
func validateIdentityLookup(req FilterSet) *Rejection {
	if req.ManagementNumber != "" && req.EquipmentSerial != "" {
		return &Rejection{Reason: "management_number и equipment_serial взаимоисключимы"}
	}
	if hasOtherFilters(req) {
		return &Rejection{Reason: "identity lookup несовместим с другими фильтрами"}
	}
	return nil
}

// hasOtherFilters — есть ли в запросе фильтры помимо identity.
func hasOtherFilters(req FilterSet) bool {
	return len(req.Regions) > 0 || len(req.Cities) > 0 ||
		req.Category1 != "" || req.Category2 != "" || req.Category3 != "" ||
		len(req.Statuses) > 0 ||
		req.BatteryExpiry != "" || req.PadExpiry != "" ||
		req.Replacement != "" || req.LastInspection != "" ||
		req.Search != "" || req.ExternalDisplay != "" ||
		req.Cursor != ""
}

// validateTokens проверяет синтаксическую корректность токенов фильтров.
func validateTokens(req FilterSet) *Rejection {
	for _, f := range []struct {
		name  string
		value Bucket
	}{
		{"battery_expiry_date", req.BatteryExpiry},
		{"patch_expiry_date", req.PadExpiry},
		{"replacement_date", req.Replacement},
	} {
		if f.value != "" && !IsExpiryBucket(f.value) {
			return &Rejection{Reason: fmt.Sprintf("недопустимый токен %s: %q", f.name, f.value)}
		}
	}
	if req.LastInspection != "" && !IsInspectionBucket(req.LastInspection) {
		return &Rejection{Reason: fmt.Sprintf("недопустимый токен last_inspection_date: %q", req.LastInspection)}
	}

	switch req.ExternalDisplay {
	case "", "Y", "N", "blocked":
	default:
		return &Rejection{Reason: fmt.Sprintf("недопустимое значение external_display: %q", req.ExternalDisplay)}
	}

	switch req.Mode {
	case "", ModeAddress, ModeJurisdiction, ModeAssignment:
	default:
		return &Rejection{Reason: fmt.Sprintf("недопустимый режим запроса: %q", req.Mode)}
	}

	return nil
}
