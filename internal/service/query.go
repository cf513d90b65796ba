// query.go — сервис scoped-запросов к реестру устройств.
// Координирует resolve scope, enforcement фильтров, построение плана,
// параллельное выполнение выборки и агрегатов, маскирование и сборку ответа.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/truth0530/AEDpics-sub004/internal/auditclient"
	"github.com/truth0530/AEDpics-sub004/internal/domain/cursor"
	"github.com/truth0530/AEDpics-sub004/internal/domain/filter"
	"github.com/truth0530/AEDpics-sub004/internal/domain/mask"
	"github.com/truth0530/AEDpics-sub004/internal/domain/model"
	"github.com/truth0530/AEDpics-sub004/internal/domain/scope"
	"github.com/truth0530/AEDpics-sub004/internal/repository"
)

// Ошибки сервисного слоя.
var (
	// ErrDeviceNotFound — устройство не найдено.
	ErrDeviceNotFound = errors.New("устройство не найдено")
)

// RejectionError — отказ enforcement, переносимый через границу сервиса.
// Обработчик различает 403 (вне юрисдикции) и 400 (валидация)
// через Rejection.IsAuthorizationFailure.
type RejectionError struct {
	Rejection *filter.Rejection
}

// Error реализует error.
func (e *RejectionError) Error() string {
	return "запрос отклонён политикой фильтров: " + e.Rejection.Reason
}

// Prometheus-метрики запросов.
var (
	queryTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rq_query_total",
		Help: "Общее количество запросов к реестру по режимам.",
	}, []string{"mode"})
	queryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rq_query_duration_seconds",
		Help:    "Длительность запросов к реестру.",
		Buckets: prometheus.DefBuckets,
	})
	filterRejectionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rq_filter_rejections_total",
		Help: "Общее количество отказов политики фильтров.",
	})
)

// soonWindowDays — окно "истекает скоро" для агрегатов.
const soonWindowDays = 30

// DeviceView — исходящее представление устройства.
// Чувствительные поля уже отредактированы маскером до сборки view.
type DeviceView struct {
	ID                 int64      `json:"id"`
	ManagementNumber   string     `json:"managementNumber"`
	EquipmentSerial    string     `json:"equipmentSerial"`
	Category1          string     `json:"category1"`
	Category2          string     `json:"category2"`
	Category3          string     `json:"category3"`
	RegionCode         string     `json:"regionCode"`
	CityCode           string     `json:"cityCode"`
	Address            string     `json:"address"`
	DetailLocation     *string    `json:"detailLocation,omitempty"`
	HealthCenterName   string     `json:"healthCenterName"`
	Status             string     `json:"status"`
	ExternalDisplay    string     `json:"externalDisplay"`
	DisplayBlockReason *string    `json:"displayBlockReason,omitempty"`
	InstallDate        *time.Time `json:"installDate,omitempty"`
	ReportDate         *time.Time `json:"reportDate,omitempty"`
	BatteryExpiryDate  *time.Time `json:"batteryExpiryDate,omitempty"`
	PadExpiryDate      *time.Time `json:"padExpiryDate,omitempty"`
	ReplacementDate    *time.Time `json:"replacementDate,omitempty"`
	LastInspectionDate *time.Time `json:"lastInspectionDate,omitempty"`
	ManagerName        *string    `json:"managerName,omitempty"`
	ManagerPhone       *string    `json:"managerPhone,omitempty"`
	Latitude           *float64   `json:"latitude,omitempty"`
	Longitude          *float64   `json:"longitude,omitempty"`
	Remarks            *string    `json:"remarks,omitempty"`
	UpdatedAt          time.Time  `json:"updatedAt"`
	// DistanceKm — дистанция до организации вызывающего (км)
	DistanceKm *float64 `json:"distanceKm,omitempty"`
}

// PageInfo — блок пагинации ответа.
type PageInfo struct {
	Page        int    `json:"page"`
	Limit       int    `json:"limit"`
	HasMore     bool   `json:"hasMore"`
	NextCursor  string `json:"nextCursor,omitempty"`
	Total       int    `json:"total"`
	CurrentPage int    `json:"currentPage"`
	TotalPages  int    `json:"totalPages"`
	From        int    `json:"from"`
	To          int    `json:"to"`
}

// Summary — агрегатные счётчики ответа.
type Summary struct {
	Total          int `json:"total"`
	Expired        int `json:"expired"`
	ExpiringSoon   int `json:"expiringSoon"`
	DisplayBlocked int `json:"displayBlocked"`
}

// FiltersEcho — эхо фильтров: что применено, что инъектировано,
// какие значения доступны вызывающему.
type FiltersEcho struct {
	Applied   map[string]any      `json:"applied"`
	Enforced  []string            `json:"enforced"`
	Available map[string][]string `json:"available"`
}

// QueryResult — полный ответ запроса к реестру.
type QueryResult struct {
	Data       []*DeviceView `json:"data"`
	Pagination PageInfo      `json:"pagination"`
	Summary    Summary       `json:"summary"`
	// Scheduled — серийники открытых назначений вызывающего (по запросу)
	Scheduled []string    `json:"scheduled,omitempty"`
	Filters   FiltersEcho `json:"filters"`
}

// QueryService — сервис scoped-запросов к реестру устройств.
type QueryService struct {
	devices       repository.DeviceRepository
	healthCenters repository.HealthCenterRepository
	assignments   repository.AssignmentRepository
	organizations repository.OrganizationRepository
	catalog       *CatalogService
	audit         *auditclient.Client
	loc           *time.Location
	// now — опорный момент времени, инъектируется для детерминизма тестов
	now    func() time.Time
	logger *slog.Logger
}

// NewQueryService создаёт сервис запросов.
func NewQueryService(
	devices repository.DeviceRepository,
	healthCenters repository.HealthCenterRepository,
	assignments repository.AssignmentRepository,
	organizations repository.OrganizationRepository,
	catalog *CatalogService,
	audit *auditclient.Client,
	loc *time.Location,
	logger *slog.Logger,
) *QueryService {
	return &QueryService{
		devices:       devices,
		healthCenters: healthCenters,
		assignments:   assignments,
		organizations: organizations,
		catalog:       catalog,
		audit:         audit,
		loc:           loc,
		now:           time.Now,
		logger:        logger.With(slog.String("component", "query_service")),
	}
}

// Query выполняет scoped-запрос к реестру.
// Последовательность: resolve scope -> enforcement -> план -> параллельная
// выборка строк и агрегатов -> маскирование -> сборка ответа.
// Ошибка любой ветви fan-out проваливает весь запрос: частичные
// результаты никогда не возвращаются.
//
//nolint:cyclop // оркестрация полного конвейера запроса
func (s *QueryService) Query(ctx context.Context, caller scope.Caller, req filter.FilterSet) (*QueryResult, error) {
	start := s.now()
	defer func() {
		queryDuration.Observe(time.Since(start).Seconds())
	}()

	// 1. Access Scope: вычисляется на каждый запрос, не кэшируется.
	sc, err := scope.Resolve(caller)
	if err != nil {
		return nil, err
	}

	// 2. Enforcement фильтров против scope.
	enforced, rej := filter.Enforce(sc, filter.ScopeDefaults{
		AllRegions:  sc.AllRegions,
		Regions:     sc.Regions,
		Cities:      sc.Cities,
		MaxPageSize: sc.MaxPageSize,
	}, req)
	if rej != nil {
		filterRejectionsTotal.Inc()
		// Аудит отказа до записи HTTP-ошибки. Отказ не содержит данных устройств.
		s.audit.Submit("filter_rejected", caller.Subject, caller.Role, map[string]any{
			"reason":              rej.Reason,
			"missingFilters":      rej.MissingFilters,
			"unauthorizedRegions": rej.UnauthorizedRegions,
			"unauthorizedCities":  rej.UnauthorizedCities,
			"requestedFilters":    filterEcho(req),
		})
		return nil, &RejectionError{Rejection: rej}
	}

	queryTotal.WithLabelValues(queryModeLabel(enforced)).Inc()

	// 3. Identity lookup: scope-exempt, максимум одна запись.
	if enforced.IdentityLookup {
		return s.identityLookup(ctx, sc, enforced)
	}

	// 4. План запроса.
	plan, err := s.buildPlan(ctx, enforced, start)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		// Jurisdiction-резолв не нашёл учреждений: пустой результат
		// без обращения к таблице устройств. Список открытых назначений
		// вызывающего не зависит от вселенной устройств.
		var serials []string
		if enforced.Filters.IncludeSchedule {
			serials, err = s.assignments.OpenSerialsByAssignee(ctx, caller.Subject)
			if err != nil {
				return nil, fmt.Errorf("выполнение запроса к реестру: %w", err)
			}
		}
		return s.assemble(ctx, caller, sc, enforced, nil, &repository.SummaryCounts{}, serials, false)
	}

	// 5. Параллельное выполнение: страница строк и агрегаты идут
	// по одним и тем же фильтрам независимыми запросами.
	today := midnightIn(start, s.loc)
	soonUntil := today.AddDate(0, 0, soonWindowDays)

	var (
		wg         sync.WaitGroup
		rows       []*model.AEDRecord
		rowsErr    error
		counts     *repository.SummaryCounts
		countsErr  error
		serials    []string
		serialsErr error
	)

	wg.Add(2)
	go func() {
		defer wg.Done()
		rows, rowsErr = s.devices.List(ctx, *plan)
	}()
	go func() {
		defer wg.Done()
		counts, countsErr = s.devices.Summary(ctx, *plan, today, soonUntil)
	}()
	if enforced.Filters.IncludeSchedule {
		wg.Add(1)
		go func() {
			defer wg.Done()
			serials, serialsErr = s.assignments.OpenSerialsByAssignee(ctx, caller.Subject)
		}()
	}
	wg.Wait()

	if err := errors.Join(rowsErr, countsErr, serialsErr); err != nil {
		s.logger.Error("ошибка выполнения запроса к реестру",
			slog.String("subject", caller.Subject),
			slog.String("role", caller.Role),
			slog.String("mode", string(enforced.Filters.Mode)),
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		s.audit.Submit("query_failed", caller.Subject, caller.Role, map[string]any{
			"mode": string(enforced.Filters.Mode),
		})
		return nil, fmt.Errorf("выполнение запроса к реестру: %w", err)
	}

	// 6. hasMore: выбрано pageSize+1 строк, лишняя отбрасывается.
	hasMore := len(rows) > enforced.PageSize
	if hasMore {
		rows = rows[:enforced.PageSize]
	}

	result, err := s.assemble(ctx, caller, sc, enforced, rows, counts, serials, hasMore)
	if err != nil {
		return nil, err
	}

	s.logger.Debug("запрос к реестру выполнен",
		slog.String("mode", string(enforced.Filters.Mode)),
		slog.Int("returned", len(rows)),
		slog.Int("total", counts.Total),
		slog.Bool("has_more", hasMore),
		slog.Duration("duration", time.Since(start)),
	)

	return result, nil
}

// GetByIdentity возвращает одно устройство по уникальному идентификатору
// (маршрут /api/v1/devices/{management_number}).
// Scope-exempt по строкам, но маскирование чувствительных полей сохраняется.
func (s *QueryService) GetByIdentity(ctx context.Context, caller scope.Caller, managementNumber string) (*DeviceView, error) {
	sc, err := scope.Resolve(caller)
	if err != nil {
		return nil, err
	}

	rec, err := s.devices.GetByIdentity(ctx, managementNumber, "")
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDeviceNotFound
		}
		return nil, fmt.Errorf("поиск устройства по номеру: %w", err)
	}

	org := s.callerOrganization(ctx, caller)
	return s.deviceView(rec, sc, org), nil
}

// identityLookup обрабатывает identity-запрос внутри листингового маршрута:
// ответ в той же форме, что и у списка, максимум одна строка.
func (s *QueryService) identityLookup(ctx context.Context, sc *scope.AccessScope, enforced *filter.Enforced) (*QueryResult, error) {
	result := &QueryResult{
		Data: []*DeviceView{},
		Pagination: PageInfo{
			Page:        1,
			Limit:       1,
			CurrentPage: 1,
		},
		Filters: FiltersEcho{
			Applied:   filterEcho(enforced.Filters),
			Enforced:  []string{},
			Available: map[string][]string{},
		},
	}

	rec, err := s.devices.GetByIdentity(ctx,
		enforced.Filters.ManagementNumber, enforced.Filters.EquipmentSerial)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return result, nil
		}
		return nil, fmt.Errorf("поиск устройства по идентификатору: %w", err)
	}

	result.Data = append(result.Data, s.deviceView(rec, sc, nil))
	result.Pagination.Total = 1
	result.Pagination.TotalPages = 1
	result.Pagination.From = 1
	result.Pagination.To = 1
	result.Summary.Total = 1
	return result, nil
}

// buildPlan переводит enforced-фильтры в план запроса.
// Возвращает (nil, nil), если jurisdiction-резолв не нашёл учреждений.
func (s *QueryService) buildPlan(ctx context.Context, enforced *filter.Enforced, now time.Time) (*repository.DevicePlan, error) {
	f := enforced.Filters

	plan := &repository.DevicePlan{
		Regions:  f.Regions,
		Cities:   f.Cities,
		Statuses: f.Statuses,
		Limit:    enforced.PageSize + 1,
	}

	if c := cursor.Decode(f.Cursor); c != nil {
		plan.AfterID = c.ID
	}

	for _, p := range []struct {
		dst   **string
		value string
	}{
		{&plan.Category1, f.Category1},
		{&plan.Category2, f.Category2},
		{&plan.Category3, f.Category3},
		{&plan.Search, f.Search},
		{&plan.ExternalDisplay, f.ExternalDisplay},
	} {
		if p.value != "" {
			v := p.value
			*p.dst = &v
		}
	}

	// Перевод bucket-фильтров в конкретные границы: опорный момент —
	// инъектированный now, границы по полуночи сервисной таймзоны.
	for _, b := range []struct {
		dst    **filter.DateRange
		bucket filter.Bucket
	}{
		{&plan.BatteryExpiry, f.BatteryExpiry},
		{&plan.PadExpiry, f.PadExpiry},
		{&plan.Replacement, f.Replacement},
	} {
		if b.bucket == "" {
			continue
		}
		bounds, err := filter.ExpiryBounds(b.bucket, now, s.loc)
		if err != nil {
			return nil, &RejectionError{Rejection: &filter.Rejection{Reason: err.Error()}}
		}
		*b.dst = &bounds
	}
	if f.LastInspection != "" {
		bounds, err := filter.InspectionBounds(f.LastInspection, now, s.loc)
		if err != nil {
			return nil, &RejectionError{Rejection: &filter.Rejection{Reason: err.Error()}}
		}
		plan.LastInspection = &bounds
	}

	switch f.Mode {
	case filter.ModeJurisdiction:
		// Фаза 1: резолв нормализованных имён учреждений по юрисдикции.
		names, err := s.healthCenters.ResolveNames(ctx, f.Regions, f.Cities)
		if err != nil {
			return nil, fmt.Errorf("резолв учреждений юрисдикции: %w", err)
		}
		if len(names) == 0 {
			return nil, nil
		}
		plan.Kind = repository.PlanJurisdiction
		plan.AuthorityNames = names
	case filter.ModeAssignment:
		plan.Kind = repository.PlanAssignment
		plan.OpenStatuses = repository.OpenAssignmentStatuses
	default:
		plan.Kind = repository.PlanAddress
	}

	return plan, nil
}

// assemble собирает полный ответ: маскирование, пагинация, эхо фильтров.
func (s *QueryService) assemble(
	ctx context.Context,
	caller scope.Caller,
	sc *scope.AccessScope,
	enforced *filter.Enforced,
	rows []*model.AEDRecord,
	counts *repository.SummaryCounts,
	serials []string,
	hasMore bool,
) (*QueryResult, error) {
	org := s.callerOrganization(ctx, caller)

	data := make([]*DeviceView, 0, len(rows))
	for _, rec := range rows {
		data = append(data, s.deviceView(rec, sc, org))
	}

	page := enforced.Filters.Page
	if page < 1 {
		page = 1
	}

	pagination := PageInfo{
		Page:        page,
		Limit:       enforced.PageSize,
		HasMore:     hasMore,
		Total:       counts.Total,
		CurrentPage: page,
		TotalPages:  totalPages(counts.Total, enforced.PageSize),
	}
	if len(rows) > 0 {
		last := rows[len(rows)-1]
		if hasMore {
			pagination.NextCursor = cursor.Encode(last.ID, &last.UpdatedAt)
		}
		pagination.From = (page-1)*enforced.PageSize + 1
		pagination.To = pagination.From + len(rows) - 1
	}

	available, err := s.availableFilters(ctx, sc)
	if err != nil {
		return nil, err
	}

	appliedDefaults := enforced.AppliedDefaults
	if appliedDefaults == nil {
		appliedDefaults = []string{}
	}

	return &QueryResult{
		Data:       data,
		Pagination: pagination,
		Summary: Summary{
			Total:          counts.Total,
			Expired:        counts.Expired,
			ExpiringSoon:   counts.ExpiringSoon,
			DisplayBlocked: counts.DisplayBlocked,
		},
		Scheduled: serials,
		Filters: FiltersEcho{
			Applied:   filterEcho(enforced.Filters),
			Enforced:  appliedDefaults,
			Available: available,
		},
	}, nil
}

// deviceView строит исходящее представление: маскирование + дистанция.
func (s *QueryService) deviceView(rec *model.AEDRecord, sc *scope.AccessScope, org *model.Organization) *DeviceView {
	masked := mask.Device(rec, sc.ViewSensitive)

	view := &DeviceView{
		ID:                 masked.ID,
		ManagementNumber:   masked.ManagementNumber,
		EquipmentSerial:    masked.EquipmentSerial,
		Category1:          masked.Category1,
		Category2:          masked.Category2,
		Category3:          masked.Category3,
		RegionCode:         masked.RegionCode,
		CityCode:           masked.CityCode,
		Address:            masked.Address,
		DetailLocation:     masked.DetailLocation,
		HealthCenterName:   masked.HealthCenterName,
		Status:             masked.Status,
		ExternalDisplay:    masked.ExternalDisplay,
		DisplayBlockReason: masked.DisplayBlockReason,
		InstallDate:        masked.InstallDate,
		ReportDate:         masked.ReportDate,
		BatteryExpiryDate:  masked.BatteryExpiryDate,
		PadExpiryDate:      masked.PadExpiryDate,
		ReplacementDate:    masked.ReplacementDate,
		LastInspectionDate: masked.LastInspectionDate,
		ManagerName:        masked.ManagerName,
		ManagerPhone:       masked.ManagerPhone,
		Latitude:           masked.Latitude,
		Longitude:          masked.Longitude,
		Remarks:            masked.Remarks,
		UpdatedAt:          masked.UpdatedAt,
	}

	if org != nil {
		view.DistanceKm = mask.Distance(org.Latitude, org.Longitude, masked.Latitude, masked.Longitude)
	}

	return view
}

// callerOrganization возвращает организацию вызывающего для расчёта
// дистанции. Отсутствие организации не является ошибкой запроса —
// дистанция просто не считается.
func (s *QueryService) callerOrganization(ctx context.Context, caller scope.Caller) *model.Organization {
	if caller.OrganizationCode == "" {
		return nil
	}
	org, err := s.organizations.GetByCode(ctx, caller.OrganizationCode)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Warn("организация вызывающего недоступна",
				slog.String("organization_code", caller.OrganizationCode),
				slog.String("error", err.Error()),
			)
		}
		return nil
	}
	return org
}

// availableFilters собирает доступные вызывающему значения фильтров
// из кэшированного каталога, ограниченные scope.
func (s *QueryService) availableFilters(ctx context.Context, sc *scope.AccessScope) (map[string][]string, error) {
	available := map[string][]string{}

	regions := sc.Regions
	if sc.AllRegions {
		all, err := s.catalog.Regions(ctx)
		if err != nil {
			return nil, err
		}
		regions = all
	}
	available[filter.KeyRegion] = regions

	var cities []string
	for _, region := range regions {
		rc, err := s.catalog.Cities(ctx, region)
		if err != nil {
			return nil, err
		}
		cities = append(cities, rc...)
	}
	if len(sc.Cities) > 0 {
		// Город-привязанный scope: каталог сужается до назначенных городов.
		cities = sc.Cities
	}
	available[filter.KeyCity] = cities

	// UI-подсказка: роли доступен экспорт.
	if sc.CanExport {
		available["export"] = []string{"true"}
	}

	return available, nil
}

// queryModeLabel — значение метки mode для метрики запросов.
// Identity lookup получает собственное значение: режим в нём не задаётся.
func queryModeLabel(enforced *filter.Enforced) string {
	if enforced.IdentityLookup {
		return "identity"
	}
	return string(enforced.Filters.Mode)
}

// filterEcho строит эхо набора фильтров (непустые значения).
// Используется и в ответе (applied), и в деталях аудита отказа.
func filterEcho(f filter.FilterSet) map[string]any {
	applied := map[string]any{}

	if f.ManagementNumber != "" {
		applied["management_number"] = f.ManagementNumber
	}
	if f.EquipmentSerial != "" {
		applied["equipment_serial"] = f.EquipmentSerial
	}
	if len(f.Regions) > 0 {
		applied[filter.KeyRegion] = f.Regions
	}
	if len(f.Cities) > 0 {
		applied[filter.KeyCity] = f.Cities
	}
	if f.Category1 != "" {
		applied["category_1"] = f.Category1
	}
	if f.Category2 != "" {
		applied["category_2"] = f.Category2
	}
	if f.Category3 != "" {
		applied["category_3"] = f.Category3
	}
	if len(f.Statuses) > 0 {
		applied["status"] = f.Statuses
	}
	if f.BatteryExpiry != "" {
		applied["battery_expiry_date"] = string(f.BatteryExpiry)
	}
	if f.PadExpiry != "" {
		applied["patch_expiry_date"] = string(f.PadExpiry)
	}
	if f.Replacement != "" {
		applied["replacement_date"] = string(f.Replacement)
	}
	if f.LastInspection != "" {
		applied["last_inspection_date"] = string(f.LastInspection)
	}
	if f.Search != "" {
		applied["search"] = f.Search
	}
	if f.ExternalDisplay != "" {
		applied["external_display"] = f.ExternalDisplay
	}
	if f.Mode != "" && f.Mode != filter.ModeAddress {
		applied["queryCriteria"] = string(f.Mode)
	}

	return applied
}

// midnightIn усекает момент времени до полуночи в таймзоне.
func midnightIn(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// totalPages — количество страниц при заданном размере.
func totalPages(total, pageSize int) int {
	if total == 0 || pageSize == 0 {
		return 0
	}
	return int(math.Ceil(float64(total) / float64(pageSize)))
}
