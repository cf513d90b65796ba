package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/truth0530/AEDpics-sub004/internal/auditclient"
	"github.com/truth0530/AEDpics-sub004/internal/domain/cursor"
	"github.com/truth0530/AEDpics-sub004/internal/domain/filter"
	"github.com/truth0530/AEDpics-sub004/internal/domain/model"
	"github.com/truth0530/AEDpics-sub004/internal/domain/scope"
	"github.com/truth0530/AEDpics-sub004/internal/repository"
)

// --- Mock repositories ---

// mockDeviceRepo — мок DeviceRepository для unit-тестов.
type mockDeviceRepo struct {
	getByIdentityFn func(ctx context.Context, managementNumber, equipmentSerial string) (*model.AEDRecord, error)
	listFn          func(ctx context.Context, plan repository.DevicePlan) ([]*model.AEDRecord, error)
	summaryFn       func(ctx context.Context, plan repository.DevicePlan, today, soonUntil time.Time) (*repository.SummaryCounts, error)
}

func (m *mockDeviceRepo) GetByIdentity(ctx context.Context, managementNumber, equipmentSerial string) (*model.AEDRecord, error) {
	if m.getByIdentityFn != nil {
		return m.getByIdentityFn(ctx, managementNumber, equipmentSerial)
	}
	return nil, repository.ErrNotFound
}

func (m *mockDeviceRepo) List(ctx context.Context, plan repository.DevicePlan) ([]*model.AEDRecord, error) {
	if m.listFn != nil {
		return m.listFn(ctx, plan)
	}
	return nil, nil
}

func (m *mockDeviceRepo) Summary(ctx context.Context, plan repository.DevicePlan, today, soonUntil time.Time) (*repository.SummaryCounts, error) {
	if m.summaryFn != nil {
		return m.summaryFn(ctx, plan, today, soonUntil)
	}
	return &repository.SummaryCounts{}, nil
}

// mockHealthCenterRepo — мок HealthCenterRepository.
type mockHealthCenterRepo struct {
	resolveNamesFn func(ctx context.Context, regions, cities []string) ([]string, error)
	listRegionsFn  func(ctx context.Context) ([]string, error)
	listCitiesFn   func(ctx context.Context, region string) ([]string, error)
}

func (m *mockHealthCenterRepo) ResolveNames(ctx context.Context, regions, cities []string) ([]string, error) {
	if m.resolveNamesFn != nil {
		return m.resolveNamesFn(ctx, regions, cities)
	}
	return nil, nil
}

func (m *mockHealthCenterRepo) ListRegions(ctx context.Context) ([]string, error) {
	if m.listRegionsFn != nil {
		return m.listRegionsFn(ctx)
	}
	return nil, nil
}

func (m *mockHealthCenterRepo) ListCities(ctx context.Context, region string) ([]string, error) {
	if m.listCitiesFn != nil {
		return m.listCitiesFn(ctx, region)
	}
	return nil, nil
}

// mockAssignmentRepo — мок AssignmentRepository.
type mockAssignmentRepo struct {
	openSerialsFn func(ctx context.Context, assigneeID string) ([]string, error)
}

func (m *mockAssignmentRepo) OpenSerialsByAssignee(ctx context.Context, assigneeID string) ([]string, error) {
	if m.openSerialsFn != nil {
		return m.openSerialsFn(ctx, assigneeID)
	}
	return nil, nil
}

// mockOrganizationRepo — мок OrganizationRepository.
type mockOrganizationRepo struct {
	getByCodeFn func(ctx context.Context, code string) (*model.Organization, error)
}

func (m *mockOrganizationRepo) GetByCode(ctx context.Context, code string) (*model.Organization, error) {
	if m.getByCodeFn != nil {
		return m.getByCodeFn(ctx, code)
	}
	return nil, repository.ErrNotFound
}

// --- Helpers ---

// testNow — фиксированный опорный момент для детерминизма.
var testNow = time.Date(2025, 6, 15, 14, 30, 0, 0, time.UTC)

// newTestQueryService собирает QueryService на моках с фиксированным now.
func newTestQueryService(
	t *testing.T,
	devices *mockDeviceRepo,
	hc *mockHealthCenterRepo,
	asg *mockAssignmentRepo,
	org *mockOrganizationRepo,
) *QueryService {
	t.Helper()

	audit, err := auditclient.New("", "", time.Second, slog.Default())
	if err != nil {
		t.Fatalf("auditclient.New ошибка: %v", err)
	}

	catalog := NewCatalogService(hc, 16, time.Minute)
	svc := NewQueryService(devices, hc, asg, org, catalog, audit, time.UTC, slog.Default())
	svc.now = func() time.Time { return testNow }
	return svc
}

// makeRecords создаёт n последовательных записей устройств.
func makeRecords(n int, startID int64) []*model.AEDRecord {
	records := make([]*model.AEDRecord, 0, n)
	for i := 0; i < n; i++ {
		name := "홍길동"
		phone := "010-1234-5678"
		records = append(records, &model.AEDRecord{
			ID:               startID + int64(i),
			ManagementNumber: fmt.Sprintf("MGT-%04d", startID+int64(i)),
			EquipmentSerial:  fmt.Sprintf("SN-%04d", startID+int64(i)),
			RegionCode:       "11",
			CityCode:         "11680",
			Status:           "active",
			ExternalDisplay:  "Y",
			ManagerName:      &name,
			ManagerPhone:     &phone,
			UpdatedAt:        testNow,
		})
	}
	return records
}

// --- Тесты QueryService.Query ---

// TestQueryService_Query_ScopeNarrowing проверяет инъекцию юрисдикции
// для привязанной роли: опущенный региональный фильтр сужается молча.
func TestQueryService_Query_ScopeNarrowing(t *testing.T) {
	var gotPlan repository.DevicePlan
	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, plan repository.DevicePlan) ([]*model.AEDRecord, error) {
			gotPlan = plan
			return makeRecords(3, 1), nil
		},
		summaryFn: func(_ context.Context, _ repository.DevicePlan, _, _ time.Time) (*repository.SummaryCounts, error) {
			return &repository.SummaryCounts{Total: 3}, nil
		},
	}
	svc := newTestQueryService(t, devices, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "user-1", Role: scope.RoleMunicipal, RegionCode: "11", CityCode: "11680"}
	result, err := svc.Query(context.Background(), caller, filter.FilterSet{})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}

	if len(gotPlan.Regions) != 1 || gotPlan.Regions[0] != "11" {
		t.Errorf("plan.Regions = %v, ожидался [11]", gotPlan.Regions)
	}
	if len(gotPlan.Cities) != 1 || gotPlan.Cities[0] != "11680" {
		t.Errorf("plan.Cities = %v, ожидался [11680]", gotPlan.Cities)
	}
	if len(result.Filters.Enforced) != 2 {
		t.Errorf("Filters.Enforced = %v, ожидались [region city]", result.Filters.Enforced)
	}
	if len(result.Data) != 3 {
		t.Errorf("Data count = %d, ожидался 3", len(result.Data))
	}
}

// TestQueryService_Query_Rejection проверяет отказ для явно запрошенного
// региона вне юрисдикции: repository не вызывается вовсе.
func TestQueryService_Query_Rejection(t *testing.T) {
	listCalled := false
	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, _ repository.DevicePlan) ([]*model.AEDRecord, error) {
			listCalled = true
			return nil, nil
		},
	}
	svc := newTestQueryService(t, devices, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "user-1", Role: scope.RoleRegional, RegionCode: "11"}
	_, err := svc.Query(context.Background(), caller, filter.FilterSet{Regions: []string{"26"}})
	if err == nil {
		t.Fatal("ожидался отказ для региона вне юрисдикции")
	}

	var rejErr *RejectionError
	if !errors.As(err, &rejErr) {
		t.Fatalf("ошибка = %T, ожидался *RejectionError", err)
	}
	if !rejErr.Rejection.IsAuthorizationFailure() {
		t.Error("IsAuthorizationFailure = false, ожидался true")
	}
	if len(rejErr.Rejection.UnauthorizedRegions) != 1 || rejErr.Rejection.UnauthorizedRegions[0] != "26" {
		t.Errorf("UnauthorizedRegions = %v, ожидался [26]", rejErr.Rejection.UnauthorizedRegions)
	}
	if listCalled {
		t.Error("repository.List вызван при отказе enforcement")
	}
}

// TestQueryService_Query_HasMore проверяет keyset-пагинацию:
// pageSize+1 строк от repository, лишняя отбрасывается, nextCursor
// указывает на последнюю отданную строку.
func TestQueryService_Query_HasMore(t *testing.T) {
	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, plan repository.DevicePlan) ([]*model.AEDRecord, error) {
			if plan.Limit != 31 {
				t.Errorf("plan.Limit = %d, ожидался 31 (pageSize+1)", plan.Limit)
			}
			return makeRecords(31, 100), nil
		},
		summaryFn: func(_ context.Context, _ repository.DevicePlan, _, _ time.Time) (*repository.SummaryCounts, error) {
			return &repository.SummaryCounts{Total: 250}, nil
		},
	}
	svc := newTestQueryService(t, devices, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "admin-1", Role: scope.RoleAdmin}
	result, err := svc.Query(context.Background(), caller, filter.FilterSet{Limit: 30})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}

	if len(result.Data) != 30 {
		t.Errorf("Data count = %d, ожидался 30", len(result.Data))
	}
	if !result.Pagination.HasMore {
		t.Error("HasMore = false, ожидался true")
	}

	c := cursor.Decode(result.Pagination.NextCursor)
	if c == nil {
		t.Fatal("nextCursor не декодируется")
	}
	if c.ID != 129 {
		t.Errorf("cursor.ID = %d, ожидался 129 (id 30-й строки)", c.ID)
	}
	if result.Pagination.Total != 250 {
		t.Errorf("Total = %d, ожидался 250", result.Pagination.Total)
	}
	if result.Pagination.TotalPages != 9 {
		t.Errorf("TotalPages = %d, ожидался 9 (ceil(250/30))", result.Pagination.TotalPages)
	}
}

// TestQueryService_Query_PageSizeClamp проверяет потолок размера страницы роли.
func TestQueryService_Query_PageSizeClamp(t *testing.T) {
	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, plan repository.DevicePlan) ([]*model.AEDRecord, error) {
			if plan.Limit != 501 {
				t.Errorf("plan.Limit = %d, ожидался 501 (потолок inspector + 1)", plan.Limit)
			}
			return nil, nil
		},
	}
	svc := newTestQueryService(t, devices, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "insp-1", Role: scope.RoleInspector, RegionCode: "11"}
	result, err := svc.Query(context.Background(), caller, filter.FilterSet{Limit: 999999})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}
	if result.Pagination.Limit != 500 {
		t.Errorf("Pagination.Limit = %d, ожидался 500", result.Pagination.Limit)
	}
}

// TestQueryService_Query_Masking проверяет редактирование чувствительных
// полей для роли без ViewSensitive.
func TestQueryService_Query_Masking(t *testing.T) {
	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, _ repository.DevicePlan) ([]*model.AEDRecord, error) {
			return makeRecords(1, 1), nil
		},
	}

	// Inspector — без чувствительных полей.
	svc := newTestQueryService(t, devices, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, &mockOrganizationRepo{})
	caller := scope.Caller{Subject: "insp-1", Role: scope.RoleInspector, RegionCode: "11"}
	result, err := svc.Query(context.Background(), caller, filter.FilterSet{})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}
	if result.Data[0].ManagerName != nil || result.Data[0].ManagerPhone != nil {
		t.Error("контакты ответственного не отредактированы для inspector")
	}

	// Admin — видит чувствительные поля.
	caller = scope.Caller{Subject: "admin-1", Role: scope.RoleAdmin}
	result, err = svc.Query(context.Background(), caller, filter.FilterSet{})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}
	if result.Data[0].ManagerName == nil || *result.Data[0].ManagerName != "홍길동" {
		t.Error("контакты ответственного отсутствуют для admin")
	}
}

// TestQueryService_Query_ExportHint проверяет UI-подсказку экспорта
// в доступных фильтрах.
func TestQueryService_Query_ExportHint(t *testing.T) {
	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, _ repository.DevicePlan) ([]*model.AEDRecord, error) {
			return nil, nil
		},
	}
	svc := newTestQueryService(t, devices, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "admin-1", Role: scope.RoleAdmin}
	result, err := svc.Query(context.Background(), caller, filter.FilterSet{})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}
	if _, ok := result.Filters.Available["export"]; !ok {
		t.Error("для admin отсутствует подсказка export")
	}

	caller = scope.Caller{Subject: "insp-1", Role: scope.RoleInspector, RegionCode: "11"}
	result, err = svc.Query(context.Background(), caller, filter.FilterSet{})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}
	if _, ok := result.Filters.Available["export"]; ok {
		t.Error("для inspector не должно быть подсказки export")
	}
}

// TestQueryService_Query_IdentityLookup проверяет scope-exempt запрос
// по управленческому номеру.
func TestQueryService_Query_IdentityLookup(t *testing.T) {
	devices := &mockDeviceRepo{
		getByIdentityFn: func(_ context.Context, managementNumber, equipmentSerial string) (*model.AEDRecord, error) {
			if managementNumber != "MGT-0001" || equipmentSerial != "" {
				t.Errorf("GetByIdentity(%q, %q), ожидался (MGT-0001, \"\")", managementNumber, equipmentSerial)
			}
			// Запись из чужого региона: identity lookup обходит enforcement.
			return makeRecords(1, 1)[0], nil
		},
		listFn: func(_ context.Context, _ repository.DevicePlan) ([]*model.AEDRecord, error) {
			t.Error("List вызван при identity lookup")
			return nil, nil
		},
	}
	svc := newTestQueryService(t, devices, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "insp-1", Role: scope.RoleInspector, RegionCode: "26"}
	result, err := svc.Query(context.Background(), caller, filter.FilterSet{ManagementNumber: "MGT-0001"})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}

	if len(result.Data) != 1 {
		t.Fatalf("Data count = %d, ожидался 1", len(result.Data))
	}
	if result.Pagination.Total != 1 {
		t.Errorf("Total = %d, ожидался 1", result.Pagination.Total)
	}
	// Маскирование сохраняется и для identity lookup.
	if result.Data[0].ManagerPhone != nil {
		t.Error("контакты не отредактированы при identity lookup для inspector")
	}
}

// TestQueryService_Query_IdentityNotFound проверяет пустой результат
// identity lookup (не ошибку).
func TestQueryService_Query_IdentityNotFound(t *testing.T) {
	svc := newTestQueryService(t, &mockDeviceRepo{}, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "admin-1", Role: scope.RoleAdmin}
	result, err := svc.Query(context.Background(), caller, filter.FilterSet{EquipmentSerial: "SN-NONE"})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}
	if len(result.Data) != 0 {
		t.Errorf("Data count = %d, ожидался 0", len(result.Data))
	}
	if result.Pagination.Total != 0 {
		t.Errorf("Total = %d, ожидался 0", result.Pagination.Total)
	}
}

// TestQueryService_Query_JurisdictionEmpty проверяет jurisdiction-режим
// без учреждений в юрисдикции: пустой результат без запроса к устройствам.
func TestQueryService_Query_JurisdictionEmpty(t *testing.T) {
	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, _ repository.DevicePlan) ([]*model.AEDRecord, error) {
			t.Error("List вызван при пустом jurisdiction-резолве")
			return nil, nil
		},
	}
	hc := &mockHealthCenterRepo{
		resolveNamesFn: func(_ context.Context, regions, _ []string) ([]string, error) {
			if len(regions) != 1 || regions[0] != "11" {
				t.Errorf("ResolveNames regions = %v, ожидался [11]", regions)
			}
			return nil, nil
		},
	}
	svc := newTestQueryService(t, devices, hc, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "user-1", Role: scope.RoleRegional, RegionCode: "11"}
	result, err := svc.Query(context.Background(), caller, filter.FilterSet{Mode: filter.ModeJurisdiction})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}
	if len(result.Data) != 0 {
		t.Errorf("Data count = %d, ожидался 0", len(result.Data))
	}
	if result.Summary.Total != 0 {
		t.Errorf("Summary.Total = %d, ожидался 0", result.Summary.Total)
	}
}

// TestQueryService_Query_JurisdictionEmptySchedule: открытые назначения
// вызывающего возвращаются и при пустом jurisdiction-резолве —
// список назначений не зависит от вселенной устройств.
func TestQueryService_Query_JurisdictionEmptySchedule(t *testing.T) {
	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, _ repository.DevicePlan) ([]*model.AEDRecord, error) {
			t.Error("List вызван при пустом jurisdiction-резолве")
			return nil, nil
		},
	}
	hc := &mockHealthCenterRepo{
		resolveNamesFn: func(_ context.Context, _, _ []string) ([]string, error) {
			return nil, nil
		},
	}
	asg := &mockAssignmentRepo{
		openSerialsFn: func(_ context.Context, assigneeID string) ([]string, error) {
			if assigneeID != "user-1" {
				t.Errorf("assigneeID = %q, ожидался user-1", assigneeID)
			}
			return []string{"SN-0007"}, nil
		},
	}
	svc := newTestQueryService(t, devices, hc, asg, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "user-1", Role: scope.RoleRegional, RegionCode: "11"}
	result, err := svc.Query(context.Background(), caller, filter.FilterSet{
		Mode:            filter.ModeJurisdiction,
		IncludeSchedule: true,
	})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}
	if len(result.Data) != 0 {
		t.Errorf("Data count = %d, ожидался 0", len(result.Data))
	}
	if len(result.Scheduled) != 1 || result.Scheduled[0] != "SN-0007" {
		t.Errorf("Scheduled = %v, ожидался [SN-0007]", result.Scheduled)
	}
}

// TestQueryService_Query_JurisdictionPlan проверяет двухфазный
// jurisdiction-резолв: нормализованные имена попадают в план.
func TestQueryService_Query_JurisdictionPlan(t *testing.T) {
	var gotPlan repository.DevicePlan
	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, plan repository.DevicePlan) ([]*model.AEDRecord, error) {
			gotPlan = plan
			return nil, nil
		},
	}
	hc := &mockHealthCenterRepo{
		resolveNamesFn: func(_ context.Context, _, _ []string) ([]string, error) {
			return []string{"강남구보건소", "서초구보건소"}, nil
		},
	}
	svc := newTestQueryService(t, devices, hc, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "user-1", Role: scope.RoleRegional, RegionCode: "11"}
	_, err := svc.Query(context.Background(), caller, filter.FilterSet{Mode: filter.ModeJurisdiction})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}

	if gotPlan.Kind != repository.PlanJurisdiction {
		t.Errorf("plan.Kind = %d, ожидался PlanJurisdiction", gotPlan.Kind)
	}
	if len(gotPlan.AuthorityNames) != 2 {
		t.Errorf("plan.AuthorityNames = %v, ожидались 2 имени", gotPlan.AuthorityNames)
	}
}

// TestQueryService_Query_AssignmentMode проверяет план assignment-режима.
func TestQueryService_Query_AssignmentMode(t *testing.T) {
	var gotPlan repository.DevicePlan
	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, plan repository.DevicePlan) ([]*model.AEDRecord, error) {
			gotPlan = plan
			return nil, nil
		},
	}
	asg := &mockAssignmentRepo{
		openSerialsFn: func(_ context.Context, assigneeID string) ([]string, error) {
			if assigneeID != "insp-1" {
				t.Errorf("assigneeID = %q, ожидался insp-1", assigneeID)
			}
			return []string{"SN-0001", "SN-0002"}, nil
		},
	}
	svc := newTestQueryService(t, devices, &mockHealthCenterRepo{}, asg, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "insp-1", Role: scope.RoleInspector, RegionCode: "11"}
	result, err := svc.Query(context.Background(), caller, filter.FilterSet{
		Mode:            filter.ModeAssignment,
		IncludeSchedule: true,
	})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}

	if gotPlan.Kind != repository.PlanAssignment {
		t.Errorf("plan.Kind = %d, ожидался PlanAssignment", gotPlan.Kind)
	}
	if len(gotPlan.OpenStatuses) != len(repository.OpenAssignmentStatuses) {
		t.Errorf("plan.OpenStatuses = %v, ожидался фиксированный набор открытых статусов", gotPlan.OpenStatuses)
	}
	if len(result.Scheduled) != 2 {
		t.Errorf("Scheduled = %v, ожидались 2 серийника", result.Scheduled)
	}
}

// TestQueryService_Query_Distance проверяет расчёт дистанции до
// организации вызывающего.
func TestQueryService_Query_Distance(t *testing.T) {
	seoulLat, seoulLng := 37.5665, 126.9780
	busanLat, busanLng := 35.1796, 129.0756

	records := makeRecords(1, 1)
	records[0].Latitude = &busanLat
	records[0].Longitude = &busanLng

	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, _ repository.DevicePlan) ([]*model.AEDRecord, error) {
			return records, nil
		},
	}
	org := &mockOrganizationRepo{
		getByCodeFn: func(_ context.Context, code string) (*model.Organization, error) {
			if code != "ORG-1" {
				t.Errorf("code = %q, ожидался ORG-1", code)
			}
			return &model.Organization{Code: code, Latitude: &seoulLat, Longitude: &seoulLng}, nil
		},
	}
	svc := newTestQueryService(t, devices, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, org)

	caller := scope.Caller{Subject: "admin-1", Role: scope.RoleAdmin, OrganizationCode: "ORG-1"}
	result, err := svc.Query(context.Background(), caller, filter.FilterSet{})
	if err != nil {
		t.Fatalf("Query ошибка: %v", err)
	}

	d := result.Data[0].DistanceKm
	if d == nil {
		t.Fatal("DistanceKm = nil, ожидалась дистанция Сеул-Пусан")
	}
	if *d < 300 || *d > 350 {
		t.Errorf("DistanceKm = %f, ожидалась ~325", *d)
	}
}

// TestQueryService_Query_FanoutFault проверяет, что ошибка любой
// параллельной ветви проваливает весь запрос.
func TestQueryService_Query_FanoutFault(t *testing.T) {
	devices := &mockDeviceRepo{
		listFn: func(_ context.Context, _ repository.DevicePlan) ([]*model.AEDRecord, error) {
			return makeRecords(5, 1), nil
		},
		summaryFn: func(_ context.Context, _ repository.DevicePlan, _, _ time.Time) (*repository.SummaryCounts, error) {
			return nil, errors.New("connection reset")
		},
	}
	svc := newTestQueryService(t, devices, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "admin-1", Role: scope.RoleAdmin}
	_, err := svc.Query(context.Background(), caller, filter.FilterSet{})
	if err == nil {
		t.Fatal("ожидалась ошибка при сбое ветви агрегатов")
	}
}

// TestQueryService_Query_ScopeConfigFault проверяет ошибку конфигурации
// scope для привязанной роли без региона.
func TestQueryService_Query_ScopeConfigFault(t *testing.T) {
	svc := newTestQueryService(t, &mockDeviceRepo{}, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "user-1", Role: scope.RoleRegional}
	_, err := svc.Query(context.Background(), caller, filter.FilterSet{})
	if !errors.Is(err, scope.ErrScopeConfig) {
		t.Errorf("ошибка = %v, ожидалась ErrScopeConfig", err)
	}
}

// --- Тесты QueryService.GetByIdentity ---

// TestQueryService_GetByIdentity проверяет маршрут одиночного устройства.
func TestQueryService_GetByIdentity(t *testing.T) {
	devices := &mockDeviceRepo{
		getByIdentityFn: func(_ context.Context, managementNumber, _ string) (*model.AEDRecord, error) {
			if managementNumber != "MGT-0042" {
				return nil, repository.ErrNotFound
			}
			return makeRecords(1, 42)[0], nil
		},
	}
	svc := newTestQueryService(t, devices, &mockHealthCenterRepo{}, &mockAssignmentRepo{}, &mockOrganizationRepo{})

	caller := scope.Caller{Subject: "admin-1", Role: scope.RoleAdmin}
	view, err := svc.GetByIdentity(context.Background(), caller, "MGT-0042")
	if err != nil {
		t.Fatalf("GetByIdentity ошибка: %v", err)
	}
	if view.ID != 42 {
		t.Errorf("ID = %d, ожидался 42", view.ID)
	}

	_, err = svc.GetByIdentity(context.Background(), caller, "MGT-NONE")
	if !errors.Is(err, ErrDeviceNotFound) {
		t.Errorf("ошибка = %v, ожидалась ErrDeviceNotFound", err)
	}
}

// TestQueryModeLabel: identity lookup получает собственное значение
// метки mode вместо пустой строки.
func TestQueryModeLabel(t *testing.T) {
	tests := []struct {
		name     string
		enforced *filter.Enforced
		want     string
	}{
		{
			name:     "identity lookup",
			enforced: &filter.Enforced{IdentityLookup: true},
			want:     "identity",
		},
		{
			name:     "address-режим",
			enforced: &filter.Enforced{Filters: filter.FilterSet{Mode: filter.ModeAddress}},
			want:     string(filter.ModeAddress),
		},
		{
			name:     "assignment-режим",
			enforced: &filter.Enforced{Filters: filter.FilterSet{Mode: filter.ModeAssignment}},
			want:     string(filter.ModeAssignment),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := queryModeLabel(tt.enforced); got != tt.want {
				t.Errorf("queryModeLabel() = %q, ожидалось %q", got, tt.want)
			}
		})
	}
}

// TestFilterEcho: эхо набора фильтров содержит все непустые значения —
// оно же уходит в детали аудита при отказе.
func TestFilterEcho(t *testing.T) {
	echo := filterEcho(filter.FilterSet{
		Regions:        []string{"26"},
		Cities:         []string{"26440"},
		Category1:      "공공시설",
		Statuses:       []string{"active"},
		BatteryExpiry:  filter.BucketWithin30,
		LastInspection: filter.BucketOver3M,
		Search:         "해운대",
		Mode:           filter.ModeJurisdiction,
	})

	wantKeys := []string{
		"region", "city", "category_1", "status",
		"battery_expiry_date", "last_inspection_date", "search", "queryCriteria",
	}
	for _, key := range wantKeys {
		if _, ok := echo[key]; !ok {
			t.Errorf("в эхе фильтров отсутствует %q: %v", key, echo)
		}
	}
	if len(echo) != len(wantKeys) {
		t.Errorf("лишние ключи в эхе: %v", echo)
	}
	if echo["battery_expiry_date"] != string(filter.BucketWithin30) {
		t.Errorf("battery_expiry_date = %v", echo["battery_expiry_date"])
	}
}
