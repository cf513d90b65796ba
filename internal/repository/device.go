package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/truth0530/AEDpics-sub004/internal/domain/filter"
	"github.com/truth0530/AEDpics-sub004/internal/domain/model"
)

// deviceColumns — список столбцов таблицы aed_device для SELECT-запросов.
// DRY: одно место для всех SELECT'ов.
const deviceColumns = `id, management_number, equipment_serial,
	category_1, category_2, category_3,
	region_code, city_code, address, detail_location, health_center_name,
	status, external_display, display_block_reason,
	install_date, report_date, battery_expiry_date, pad_expiry_date,
	replacement_date, last_inspection_date,
	manager_name, manager_phone, latitude, longitude, remarks,
	created_at, updated_at`

// PlanKind — вид плана запроса.
type PlanKind int

const (
	// PlanAddress — фильтрация по собственным атрибутам записи.
	PlanAddress PlanKind = iota
	// PlanJurisdiction — фильтрация по резолвнутым именам учреждений.
	PlanJurisdiction
	// PlanAssignment — вселенная строк ограничена открытыми назначениями.
	PlanAssignment
)

// DevicePlan — дескриптор плана запроса устройств.
// Один из трёх взаимоисключающих видов; поля-указатели nil = фильтр
// не применяется. Все bucket-фильтры уже переведены в конкретные границы.
type DevicePlan struct {
	// Kind — вид плана
	Kind PlanKind

	// Regions, Cities — коды регионов/городов (не применяются
	// в jurisdiction-плане: регион уже учтён при резолве имён)
	Regions []string
	Cities  []string

	// Category1..3 — категория места установки (exact match)
	Category1 *string
	Category2 *string
	Category3 *string

	// Statuses — операционные статусы устройства
	Statuses []string

	// Границы дат (переведённые bucket-фильтры)
	BatteryExpiry  *filter.DateRange
	PadExpiry      *filter.DateRange
	Replacement    *filter.DateRange
	LastInspection *filter.DateRange

	// Search — free-text поиск (case-insensitive OR по идентификаторам,
	// учреждению и адресу)
	Search *string

	// ExternalDisplay — флаг внешней видимости
	ExternalDisplay *string

	// AuthorityNames — нормализованные имена учреждений (jurisdiction, фаза 2)
	AuthorityNames []string

	// OpenStatuses — статусы открытых назначений (assignment)
	OpenStatuses []string

	// AfterID — keyset-якорь: строки строго с id > AfterID
	AfterID int64
	// Limit — количество строк (вызывающий передаёт pageSize+1 для hasMore)
	Limit int
}

// SummaryCounts — агрегатные счётчики по enforced-фильтрам (без пагинации).
type SummaryCounts struct {
	// Total — всего устройств под фильтрами
	Total int
	// Expired — с истёкшей батареей или электродами
	Expired int
	// ExpiringSoon — истекает в ближайшем окне (без уже истёкших)
	ExpiringSoon int
	// DisplayBlocked — с заблокированным внешним отображением
	DisplayBlocked int
}

// DeviceRepository — интерфейс доступа к устройствам в aed_device.
// Сервис запросов использует только read-only операции.
type DeviceRepository interface {
	// GetByIdentity возвращает устройство по управленческому или серийному
	// номеру (ровно один из аргументов непуст). Максимум одна запись.
	GetByIdentity(ctx context.Context, managementNumber, equipmentSerial string) (*model.AEDRecord, error)
	// List возвращает страницу устройств по плану (keyset id > AfterID).
	List(ctx context.Context, plan DevicePlan) ([]*model.AEDRecord, error)
	// Summary считает агрегаты по тем же фильтрам без пагинации.
	// today/soonUntil — опорные границы для expired/expiring-soon.
	Summary(ctx context.Context, plan DevicePlan, today, soonUntil time.Time) (*SummaryCounts, error)
}

// deviceRepo — реализация DeviceRepository через pgx.
type deviceRepo struct {
	db DBTX
}

// NewDeviceRepository создаёт репозиторий устройств.
func NewDeviceRepository(db DBTX) DeviceRepository {
	return &deviceRepo{db: db}
}

// GetByIdentity возвращает устройство по уникальному идентификатору или ErrNotFound.
// Управленческий номер не гарантированно глобально уникален на уровне
// фильтра — берётся запись с минимальным id.
func (r *deviceRepo) GetByIdentity(ctx context.Context, managementNumber, equipmentSerial string) (*model.AEDRecord, error) {
	column := "management_number"
	value := managementNumber
	if managementNumber == "" {
		column = "equipment_serial"
		value = equipmentSerial
	}

	query := fmt.Sprintf(
		`SELECT %s FROM aed_device WHERE %s = $1 ORDER BY id LIMIT 1`,
		deviceColumns, column,
	)

	rec, err := scanDevice(r.db.QueryRow(ctx, query, value))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка поиска устройства по идентификатору: %w", err)
	}
	return rec, nil
}

// List возвращает страницу устройств по плану.
// Пагинация — строго keyset (id > AfterID), никогда OFFSET: вставки
// с меньшими id не сдвигают последующие страницы, удаления не дают
// дублей и пропусков.
func (r *deviceRepo) List(ctx context.Context, plan DevicePlan) ([]*model.AEDRecord, error) {
	where, args := buildDeviceWhere(plan, 1, true)
	argNum := len(args) + 1

	query := fmt.Sprintf(
		`SELECT %s FROM aed_device %s ORDER BY id LIMIT $%d`,
		deviceColumns, where, argNum,
	)
	args = append(args, plan.Limit)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки устройств: %w", err)
	}
	defer rows.Close()

	var result []*model.AEDRecord
	for rows.Next() {
		rec, err := scanDevice(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка сканирования устройства: %w", err)
		}
		result = append(result, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}

	return result, nil
}

// Summary считает агрегаты одним запросом с FILTER-выражениями,
// по тем же условиям, что и страница, но без keyset-якоря.
func (r *deviceRepo) Summary(ctx context.Context, plan DevicePlan, today, soonUntil time.Time) (*SummaryCounts, error) {
	where, args := buildDeviceWhere(plan, 3, false)

	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE battery_expiry_date < $1 OR pad_expiry_date < $1),
			COUNT(*) FILTER (WHERE
				(battery_expiry_date >= $1 AND battery_expiry_date <= $2)
				OR (pad_expiry_date >= $1 AND pad_expiry_date <= $2)),
			COUNT(*) FILTER (WHERE external_display = 'blocked')
		FROM aed_device %s`, where)

	fullArgs := append([]any{today, soonUntil}, args...)

	var s SummaryCounts
	err := r.db.QueryRow(ctx, query, fullArgs...).Scan(
		&s.Total, &s.Expired, &s.ExpiringSoon, &s.DisplayBlocked,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка подсчёта агрегатов: %w", err)
	}
	return &s, nil
}

// deviceScanner — общий интерфейс pgx.Row и pgx.Rows для сканирования.
type deviceScanner interface {
	Scan(dest ...any) error
}

// scanDevice сканирует одну строку aed_device в модель.
func scanDevice(row deviceScanner) (*model.AEDRecord, error) {
	rec := &model.AEDRecord{}
	err := row.Scan(
		&rec.ID, &rec.ManagementNumber, &rec.EquipmentSerial,
		&rec.Category1, &rec.Category2, &rec.Category3,
		&rec.RegionCode, &rec.CityCode, &rec.Address, &rec.DetailLocation, &rec.HealthCenterName,
		&rec.Status, &rec.ExternalDisplay, &rec.DisplayBlockReason,
		&rec.InstallDate, &rec.ReportDate, &rec.BatteryExpiryDate, &rec.PadExpiryDate,
		&rec.ReplacementDate, &rec.LastInspectionDate,
		&rec.ManagerName, &rec.ManagerPhone, &rec.Latitude, &rec.Longitude, &rec.Remarks,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// buildDeviceWhere строит WHERE-условие и аргументы плана запроса.
// startArg — номер первого $-параметра (для корректной нумерации).
// withCursor — включать ли keyset-якорь (страница — да, агрегаты — нет).
//
//nolint:cyclop // сложность обусловлена количеством фильтров
func buildDeviceWhere(plan DevicePlan, startArg int, withCursor bool) (whereClause string, args []any) {
	var conditions []string
	argNum := startArg

	addCondition := func(cond string, condArgs ...any) {
		conditions = append(conditions, cond)
		args = append(args, condArgs...)
		argNum += len(condArgs)
	}

	// Mode-специфичные условия — первыми: они задают вселенную строк.
	switch plan.Kind {
	case PlanJurisdiction:
		// Фаза 2 jurisdiction-резолва: запись хранит free-text имя
		// учреждения без FK — сравнение по нормализованным именам.
		addCondition(
			fmt.Sprintf(`regexp_replace(health_center_name, '\s', '', 'g') = ANY($%d)`, argNum),
			plan.AuthorityNames,
		)
	case PlanAssignment:
		addCondition(
			fmt.Sprintf(`EXISTS (
				SELECT 1 FROM inspection_assignment a
				WHERE a.equipment_serial = aed_device.equipment_serial
				  AND a.status = ANY($%d))`, argNum),
			plan.OpenStatuses,
		)
	case PlanAddress:
	}

	// Региональные условия: в jurisdiction-плане регион уже учтён
	// при резолве имён учреждений.
	if plan.Kind != PlanJurisdiction {
		if len(plan.Regions) > 0 {
			addCondition(fmt.Sprintf("region_code = ANY($%d)", argNum), plan.Regions)
		}
		if len(plan.Cities) > 0 {
			addCondition(fmt.Sprintf("city_code = ANY($%d)", argNum), plan.Cities)
		}
	}

	// Категории (exact match)
	for _, c := range []struct {
		column string
		value  *string
	}{
		{"category_1", plan.Category1},
		{"category_2", plan.Category2},
		{"category_3", plan.Category3},
	} {
		if c.value != nil && *c.value != "" {
			addCondition(fmt.Sprintf("%s = $%d", c.column, argNum), *c.value)
		}
	}

	// Операционные статусы
	if len(plan.Statuses) > 0 {
		addCondition(fmt.Sprintf("status = ANY($%d)", argNum), plan.Statuses)
	}

	// Границы дат (переведённые bucket-фильтры)
	for _, d := range []struct {
		column string
		bound  *filter.DateRange
	}{
		{"battery_expiry_date", plan.BatteryExpiry},
		{"pad_expiry_date", plan.PadExpiry},
		{"replacement_date", plan.Replacement},
		{"last_inspection_date", plan.LastInspection},
	} {
		if d.bound == nil {
			continue
		}
		if d.bound.Null {
			conditions = append(conditions, fmt.Sprintf("%s IS NULL", d.column))
			continue
		}
		if d.bound.From != nil {
			addCondition(fmt.Sprintf("%s >= $%d", d.column, argNum), *d.bound.From)
		}
		if d.bound.To != nil {
			addCondition(fmt.Sprintf("%s <= $%d", d.column, argNum), *d.bound.To)
		}
	}

	// Free-text поиск: case-insensitive OR по идентификаторам,
	// учреждению и адресу. Один аргумент на все четыре сравнения.
	if plan.Search != nil && *plan.Search != "" {
		addCondition(fmt.Sprintf(`(management_number ILIKE $%d
			OR equipment_serial ILIKE $%d
			OR health_center_name ILIKE $%d
			OR address ILIKE $%d)`, argNum, argNum, argNum, argNum),
			"%"+*plan.Search+"%",
		)
	}

	// Флаг внешней видимости
	if plan.ExternalDisplay != nil && *plan.ExternalDisplay != "" {
		addCondition(fmt.Sprintf("external_display = $%d", argNum), *plan.ExternalDisplay)
	}

	// Keyset-якорь пагинации
	if withCursor && plan.AfterID > 0 {
		addCondition(fmt.Sprintf("id > $%d", argNum), plan.AfterID)
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	return where, args
}
