// Пакет model — доменные модели сервиса запросов реестра AED.
// AEDRecord — маппинг таблицы aed_device (owned by модулем регистрации).
// Сервис запросов использует модели только для чтения.
package model

import "time"

// AEDRecord — запись устройства в реестре aed_device.
// ID — единственное неизменяемое поле, пригодное как якорь пагинации:
// все остальные поля могут редактироваться конкурентно.
type AEDRecord struct {
	// ID — числовой идентификатор строки (монотонно возрастающий)
	ID int64
	// ManagementNumber — управленческий номер устройства (редактируемый)
	ManagementNumber string
	// EquipmentSerial — серийный номер оборудования
	EquipmentSerial string
	// Category1, Category2, Category3 — трёхуровневая категория места установки
	Category1 string
	Category2 string
	Category3 string
	// RegionCode — код региона (시도)
	RegionCode string
	// CityCode — код города/района (시군구)
	CityCode string
	// Address — адрес установки
	Address string
	// DetailLocation — уточнение места установки (этаж, помещение)
	DetailLocation *string
	// HealthCenterName — название курирующего учреждения (free-text, без FK)
	HealthCenterName string
	// Status — операционный статус (active, suspended, removed)
	Status string
	// ExternalDisplay — флаг внешней видимости (Y, N, blocked)
	ExternalDisplay string
	// DisplayBlockReason — причина блокировки отображения (опционально)
	DisplayBlockReason *string
	// InstallDate — дата установки
	InstallDate *time.Time
	// ReportDate — дата постановки на учёт
	ReportDate *time.Time
	// BatteryExpiryDate — срок годности батареи
	BatteryExpiryDate *time.Time
	// PadExpiryDate — срок годности электродов (패드)
	PadExpiryDate *time.Time
	// ReplacementDate — плановая дата замены устройства
	ReplacementDate *time.Time
	// LastInspectionDate — дата последней проверки (NULL — не проверялось)
	LastInspectionDate *time.Time
	// ManagerName — имя ответственного лица (чувствительное поле)
	ManagerName *string
	// ManagerPhone — телефон ответственного лица (чувствительное поле)
	ManagerPhone *string
	// Latitude, Longitude — координаты установки (0 или NULL — нет координат)
	Latitude  *float64
	Longitude *float64
	// Remarks — свободные примечания
	Remarks *string
	// CreatedAt — время создания записи
	CreatedAt time.Time
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// Assignment — назначение проверки устройства (owned by модулем планирования).
// Сервис запросов читает её только для assignment-режима.
type Assignment struct {
	// ID — идентификатор назначения
	ID int64
	// EquipmentSerial — серийный номер устройства (ключ связи)
	EquipmentSerial string
	// AssigneeID — идентификатор исполнителя (sub из JWT)
	AssigneeID string
	// Status — статус назначения (assigned, accepted, in_progress, done, canceled)
	Status string
	// VisitDate — плановая дата визита
	VisitDate *time.Time
}

// HealthCenter — административное учреждение (관할보건소).
// Используется jurisdiction-режимом для резолва имён по региону.
type HealthCenter struct {
	// ID — идентификатор учреждения
	ID int64
	// Name — официальное название (сравнивается с AEDRecord.HealthCenterName
	// с нормализацией пробелов)
	Name string
	// RegionCode — код региона учреждения
	RegionCode string
	// CityCode — код города/района учреждения
	CityCode string
}

// Organization — организация пользователя (для расчёта дистанции до устройств).
type Organization struct {
	// Code — код организации (organization_code из JWT)
	Code string
	// Name — название организации
	Name string
	// Latitude, Longitude — координаты организации (0 или NULL — нет координат)
	Latitude  *float64
	Longitude *float64
}
