// Пакет mask — редактирование чувствительных полей исходящей копии записи
// и расчёт дистанции до организации вызывающего.
// Хранимые данные никогда не мутируются — маскируется копия.
package mask

import (
	"math"

	"github.com/truth0530/AEDpics-sub004/internal/domain/model"
)

// Device возвращает исходящую копию записи.
// При viewSensitive=false контактные поля ответственного лица удаляются.
func Device(rec *model.AEDRecord, viewSensitive bool) *model.AEDRecord {
	out := *rec
	if !viewSensitive {
		out.ManagerName = nil
		out.ManagerPhone = nil
	}
	return &out
}

// earthRadiusKm — средний радиус Земли.
const earthRadiusKm = 6371.0

// Distance вычисляет дистанцию (км) между организацией и устройством
// по формуле гаверсинусов. Нулевые или отсутствующие координаты любой
// из сторон означают "нет локации" (возвращается nil), а не точку (0,0).
func Distance(orgLat, orgLng, devLat, devLng *float64) *float64 {
	if !hasLocation(orgLat, orgLng) || !hasLocation(devLat, devLng) {
		return nil
	}

	lat1 := *orgLat * math.Pi / 180
	lat2 := *devLat * math.Pi / 180
	dLat := (*devLat - *orgLat) * math.Pi / 180
	dLng := (*devLng - *orgLng) * math.Pi / 180

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))

	d := earthRadiusKm * c
	return &d
}

// hasLocation — обе координаты заданы и не нулевые.
func hasLocation(lat, lng *float64) bool {
	return lat != nil && lng != nil && *lat != 0 && *lng != 0
}
