// bucket.go — перевод именованных bucket-фильтров дат в конкретные границы.
// Опорный момент времени передаётся параметром (не берётся из wall-clock),
// границы выравниваются по полуночи сервисной таймзоны — перевод
// детерминирован и стабилен около границы суток.
package filter

import (
	"fmt"
	"time"
)

// Bucket — именованный диапазон дат.
type Bucket string

// Bucket-токены для дат истечения (батарея, электроды, замена).
const (
	// BucketExpired — срок уже прошёл
	BucketExpired Bucket = "expired"
	// BucketWithin7 — истекает в ближайшие 7 дней
	BucketWithin7 Bucket = "d7"
	// BucketWithin30 — истекает в ближайшие 30 дней
	BucketWithin30 Bucket = "d30"
	// BucketWithin90 — истекает в ближайшие 90 дней
	BucketWithin90 Bucket = "d90"
)

// Bucket-токены для даты последней проверки.
const (
	// BucketNever — проверка не проводилась (NULL)
	BucketNever Bucket = "none"
	// BucketWithin1M — проверено за последний месяц
	BucketWithin1M Bucket = "m1"
	// BucketWithin3M — проверено за последние 3 месяца
	BucketWithin3M Bucket = "m3"
	// BucketOver3M — последняя проверка старше 3 месяцев
	BucketOver3M Bucket = "over3m"
)

// DateRange — конкретные границы bucket.
// From/To — включительные границы (nil — граница не задана).
// Null=true означает предикат IS NULL (значение отсутствует).
type DateRange struct {
	From *time.Time
	To   *time.Time
	Null bool
}

// midnight усекает момент времени до полуночи в указанной таймзоне.
func midnight(now time.Time, loc *time.Location) time.Time {
	y, m, d := now.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// ExpiryBounds переводит bucket истечения в границы дат.
// now — опорный момент запроса, loc — сервисная таймзона.
func ExpiryBounds(b Bucket, now time.Time, loc *time.Location) (DateRange, error) {
	today := midnight(now, loc)

	switch b {
	case BucketExpired:
		yesterday := today.AddDate(0, 0, -1)
		return DateRange{To: &yesterday}, nil
	case BucketWithin7:
		to := today.AddDate(0, 0, 7)
		return DateRange{From: &today, To: &to}, nil
	case BucketWithin30:
		to := today.AddDate(0, 0, 30)
		return DateRange{From: &today, To: &to}, nil
	case BucketWithin90:
		to := today.AddDate(0, 0, 90)
		return DateRange{From: &today, To: &to}, nil
	default:
		return DateRange{}, fmt.Errorf("неизвестный bucket истечения: %q", b)
	}
}

// InspectionBounds переводит bucket последней проверки в границы дат.
func InspectionBounds(b Bucket, now time.Time, loc *time.Location) (DateRange, error) {
	today := midnight(now, loc)

	switch b {
	case BucketNever:
		return DateRange{Null: true}, nil
	case BucketWithin1M:
		from := today.AddDate(0, -1, 0)
		return DateRange{From: &from}, nil
	case BucketWithin3M:
		from := today.AddDate(0, -3, 0)
		return DateRange{From: &from}, nil
	case BucketOver3M:
		to := today.AddDate(0, -3, 0).AddDate(0, 0, -1)
		return DateRange{To: &to}, nil
	default:
		return DateRange{}, fmt.Errorf("неизвестный bucket проверки: %q", b)
	}
}

// IsExpiryBucket проверяет допустимость токена для полей истечения.
func IsExpiryBucket(b Bucket) bool {
	switch b {
	case BucketExpired, BucketWithin7, BucketWithin30, BucketWithin90:
		return true
	}
	return false
}

// IsInspectionBucket проверяет допустимость токена для даты проверки.
func IsInspectionBucket(b Bucket) bool {
	switch b {
	case BucketNever, BucketWithin1M, BucketWithin3M, BucketOver3M:
		return true
	}
	return false
}
