// Пакет cursor — кодек opaque-токена пагинации.
// Чистая граница сериализации: без доступа к хранилищу.
// Токен = base64url небольшого JSON {id, updated_at?}.
// Некорректный токен декодируется в nil (перезапуск с первой страницы),
// никогда не в ошибку.
package cursor

import (
	"encoding/base64"
	"encoding/json"
	"time"
)

// Cursor — якорь пагинации: идентичность последней отданной строки.
// Ordering и keyset-предикат используют только ID — конкурентные
// правки остальных полей не ломают пагинацию.
type Cursor struct {
	// ID — id последней строки страницы
	ID int64 `json:"id"`
	// UpdatedAt — updated_at последней строки (только для наблюдаемости)
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Encode сериализует курсор в opaque-токен.
func Encode(id int64, updatedAt *time.Time) string {
	payload, err := json.Marshal(Cursor{ID: id, UpdatedAt: updatedAt})
	if err != nil {
		// Структура из двух сериализуемых полей — marshal не падает.
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(payload)
}

// Decode разбирает opaque-токен.
// Любой некорректный вход (мусор, не-JSON, неположительный id) даёт nil:
// вызывающий трактует nil как "начать с первой страницы".
func Decode(token string) *Cursor {
	if token == "" {
		return nil
	}

	payload, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil
	}

	var c Cursor
	if err := json.Unmarshal(payload, &c); err != nil {
		return nil
	}
	if c.ID <= 0 {
		return nil
	}
	return &c
}
