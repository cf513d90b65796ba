// devices.go — обработчики GET /api/v1/devices и /api/v1/devices/{managementNumber}.
// Разбор query-параметров, вызов сервиса запросов, маппинг ошибок
// в коды API. Политика доступа целиком в сервисном слое.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"

	apierrors "github.com/truth0530/AEDpics-sub004/internal/api/errors"
	"github.com/truth0530/AEDpics-sub004/internal/api/middleware"
	"github.com/truth0530/AEDpics-sub004/internal/domain/filter"
	"github.com/truth0530/AEDpics-sub004/internal/domain/scope"
	"github.com/truth0530/AEDpics-sub004/internal/service"
)

// ListDevices — реализация GET /api/v1/devices.
func (h *APIHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	if caller == nil {
		apierrors.Unauthorized(w, "Отсутствует идентичность вызывающего")
		return
	}

	req, err := bindDeviceQuery(r.URL.Query())
	if err != nil {
		apierrors.ValidationError(w, err.Error())
		return
	}

	result, err := h.querier.Query(r.Context(), *caller, *req)
	if err != nil {
		h.writeQueryError(w, caller, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GetDevice — реализация GET /api/v1/devices/{managementNumber}.
func (h *APIHandler) GetDevice(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromContext(r.Context())
	if caller == nil {
		apierrors.Unauthorized(w, "Отсутствует идентичность вызывающего")
		return
	}

	managementNumber := chi.URLParam(r, "managementNumber")
	if managementNumber == "" {
		apierrors.ValidationError(w, "Пустой управленческий номер")
		return
	}

	view, err := h.querier.GetByIdentity(r.Context(), *caller, managementNumber)
	if err != nil {
		if errors.Is(err, service.ErrDeviceNotFound) {
			apierrors.NotFound(w, "Устройство не найдено")
			return
		}
		h.writeQueryError(w, caller, err)
		return
	}

	writeJSON(w, http.StatusOK, view)
}

// bindDeviceQuery разбирает query-параметры листинга в набор фильтров.
func bindDeviceQuery(q url.Values) (*filter.FilterSet, error) {
	req := &filter.FilterSet{
		Regions:          q["region"],
		Cities:           q["city"],
		Category1:        q.Get("category_1"),
		Category2:        q.Get("category_2"),
		Category3:        q.Get("category_3"),
		Statuses:         q["status"],
		BatteryExpiry:    filter.Bucket(q.Get("battery_expiry_date")),
		PadExpiry:        filter.Bucket(q.Get("patch_expiry_date")),
		Replacement:      filter.Bucket(q.Get("replacement_date")),
		LastInspection:   filter.Bucket(q.Get("last_inspection_date")),
		Search:           q.Get("search"),
		ExternalDisplay:  q.Get("external_display"),
		ManagementNumber: q.Get("management_number"),
		EquipmentSerial:  q.Get("equipment_serial"),
		Cursor:           q.Get("cursor"),
	}

	if q.Has("limit") {
		if err := runtime.BindQueryParameter("form", true, false, "limit", q, &req.Limit); err != nil {
			return nil, errors.New("некорректный параметр limit")
		}
	}
	if q.Has("page") {
		if err := runtime.BindQueryParameter("form", true, false, "page", q, &req.Page); err != nil {
			return nil, errors.New("некорректный параметр page")
		}
	}
	if q.Has("includeSchedule") {
		if err := runtime.BindQueryParameter("form", true, false, "includeSchedule", q, &req.IncludeSchedule); err != nil {
			return nil, errors.New("некорректный параметр includeSchedule")
		}
	}

	// Режим запроса: queryCriteria задаёт стратегию,
	// viewMode=inspection включает assignment-режим поверх.
	req.Mode = filter.Mode(q.Get("queryCriteria"))
	if q.Get("viewMode") == "inspection" {
		req.Mode = filter.ModeAssignment
	}

	return req, nil
}

// writeQueryError маппит ошибки сервисного слоя в коды API.
func (h *APIHandler) writeQueryError(w http.ResponseWriter, caller *scope.Caller, err error) {
	// Отказ политики фильтров: 403 для запроса вне юрисдикции,
	// 400 для ошибки валидации. Detail — структурированный Rejection.
	var rejErr *service.RejectionError
	if errors.As(err, &rejErr) {
		rej := rejErr.Rejection
		if rej.IsAuthorizationFailure() {
			apierrors.WriteErrorDetail(w, http.StatusForbidden, apierrors.CodeFilterRejected,
				"Запрошенные фильтры вне зоны доступа", rej)
			return
		}
		apierrors.WriteErrorDetail(w, http.StatusBadRequest, apierrors.CodeValidationError,
			rej.Reason, rej)
		return
	}

	if errors.Is(err, scope.ErrUnknownRole) {
		apierrors.Forbidden(w, "Роль не имеет доступа к реестру устройств")
		return
	}
	if errors.Is(err, scope.ErrScopeConfig) {
		// Повреждённая учётная запись: детали только в логи.
		h.logger.Error("противоречивая конфигурация зоны доступа",
			slog.String("subject", caller.Subject),
			slog.String("role", caller.Role),
			slog.String("error", err.Error()),
		)
		apierrors.ScopeConfigError(w, "Учётная запись настроена некорректно")
		return
	}

	// Прочие ошибки: единообразный 500, полные детали в логи.
	h.logger.Error("ошибка выполнения запроса",
		slog.String("subject", caller.Subject),
		slog.String("error", err.Error()),
	)
	apierrors.InternalError(w, "Внутренняя ошибка при выполнении запроса")
}
