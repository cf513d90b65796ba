package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/truth0530/AEDpics-sub004/internal/domain/model"
)

// OrganizationRepository — справочник организаций пользователей.
// Координаты организации нужны для расчёта дистанции до устройств.
type OrganizationRepository interface {
	// GetByCode возвращает организацию по коду или ErrNotFound.
	GetByCode(ctx context.Context, code string) (*model.Organization, error)
}

// organizationRepo — реализация OrganizationRepository через pgx.
type organizationRepo struct {
	db DBTX
}

// NewOrganizationRepository создаёт репозиторий организаций.
func NewOrganizationRepository(db DBTX) OrganizationRepository {
	return &organizationRepo{db: db}
}

// GetByCode возвращает организацию по коду.
func (r *organizationRepo) GetByCode(ctx context.Context, code string) (*model.Organization, error) {
	org := &model.Organization{}
	err := r.db.QueryRow(ctx,
		`SELECT code, name, latitude, longitude FROM organization WHERE code = $1`,
		code,
	).Scan(&org.Code, &org.Name, &org.Latitude, &org.Longitude)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения организации: %w", err)
	}
	return org, nil
}
