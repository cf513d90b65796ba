package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// OpenAssignmentStatuses — фиксированный набор открытых статусов
// назначений: определяет вселенную строк assignment-режима.
var OpenAssignmentStatuses = []string{"assigned", "accepted", "in_progress"}

// AssignmentRepository — read-only доступ к назначениям проверок
// (inspection_assignment, owned by модулем планирования).
type AssignmentRepository interface {
	// OpenSerialsByAssignee возвращает серийники устройств с открытыми
	// назначениями указанного исполнителя (для includeSchedule).
	OpenSerialsByAssignee(ctx context.Context, assigneeID string) ([]string, error)
}

// assignmentRepo — реализация AssignmentRepository через pgx.
type assignmentRepo struct {
	db DBTX
}

// NewAssignmentRepository создаёт репозиторий назначений.
func NewAssignmentRepository(db DBTX) AssignmentRepository {
	return &assignmentRepo{db: db}
}

// OpenSerialsByAssignee возвращает серийники открытых назначений исполнителя.
func (r *assignmentRepo) OpenSerialsByAssignee(ctx context.Context, assigneeID string) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT equipment_serial
		FROM inspection_assignment
		WHERE assignee_id = $1 AND status = ANY($2)
		ORDER BY equipment_serial`,
		assigneeID, OpenAssignmentStatuses,
	)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки назначений: %w", err)
	}
	defer rows.Close()

	return scanStrings(rows)
}

// scanStrings сканирует одностолбцовый результат в срез строк.
func scanStrings(rows pgx.Rows) ([]string, error) {
	var result []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, fmt.Errorf("ошибка сканирования строки: %w", err)
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка итерации результатов: %w", err)
	}
	return result, nil
}
