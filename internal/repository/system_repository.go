package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"marketplace-finance-service/internal/models"
)

// SystemRepository handles the singleton system state row
type SystemRepository struct {
	db *gorm.DB
}

func (r *SystemRepository) ensure(ctx context.Context) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "id"}}, DoNothing: true}).
		Create(&models.SystemState{ID: models.SystemStateID, LastMismatchAmount: decimal.Zero}).Error
}

// Get reads the system state; readers tolerate slightly stale values
func (r *SystemRepository) Get(ctx context.Context) (*models.SystemState, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	var state models.SystemState
	if err := r.db.WithContext(ctx).First(&state, "id = ?", models.SystemStateID).Error; err != nil {
		return nil, translate(err)
	}
	return &state, nil
}

// Lock selects the system state FOR UPDATE
func (r *SystemRepository) Lock(ctx context.Context) (*models.SystemState, error) {
	if err := r.ensure(ctx); err != nil {
		return nil, err
	}
	var state models.SystemState
	if err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&state, "id = ?", models.SystemStateID).Error; err != nil {
		return nil, translate(err)
	}
	return &state, nil
}

// Save persists system state changes
func (r *SystemRepository) Save(ctx context.Context, state *models.SystemState) error {
	return r.db.WithContext(ctx).Save(state).Error
}

// AlertRepository handles finance alerts
type AlertRepository struct {
	db *gorm.DB
}

// Create stores an alert
func (r *AlertRepository) Create(ctx context.Context, alert *models.FinanceAlert) error {
	return r.db.WithContext(ctx).Create(alert).Error
}

// Get retrieves an alert
func (r *AlertRepository) Get(ctx context.Context, id uuid.UUID) (*models.FinanceAlert, error) {
	var alert models.FinanceAlert
	if err := r.db.WithContext(ctx).First(&alert, "id = ?", id).Error; err != nil {
		return nil, translate(err)
	}
	return &alert, nil
}

// List returns alerts newest first
func (r *AlertRepository) List(ctx context.Context, unresolvedOnly bool, limit int) ([]models.FinanceAlert, error) {
	var alerts []models.FinanceAlert
	query := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit)
	if unresolvedOnly {
		query = query.Where("resolved = ?", false)
	}
	err := query.Find(&alerts).Error
	return alerts, err
}

// CountByType counts alerts of a type, optionally for one order
func (r *AlertRepository) CountByType(ctx context.Context, alertType string, orderID *uuid.UUID) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.FinanceAlert{}).Where("type = ?", alertType)
	if orderID != nil {
		query = query.Where("order_id = ?", *orderID)
	}
	err := query.Count(&count).Error
	return count, err
}

// CountUnresolvedCritical counts open critical alerts, ignoring the given types
func (r *AlertRepository) CountUnresolvedCritical(ctx context.Context, excludeTypes ...string) (int64, error) {
	var count int64
	query := r.db.WithContext(ctx).Model(&models.FinanceAlert{}).
		Where("severity = ? AND resolved = ?", models.AlertSeverityCritical, false)
	if len(excludeTypes) > 0 {
		query = query.Where("type NOT IN ?", excludeTypes)
	}
	err := query.Count(&count).Error
	return count, err
}

// CountUnresolvedForSeller counts open alerts of any severity referencing a seller
func (r *AlertRepository) CountUnresolvedForSeller(ctx context.Context, sellerID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.FinanceAlert{}).
		Where("seller_id = ? AND resolved = ?", sellerID, false).
		Count(&count).Error
	return count, err
}

// ResolveCritical closes every open critical alert
func (r *AlertRepository) ResolveCritical(ctx context.Context, resolvedBy string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.FinanceAlert{}).
		Where("severity = ? AND resolved = ?", models.AlertSeverityCritical, false).
		Updates(map[string]interface{}{"resolved": true, "resolved_by": resolvedBy, "resolved_at": at})
	return result.RowsAffected, result.Error
}

// Resolve closes one alert
func (r *AlertRepository) Resolve(ctx context.Context, id uuid.UUID, resolvedBy string, at time.Time) (int64, error) {
	result := r.db.WithContext(ctx).Model(&models.FinanceAlert{}).
		Where("id = ? AND resolved = ?", id, false).
		Updates(map[string]interface{}{"resolved": true, "resolved_by": resolvedBy, "resolved_at": at})
	return result.RowsAffected, result.Error
}

// AuditRepository handles the finance audit trail
type AuditRepository struct {
	db *gorm.DB
}

// Create appends an audit log
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	return r.db.WithContext(ctx).Create(log).Error
}

// ListByAction lists audit logs of one action, newest first
func (r *AuditRepository) ListByAction(ctx context.Context, action models.AuditAction, limit int) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := r.db.WithContext(ctx).Where("action = ?", action).
		Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// ListByResource lists audit logs for one resource, newest first
func (r *AuditRepository) ListByResource(ctx context.Context, resourceType models.ResourceType, resourceID string, limit int) ([]models.AuditLog, error) {
	var logs []models.AuditLog
	err := r.db.WithContext(ctx).
		Where("resource_type = ? AND resource_id = ?", resourceType, resourceID).
		Order("created_at DESC").Limit(limit).Find(&logs).Error
	return logs, err
}

// JobFailureRepository handles the dead-letter log
type JobFailureRepository struct {
	db *gorm.DB
}

// Create stores a failed job record
func (r *JobFailureRepository) Create(ctx context.Context, failure *models.JobFailure) error {
	return r.db.WithContext(ctx).Create(failure).Error
}

// List returns recent failures
func (r *JobFailureRepository) List(ctx context.Context, limit int) ([]models.JobFailure, error) {
	var failures []models.JobFailure
	err := r.db.WithContext(ctx).Order("failed_at DESC").Limit(limit).Find(&failures).Error
	return failures, err
}
