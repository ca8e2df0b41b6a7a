// Package store provides the Postgres-backed persistence layer for the
// automation subsystem.
package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"stillpoint/automation"
	"stillpoint/models"
)

// GormStore implements automation.Store on a GORM connection.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) GetSubscriber(ctx context.Context, id uint) (*models.Subscriber, error) {
	var subscriber models.Subscriber
	if err := s.db.WithContext(ctx).First(&subscriber, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &automation.NotFoundError{Resource: "subscriber", ID: id}
		}
		return nil, err
	}
	return &subscriber, nil
}

func (s *GormStore) ActiveSequenceByTrigger(ctx context.Context, triggerKey string) (*models.Sequence, error) {
	var sequence models.Sequence
	err := s.db.WithContext(ctx).
		Where("trigger_key = ? AND status = ?", triggerKey, models.SequenceActive).
		First(&sequence).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &automation.NotFoundError{Resource: "sequence for trigger " + triggerKey}
		}
		return nil, err
	}
	return &sequence, nil
}

func (s *GormStore) ActiveEnrollment(ctx context.Context, subscriberID, sequenceID uint) (*models.SequenceEnrollment, error) {
	var enrollment models.SequenceEnrollment
	err := s.db.WithContext(ctx).
		Where("subscriber_id = ? AND sequence_id = ? AND status = ?",
			subscriberID, sequenceID, models.EnrollmentActive).
		First(&enrollment).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &automation.NotFoundError{Resource: "enrollment"}
		}
		return nil, err
	}
	return &enrollment, nil
}

func (s *GormStore) Step(ctx context.Context, sequenceID uint, position int) (*models.SequenceStep, error) {
	var step models.SequenceStep
	err := s.db.WithContext(ctx).
		Where("sequence_id = ? AND position = ?", sequenceID, position).
		First(&step).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &automation.NotFoundError{Resource: "sequence step"}
		}
		return nil, err
	}
	return &step, nil
}

func (s *GormStore) CreateEnrollment(ctx context.Context, e *models.SequenceEnrollment) error {
	if err := s.db.WithContext(ctx).Create(e).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return automation.ErrDuplicateEnrollment
		}
		return err
	}
	return nil
}

func (s *GormStore) DueEnrollments(ctx context.Context, now time.Time, limit int) ([]models.SequenceEnrollment, error) {
	var enrollments []models.SequenceEnrollment
	err := s.db.WithContext(ctx).
		Joins("JOIN subscribers ON subscribers.id = sequence_enrollments.subscriber_id AND subscribers.deleted_at IS NULL").
		Joins("JOIN sequences ON sequences.id = sequence_enrollments.sequence_id AND sequences.deleted_at IS NULL").
		Where("sequence_enrollments.status = ?", models.EnrollmentActive).
		Where("sequence_enrollments.next_send_at IS NOT NULL AND sequence_enrollments.next_send_at <= ?", now).
		Where("subscribers.status = ?", models.SubscriberActive).
		Where("sequences.status = ?", models.SequenceActive).
		Order("sequence_enrollments.next_send_at ASC").
		Limit(limit).
		Preload("Subscriber").
		Preload("Sequence").
		Find(&enrollments).Error
	if err != nil {
		return nil, err
	}
	return enrollments, nil
}

func (s *GormStore) ClaimStep(ctx context.Context, enrollmentID uint, fromPosition int, dueBy, inFlightUntil time.Time) (bool, error) {
	// Conditional update instead of read-then-write: only the invocation
	// whose predicate still matches gets the row.
	res := s.db.WithContext(ctx).
		Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ? AND current_position = ? AND next_send_at IS NOT NULL AND next_send_at <= ?",
			enrollmentID, models.EnrollmentActive, fromPosition, dueBy).
		Update("next_send_at", inFlightUntil)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *GormStore) AdvanceEnrollment(ctx context.Context, enrollmentID uint, newPosition int, nextSendAt time.Time) error {
	return s.db.WithContext(ctx).
		Model(&models.SequenceEnrollment{}).
		Where("id = ?", enrollmentID).
		Updates(map[string]interface{}{
			"current_position": newPosition,
			"next_send_at":     nextSendAt,
			"retry_count":      0,
		}).Error
}

func (s *GormStore) CompleteEnrollment(ctx context.Context, enrollmentID uint, finalPosition int) error {
	return s.db.WithContext(ctx).
		Model(&models.SequenceEnrollment{}).
		Where("id = ?", enrollmentID).
		Updates(map[string]interface{}{
			"status":           models.EnrollmentCompleted,
			"current_position": finalPosition,
			"next_send_at":     nil,
			"completed_at":     time.Now(),
		}).Error
}

func (s *GormStore) FailEnrollment(ctx context.Context, enrollmentID uint, reason string) error {
	return s.db.WithContext(ctx).
		Model(&models.SequenceEnrollment{}).
		Where("id = ?", enrollmentID).
		Updates(map[string]interface{}{
			"status":       models.EnrollmentFailed,
			"next_send_at": nil,
			"failed_at":    time.Now(),
			"last_error":   reason,
		}).Error
}

func (s *GormStore) RescheduleRetry(ctx context.Context, enrollmentID uint, position int, retryAt time.Time, retryCount int) error {
	return s.db.WithContext(ctx).
		Model(&models.SequenceEnrollment{}).
		Where("id = ? AND status = ? AND current_position = ?",
			enrollmentID, models.EnrollmentActive, position).
		Updates(map[string]interface{}{
			"next_send_at": retryAt,
			"retry_count":  retryCount,
		}).Error
}

func (s *GormStore) RecordSend(ctx context.Context, rec *models.SendRecord) error {
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			// A sent record for this (enrollment, step) already exists; the
			// partial unique index rejected a duplicate, which is exactly
			// the harmless outcome we want under a lost race.
			return nil
		}
		return err
	}
	if rec.Status == models.SendSent {
		return s.db.WithContext(ctx).
			Model(&models.SequenceStep{}).
			Where("id = ?", rec.StepID).
			Update("sent_count", gorm.Expr("sent_count + ?", 1)).Error
	}
	return nil
}
