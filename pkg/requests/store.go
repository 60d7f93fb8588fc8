package requests

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const (
	defaultPageSize = 100
	maxPageSize     = 1000
)

// RequestStore persists requests with gorm.
type RequestStore struct {
	db *gorm.DB
}

// NewRequestStore creates a new RequestStore.
func NewRequestStore(db *gorm.DB) *RequestStore {
	return &RequestStore{db: db}
}

// AutoMigrate creates or updates the request, note and role tables.
func (s *RequestStore) AutoMigrate() error {
	if err := s.db.AutoMigrate(&RequestRecord{}); err != nil {
		return fmt.Errorf("auto-migrate requirement_requests: %w", err)
	}
	if err := s.db.AutoMigrate(&NoteRecord{}); err != nil {
		return fmt.Errorf("auto-migrate request_notes: %w", err)
	}
	if err := s.db.AutoMigrate(&RoleAssignmentRecord{}); err != nil {
		return fmt.Errorf("auto-migrate role_assignments: %w", err)
	}
	return nil
}

// Get returns the request with id, or ErrNotFound.
func (s *RequestStore) Get(ctx context.Context, id int64) (*Request, error) {
	var rec RequestRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get request: %w", err)
	}
	return rec.toRequest(), nil
}

// Create inserts r and returns the stored copy with its id and token.
func (s *RequestStore) Create(ctx context.Context, r *Request) (*Request, error) {
	rec := recordFromRequest(r)
	rec.ID = 0
	rec.ConcurrencyToken = uuid.New().String()
	if rec.Status == "" {
		rec.Status = string(StatusSaved)
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return rec.toRequest(), nil
}

// Update writes r if the stored token still equals token, rotating the
// token. A mismatch yields ErrConcurrencyConflict; a missing row ErrNotFound.
func (s *RequestStore) Update(ctx context.Context, r *Request, token string) (*Request, error) {
	if token == "" {
		return nil, ErrMissingToken
	}
	rec := recordFromRequest(r)
	cols := rec.updateColumns()
	next := uuid.New().String()
	cols["concurrency_token"] = next

	res := s.db.WithContext(ctx).Model(&RequestRecord{}).
		Where("id = ? AND concurrency_token = ?", r.ID, token).
		Updates(cols)
	if res.Error != nil {
		return nil, fmt.Errorf("update request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&RequestRecord{}).Where("id = ?", r.ID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("update request: %w", err)
		}
		if count == 0 {
			return nil, ErrNotFound
		}
		return nil, ErrConcurrencyConflict
	}
	return s.Get(ctx, r.ID)
}

// Delete removes the request with id.
func (s *RequestStore) Delete(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&RequestRecord{})
	if res.Error != nil {
		return fmt.Errorf("delete request: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// List returns requests matching filter, newest first.
func (s *RequestStore) List(ctx context.Context, filter Filter) ([]Request, error) {
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	query := s.db.WithContext(ctx).Model(&RequestRecord{})
	if filter.Status != "" {
		query = query.Where("status = ?", string(filter.Status))
	}
	if filter.Requester != "" {
		query = query.Where("LOWER(requester_email) = ?", strings.ToLower(strings.TrimSpace(filter.Requester)))
	}
	if filter.Approver != "" {
		query = query.Where("LOWER(approver_email) = ?", strings.ToLower(strings.TrimSpace(filter.Approver)))
	}
	if filter.FilterQuery != "" {
		fq, err := ParseFilterQuery(filter.FilterQuery)
		if err != nil {
			return nil, err
		}
		sql, args := fq.Where()
		query = query.Where(sql, args...)
	}

	var records []RequestRecord
	if err := query.Order("id DESC").Limit(pageSize).Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	out := make([]Request, 0, len(records))
	for i := range records {
		out = append(out, *records[i].toRequest())
	}
	return out, nil
}
