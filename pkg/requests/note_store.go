package requests

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
)

// NoteStore is the append-only audit note store.
type NoteStore struct {
	db  *gorm.DB
	now func() time.Time
}

// NewNoteStore creates a new NoteStore.
func NewNoteStore(db *gorm.DB) *NoteStore {
	return &NoteStore{db: db, now: time.Now}
}

// Append stores a note for requestID.
func (s *NoteStore) Append(ctx context.Context, requestID int64, title, text string, author Person, tag *Status) (*Note, error) {
	rec := &NoteRecord{
		RequestID:   requestID,
		Title:       title,
		Text:        text,
		AuthorID:    author.ID,
		AuthorName:  author.Name,
		AuthorEmail: author.Email,
		Modified:    s.now().UTC(),
	}
	if tag != nil {
		t := string(*tag)
		rec.Tag = &t
	}
	if err := s.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, fmt.Errorf("append note: %w", err)
	}
	return rec.toNote(), nil
}

// ListFor returns the notes of requestID in insertion order.
func (s *NoteStore) ListFor(ctx context.Context, requestID int64) ([]Note, error) {
	var records []NoteRecord
	if err := s.db.WithContext(ctx).Where("request_id = ?", requestID).Order("id ASC").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	notes := make([]Note, 0, len(records))
	for i := range records {
		notes = append(notes, *records[i].toNote())
	}
	return notes, nil
}

// DeleteFor removes every note of requestID.
func (s *NoteStore) DeleteFor(ctx context.Context, requestID int64) error {
	if err := s.db.WithContext(ctx).Where("request_id = ?", requestID).Delete(&NoteRecord{}).Error; err != nil {
		return fmt.Errorf("delete notes: %w", err)
	}
	return nil
}
