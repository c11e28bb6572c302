package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"extractor/internal/domain"
)

// TargetStore manages saved upload targets in SQLite.
type TargetStore struct {
	db *DB
}

// NewTargetStore creates a new TargetStore.
func NewTargetStore(db *DB) *TargetStore {
	return &TargetStore{db: db}
}

var _ domain.UploadTargetStore = (*TargetStore)(nil)

const targetColumns = `id, name, base_url, datasheet_id, field_map_json, batch_size, created_at, updated_at`

func scanTarget(sc interface{ Scan(...any) error }, t *domain.UploadTarget) error {
	return sc.Scan(&t.ID, &t.Name, &t.BaseURL, &t.DatasheetID, &t.FieldMapJSON, &t.BatchSize, &t.CreatedAt, &t.UpdatedAt)
}

func (s *TargetStore) CreateTarget(t *domain.UploadTarget) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.FieldMapJSON == "" {
		t.FieldMapJSON = "{}"
	}
	_, err := s.db.Conn().Exec(
		`INSERT INTO upload_targets (`+targetColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.BaseURL, t.DatasheetID, t.FieldMapJSON, t.BatchSize, t.CreatedAt, t.UpdatedAt,
	)
	return err
}

func (s *TargetStore) GetTarget(id string) (*domain.UploadTarget, error) {
	t := &domain.UploadTarget{}
	err := scanTarget(s.db.Conn().QueryRow(`SELECT `+targetColumns+` FROM upload_targets WHERE id = ?`, id), t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("upload target %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (s *TargetStore) ListTargets() ([]domain.UploadTarget, error) {
	rows, err := s.db.Conn().Query(`SELECT ` + targetColumns + ` FROM upload_targets ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []domain.UploadTarget
	for rows.Next() {
		var t domain.UploadTarget
		if err := scanTarget(rows, &t); err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, rows.Err()
}

func (s *TargetStore) UpdateTarget(t *domain.UploadTarget) error {
	t.UpdatedAt = time.Now()
	res, err := s.db.Conn().Exec(
		`UPDATE upload_targets SET name=?, base_url=?, datasheet_id=?, field_map_json=?, batch_size=?, updated_at=?
		 WHERE id=?`,
		t.Name, t.BaseURL, t.DatasheetID, t.FieldMapJSON, t.BatchSize, t.UpdatedAt, t.ID,
	)
	return affected(res, err, "upload target", t.ID)
}

func (s *TargetStore) DeleteTarget(id string) error {
	_, err := s.db.Conn().Exec(`DELETE FROM upload_targets WHERE id = ?`, id)
	return err
}
