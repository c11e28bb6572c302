package domain

import "time"

// UploadTarget is a saved remote datasheet. The API token lives in the
// SecretStore under "target:<id>".
type UploadTarget struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	BaseURL      string    `json:"baseUrl"`
	DatasheetID  string    `json:"datasheetId"`
	FieldMapJSON string    `json:"fieldMapJson"` // column → field id
	BatchSize    int       `json:"batchSize"`    // 0 = default
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// UploadTargetStore manages CRUD operations for saved targets.
type UploadTargetStore interface {
	CreateTarget(t *UploadTarget) error
	GetTarget(id string) (*UploadTarget, error)
	ListTargets() ([]UploadTarget, error)
	UpdateTarget(t *UploadTarget) error
	DeleteTarget(id string) error
}
