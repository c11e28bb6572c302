package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"extractor/internal/domain"
	"extractor/internal/etl"
	"extractor/internal/secret"
	"extractor/internal/storage"
	"extractor/internal/upload"

	"github.com/google/uuid"
)

// ─────────────────────────────────────────────────────────────
// Target Service: saved remote datasheets
// ─────────────────────────────────────────────────────────────

// CreateTargetInput is the service-layer DTO for creating/updating targets.
type CreateTargetInput struct {
	Name        string            `json:"name"`
	BaseURL     string            `json:"baseUrl"`
	DatasheetID string            `json:"datasheetId"`
	Token       string            `json:"token"` // empty on update keeps the stored token
	FieldMap    map[string]string `json:"fieldMap"`
	BatchSize   int               `json:"batchSize"`
}

// TargetService manages saved upload targets. API tokens are kept in the
// SecretStore, never in SQLite.
type TargetService struct {
	store   *storage.TargetStore
	secrets secret.SecretStore

	// Defaults supplies pacing, timeout and retry settings for every target.
	Defaults upload.Config
}

// NewTargetService creates a TargetService.
func NewTargetService(store *storage.TargetStore, secrets secret.SecretStore, defaults upload.Config) *TargetService {
	return &TargetService{store: store, secrets: secrets, Defaults: defaults}
}

var _ etl.TargetResolver = (*TargetService)(nil)

func secretKeyTarget(id string) string { return "target:" + id }

func (s *TargetService) ListTargets() ([]domain.UploadTarget, error) {
	return s.store.ListTargets()
}

func (s *TargetService) GetTarget(id string) (*domain.UploadTarget, error) {
	return s.store.GetTarget(id)
}

func (s *TargetService) CreateTarget(input CreateTargetInput) (*domain.UploadTarget, error) {
	if input.Name == "" {
		return nil, fmt.Errorf("target name is required")
	}
	fm, err := json.Marshal(input.FieldMap)
	if err != nil {
		return nil, fmt.Errorf("field map: %w", err)
	}
	t := &domain.UploadTarget{
		ID:           uuid.New().String(),
		Name:         input.Name,
		BaseURL:      input.BaseURL,
		DatasheetID:  input.DatasheetID,
		FieldMapJSON: string(fm),
		BatchSize:    input.BatchSize,
	}
	if err := s.config(t, input.Token).Validate(); err != nil {
		return nil, err
	}

	if err := s.store.CreateTarget(t); err != nil {
		return nil, fmt.Errorf("create target: %w", err)
	}
	if err := s.secrets.Set(secretKeyTarget(t.ID), []byte(input.Token)); err != nil {
		return t, fmt.Errorf("store token: %w", err)
	}
	return t, nil
}

func (s *TargetService) UpdateTarget(id string, input CreateTargetInput) error {
	t, err := s.store.GetTarget(id)
	if err != nil {
		return err
	}
	fm, err := json.Marshal(input.FieldMap)
	if err != nil {
		return fmt.Errorf("field map: %w", err)
	}
	t.Name = input.Name
	t.BaseURL = input.BaseURL
	t.DatasheetID = input.DatasheetID
	t.FieldMapJSON = string(fm)
	t.BatchSize = input.BatchSize

	token := input.Token
	if token == "" {
		if token, err = s.token(id); err != nil {
			return err
		}
	}
	if err := s.config(t, token).Validate(); err != nil {
		return err
	}
	if err := s.store.UpdateTarget(t); err != nil {
		return err
	}
	if input.Token != "" {
		if err := s.secrets.Set(secretKeyTarget(id), []byte(input.Token)); err != nil {
			return fmt.Errorf("store token: %w", err)
		}
	}
	return nil
}

func (s *TargetService) DeleteTarget(id string) error {
	if err := s.secrets.Delete(secretKeyTarget(id)); err != nil {
		log.Printf("targets: delete token for %s: %v", id, err)
	}
	return s.store.DeleteTarget(id)
}

// ResolveTarget loads a target with its token and field map, ready for
// delivery.
func (s *TargetService) ResolveTarget(_ context.Context, id string) (*etl.Target, error) {
	t, err := s.store.GetTarget(id)
	if err != nil {
		return nil, err
	}
	token, err := s.token(id)
	if err != nil {
		return nil, err
	}
	fm, err := upload.ParseFieldMap(t.FieldMapJSON)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", t.Name, err)
	}
	return &etl.Target{Name: t.Name, Config: s.config(t, token), FieldMap: fm}, nil
}

func (s *TargetService) token(id string) (string, error) {
	b, err := s.secrets.Get(secretKeyTarget(id))
	if err != nil {
		return "", fmt.Errorf("read token for target %s: %w", id, err)
	}
	return string(b), nil
}

func (s *TargetService) config(t *domain.UploadTarget, token string) upload.Config {
	cfg := s.Defaults
	cfg.BaseURL = t.BaseURL
	cfg.DatasheetID = t.DatasheetID
	cfg.Token = token
	if t.BatchSize > 0 {
		cfg.BatchSize = t.BatchSize
	}
	return cfg
}
