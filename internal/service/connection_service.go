package service

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"extractor/internal/dbclient"
	"extractor/internal/domain"
	"extractor/internal/secret"
	"extractor/internal/storage"

	"github.com/google/uuid"
)

// ─────────────────────────────────────────────────────────────
// Connection Service: saved database connections
// ─────────────────────────────────────────────────────────────

// CreateDBConnInput is the service-layer DTO for creating/updating connections.
type CreateDBConnInput struct {
	Name     string `json:"name"`
	Driver   string `json:"driver"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Database string `json:"database"`
	Username string `json:"username"`
	Password string `json:"password"`
	SSLMode  string `json:"sslMode"`
}

// ConnectionService manages saved connections and keeps one live connector
// per connection id. It is the etl.ConnectorProvider for "database" sources.
type ConnectionService struct {
	connStore *storage.DBConnectionStore
	secrets   secret.SecretStore

	// QueryTimeout bounds each query issued through a cached connector.
	QueryTimeout time.Duration

	mu               sync.Mutex
	activeConnectors map[string]*connEntry
}

type connEntry struct {
	connector dbclient.Connector
	createdAt time.Time
}

// NewConnectionService creates a ConnectionService.
func NewConnectionService(connStore *storage.DBConnectionStore, secrets secret.SecretStore) *ConnectionService {
	return &ConnectionService{
		connStore:        connStore,
		secrets:          secrets,
		QueryTimeout:     dbclient.DefaultQueryTimeout,
		activeConnectors: make(map[string]*connEntry),
	}
}

func secretKeyDB(id string) string { return "db:" + id }

// ── Connection CRUD ────────────────────────────────────────

func (s *ConnectionService) ListConnections() ([]domain.DatabaseConnection, error) {
	return s.connStore.ListConnections()
}

func (s *ConnectionService) GetConnection(id string) (*domain.DatabaseConnection, error) {
	return s.connStore.GetConnection(id)
}

func (s *ConnectionService) CreateConnection(input CreateDBConnInput) (*domain.DatabaseConnection, error) {
	driver, err := domain.ParseDriver(input.Driver)
	if err != nil {
		return nil, err
	}
	if input.Name == "" {
		return nil, fmt.Errorf("connection name is required")
	}
	conn := &domain.DatabaseConnection{
		ID:       uuid.New().String(),
		Name:     input.Name,
		Driver:   driver,
		Host:     input.Host,
		Port:     input.Port,
		Database: input.Database,
		Username: input.Username,
		SSLMode:  input.SSLMode,
	}
	if err := s.connStore.CreateConnection(conn); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	if input.Password != "" && s.secrets != nil {
		if err := s.secrets.Set(secretKeyDB(conn.ID), []byte(input.Password)); err != nil {
			return conn, fmt.Errorf("store password: %w", err)
		}
	}
	return conn, nil
}

func (s *ConnectionService) UpdateConnection(id string, input CreateDBConnInput) error {
	driver, err := domain.ParseDriver(input.Driver)
	if err != nil {
		return err
	}
	conn, err := s.connStore.GetConnection(id)
	if err != nil {
		return err
	}
	conn.Name = input.Name
	conn.Driver = driver
	conn.Host = input.Host
	conn.Port = input.Port
	conn.Database = input.Database
	conn.Username = input.Username
	conn.SSLMode = input.SSLMode
	if err := s.connStore.UpdateConnection(conn); err != nil {
		return err
	}
	if input.Password != "" && s.secrets != nil {
		if err := s.secrets.Set(secretKeyDB(id), []byte(input.Password)); err != nil {
			return fmt.Errorf("store password: %w", err)
		}
	}
	// Invalidate cached connector so the next query re-connects with new config.
	s.evict(id)
	return nil
}

func (s *ConnectionService) DeleteConnection(id string) error {
	s.evict(id)
	if s.secrets != nil {
		if err := s.secrets.Delete(secretKeyDB(id)); err != nil {
			log.Printf("connections: delete secret for %s: %v", id, err)
		}
	}
	return s.connStore.DeleteConnection(id)
}

// ── Test + Introspect ──────────────────────────────────────

func (s *ConnectionService) TestConnection(ctx context.Context, id string) error {
	connector, err := s.Connector(ctx, id)
	if err != nil {
		return err
	}
	if err := connector.TestConnection(ctx); err != nil {
		// A broken pool should not be reused.
		s.evict(id)
		return err
	}
	return nil
}

func (s *ConnectionService) Introspect(ctx context.Context, id string) (*dbclient.SchemaInfo, error) {
	connector, err := s.Connector(ctx, id)
	if err != nil {
		return nil, err
	}
	return connector.Introspect(ctx)
}

// ── Connector Pool ─────────────────────────────────────────

// Connector returns the cached connector for id, opening one on first use.
func (s *ConnectionService) Connector(_ context.Context, id string) (dbclient.Connector, error) {
	s.mu.Lock()
	if e, ok := s.activeConnectors[id]; ok {
		s.mu.Unlock()
		return e.connector, nil
	}
	s.mu.Unlock()

	conn, err := s.connStore.GetConnection(id)
	if err != nil {
		return nil, fmt.Errorf("get connection %s: %w", id, err)
	}

	var password string
	if s.secrets != nil {
		pw, err := s.secrets.Get(secretKeyDB(id))
		if err != nil {
			return nil, fmt.Errorf("read password for %s: %w", conn.Name, err)
		}
		password = string(pw)
	}

	connector, err := dbclient.NewConnector(conn, password, dbclient.WithQueryTimeout(s.QueryTimeout))
	if err != nil {
		return nil, fmt.Errorf("open db connection: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Another caller may have raced us here; keep the first connector.
	if e, ok := s.activeConnectors[id]; ok {
		connector.Close()
		return e.connector, nil
	}
	s.activeConnectors[id] = &connEntry{connector: connector, createdAt: time.Now()}
	return connector, nil
}

func (s *ConnectionService) evict(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.activeConnectors[id]; ok {
		_ = e.connector.Close()
		delete(s.activeConnectors, id)
	}
}

// Close tears down all active database connectors.
func (s *ConnectionService) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, entry := range s.activeConnectors {
		_ = entry.connector.Close()
		delete(s.activeConnectors, id)
	}
}
