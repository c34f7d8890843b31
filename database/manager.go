package database

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"ch-ferry/config"
)

// ConnectionManager opens the source and the sink lazily and closes whatever was opened.
type ConnectionManager struct {
	cfg    *config.Config
	logger *zap.Logger

	mu     sync.Mutex
	source SourceDB
	target TargetDB
}

func NewConnectionManager(cfg *config.Config, logger *zap.Logger) *ConnectionManager {
	return &ConnectionManager{
		cfg:    cfg,
		logger: logger,
	}
}

func (m *ConnectionManager) Source(ctx context.Context) (SourceDB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.source != nil {
		return m.source, nil
	}

	src, err := m.openSource()
	if err != nil {
		return nil, err
	}
	m.source = src
	return src, nil
}

func (m *ConnectionManager) Target(ctx context.Context) (TargetDB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.target != nil {
		return m.target, nil
	}

	ch, err := NewClickHouseDB(m.cfg.ClickHouse, m.logger)
	if err != nil {
		return nil, err
	}
	if err := ch.Ping(ctx); err != nil {
		ch.Close()
		return nil, err
	}
	m.logger.Info("connected to ClickHouse", zap.String("url", ch.endpoint.Redacted()))
	m.target = ch
	return ch, nil
}

func (m *ConnectionManager) CloseAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	if m.source != nil {
		if err := m.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("source: %w", err))
		}
		m.source = nil
	}
	if m.target != nil {
		if err := m.target.Close(); err != nil {
			errs = append(errs, fmt.Errorf("clickhouse: %w", err))
		}
		m.target = nil
	}
	return errors.Join(errs...)
}

func (m *ConnectionManager) openSource() (SourceDB, error) {
	src := m.cfg.Source
	switch src.Type {
	case config.SourceTypeMySQL:
		conn, err := NewMySQLDB(src, m.logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	case config.SourceTypeSQLite:
		conn, err := NewSQLiteDB(src.Path, src.QueryTimeout, m.logger)
		if err != nil {
			return nil, err
		}
		return conn, nil
	default:
		return nil, fmt.Errorf("unsupported database type '%s'", src.Type)
	}
}
