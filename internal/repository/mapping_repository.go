package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/rpattn/loadflow/internal/domain"
)

type mappingRepository struct {
	db DBTX
}

// NewMappingRepository wires a mapping repository backed by db.
func NewMappingRepository(db DBTX) MappingRepository {
	return &mappingRepository{db: db}
}

// Save upserts by (brokerage_key, name). The stored id and created_at win
// over the ones passed in when the mapping already exists.
func (r *mappingRepository) Save(ctx context.Context, cfg domain.MappingConfig) (domain.MappingConfig, error) {
	mapping, err := json.Marshal(cfg.Mapping)
	if err != nil {
		return domain.MappingConfig{}, fmt.Errorf("failed to encode mapping: %w", err)
	}

	row := r.db.QueryRow(ctx,
		`INSERT INTO mapping_configs (id, brokerage_key, name, mapping, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (brokerage_key, name)
		 DO UPDATE SET mapping = EXCLUDED.mapping, updated_at = EXCLUDED.updated_at
		 RETURNING id, created_at, updated_at`,
		cfg.ID,
		cfg.BrokerageKey,
		cfg.Name,
		mapping,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	saved := cfg
	if err := row.Scan(&saved.ID, &saved.CreatedAt, &saved.UpdatedAt); err != nil {
		return domain.MappingConfig{}, fmt.Errorf("failed to save mapping: %w", err)
	}
	return saved, nil
}

func (r *mappingRepository) Get(ctx context.Context, brokerageKey, name string) (domain.MappingConfig, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, brokerage_key, name, mapping, created_at, updated_at
		 FROM mapping_configs
		 WHERE brokerage_key = $1 AND name = $2`,
		brokerageKey,
		name,
	)
	cfg, err := scanMapping(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.MappingConfig{}, fmt.Errorf("mapping %s/%s: %w", brokerageKey, name, ErrNotFound)
	}
	if err != nil {
		return domain.MappingConfig{}, fmt.Errorf("failed to get mapping: %w", err)
	}
	return cfg, nil
}

func (r *mappingRepository) List(ctx context.Context, brokerageKey string) ([]domain.MappingConfig, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, brokerage_key, name, mapping, created_at, updated_at
		 FROM mapping_configs
		 WHERE brokerage_key = $1
		 ORDER BY name`,
		brokerageKey,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list mappings: %w", err)
	}
	defer rows.Close()

	out := []domain.MappingConfig{}
	for rows.Next() {
		cfg, scanErr := scanMapping(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", scanErr)
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate mappings: %w", err)
	}
	return out, nil
}

func (r *mappingRepository) Delete(ctx context.Context, brokerageKey, name string) error {
	tag, err := r.db.Exec(ctx,
		`DELETE FROM mapping_configs WHERE brokerage_key = $1 AND name = $2`,
		brokerageKey,
		name,
	)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mapping %s/%s: %w", brokerageKey, name, ErrNotFound)
	}
	return nil
}

func scanMapping(row pgx.Row) (domain.MappingConfig, error) {
	var (
		cfg     domain.MappingConfig
		mapping []byte
	)
	if err := row.Scan(&cfg.ID, &cfg.BrokerageKey, &cfg.Name, &mapping, &cfg.CreatedAt, &cfg.UpdatedAt); err != nil {
		return domain.MappingConfig{}, err
	}
	if err := json.Unmarshal(mapping, &cfg.Mapping); err != nil {
		return domain.MappingConfig{}, fmt.Errorf("failed to decode mapping: %w", err)
	}
	return cfg, nil
}
