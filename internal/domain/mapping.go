package domain

import (
	"time"

	"github.com/google/uuid"
)

// MappingConfig is a saved column mapping for a brokerage. Mapping is
// field path to source column or MANUAL_VALUE:<literal>.
type MappingConfig struct {
	ID           uuid.UUID         `json:"id"`
	BrokerageKey string            `json:"brokerage_key"`
	Name         string            `json:"name"`
	Mapping      map[string]string `json:"mapping"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// NewMappingConfig creates a mapping config with immutable pattern
func NewMappingConfig(brokerageKey, name string, mapping map[string]string) MappingConfig {
	now := time.Now().UTC()
	return MappingConfig{
		ID:           uuid.New(),
		BrokerageKey: brokerageKey,
		Name:         name,
		Mapping:      copyMapping(mapping),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// WithMapping returns a new config with the mapping replaced
func (m MappingConfig) WithMapping(mapping map[string]string) MappingConfig {
	return MappingConfig{
		ID:           m.ID,
		BrokerageKey: m.BrokerageKey,
		Name:         m.Name,
		Mapping:      copyMapping(mapping),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    time.Now().UTC(),
	}
}

func copyMapping(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
