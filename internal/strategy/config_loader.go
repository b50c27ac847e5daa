package strategy

import (
	"database/sql"
	"encoding/json"
	"os"

	"gopkg.in/yaml.v3"

	"leverage-core/pkg/errors"
)

// Definition is one strategy entry in the strategies YAML file.
type Definition struct {
	ID         string         `yaml:"id" json:"id"`
	Kind       Kind           `yaml:"kind" json:"kind"`
	Settings   Settings       `yaml:",inline" json:"settings"`
	Parameters map[string]any `yaml:"parameters" json:"parameters"`
	IsActive   bool           `yaml:"is_active" json:"is_active"`
}

// DefinitionFile is the top-level YAML structure.
type DefinitionFile struct {
	Strategies []Definition `yaml:"strategies"`
}

// LoadDefinitions reads strategy definitions from a YAML file.
func LoadDefinitions(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "read %s", path)
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and checks strategy definitions.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var file DefinitionFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidConfiguration, "decode strategies", err)
	}
	for i, d := range file.Strategies {
		if d.ID == "" {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "strategy #%d: id is required", i)
		}
		if d.Settings.Symbol == "" {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "strategy %s: symbol is required", d.ID)
		}
		if _, ok := factories[d.Kind]; !ok {
			return nil, errors.Newf(errors.ErrCodeInvalidConfiguration, "strategy %s: unknown kind %q", d.ID, d.Kind)
		}
	}
	return file.Strategies, nil
}

// Active returns the first active definition, if any.
func Active(defs []Definition) (Definition, bool) {
	for _, d := range defs {
		if d.IsActive {
			return d, true
		}
	}
	return Definition{}, false
}

// SyncDefinitionsToDB upserts definitions into the strategy_definitions table.
func SyncDefinitionsToDB(db *sql.DB, defs []Definition) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO strategy_definitions (id, kind, symbol, settings, parameters, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			symbol = excluded.symbol,
			settings = excluded.settings,
			parameters = excluded.parameters,
			is_active = excluded.is_active,
			updated_at = CURRENT_TIMESTAMP
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range defs {
		settingsJSON, err := json.Marshal(d.Settings)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "marshal settings for %s", d.ID)
		}
		paramsJSON, err := json.Marshal(d.Parameters)
		if err != nil {
			return errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "marshal parameters for %s", d.ID)
		}
		if _, err := stmt.Exec(d.ID, string(d.Kind), d.Settings.Symbol, string(settingsJSON), string(paramsJSON), d.IsActive); err != nil {
			return errors.Wrapf(errors.ErrCodeUnknown, err, "upsert strategy %s", d.ID)
		}
	}
	return tx.Commit()
}
