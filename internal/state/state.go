// Package state persists small bot state as a JSON file.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// GasUpdate is the gas updater's record of its last push to an oracle.
type GasUpdate struct {
	ChainID uint64 `json:"chain_id"`
	Oracle  string `json:"oracle"`

	Gasprice  uint64    `json:"gasprice_gwei"`
	TxHash    string    `json:"tx_hash,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Matches reports whether s was written for the same chain and oracle.
func (s GasUpdate) Matches(chainID uint64, oracle string) bool {
	return s.ChainID == chainID && s.Oracle == oracle
}

// Load decodes the file at path into v. A blank path or missing file leaves
// v untouched and reports false.
func Load(path string, v any) (bool, error) {
	if path == "" {
		return false, nil
	}

	b, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return false, fmt.Errorf("parse state %s: %w", path, err)
	}
	return true, nil
}

// Save writes v to path atomically. A blank path is a no-op.
func Save(path string, v any) error {
	if path == "" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
