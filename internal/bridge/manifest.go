package bridge

import (
	"encoding/json"
	"os"
	"path/filepath"
)

const manifestName = "vetd-bridge.json"

// Manifest describes how to run a platform bridge from its directory.
// Commands run in order: the first N-1 complete as setup steps, the last
// one is the long-running bridge process.
type Manifest struct {
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Runtime     string      `json:"runtime"` // "node" | "python" | "exec"
	Commands    [][]string  `json:"commands"`
	Cwd         string      `json:"cwd"`
	EnvFile     string      `json:"envFile"`
	EnvSchema   []EnvSchema `json:"envSchema"`
}

type EnvSchema struct {
	Key         string `json:"key"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

func LoadManifest(bridgeDir string) (*Manifest, error) {
	p := filepath.Join(bridgeDir, manifestName)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if m.Cwd == "" {
		m.Cwd = "."
	}
	return &m, nil
}
