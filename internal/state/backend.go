package state

import "fmt"

// BackendConfig selects where deployment state lives.
type BackendConfig struct {
	Type   string            `yaml:"type"` // "local" or "s3"
	Config map[string]string `yaml:"config"`
}

// NewStore creates a state store for the named deployment from backend
// configuration. An empty or "local" type uses the filesystem store.
func NewStore(cfg *BackendConfig, dir, deployment string) (Store, error) {
	if cfg == nil || cfg.Type == "" || cfg.Type == "local" {
		return NewFileStore(dir, deployment), nil
	}

	switch cfg.Type {
	case "s3":
		return newS3Store(cfg.Config, deployment)
	default:
		return nil, fmt.Errorf("unknown state backend type: %s", cfg.Type)
	}
}
