package scratch

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/Krakaw/scratchpad/internal/domain"
)

const (
	metadataFile = ".scratch.yaml"
	composeFile  = "docker-compose.yml"
)

func writeMetadata(dir string, s *domain.Scratch) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}
	path := filepath.Join(dir, metadataFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	return nil
}

func readMetadata(dir string) (*domain.Scratch, error) {
	data, err := os.ReadFile(filepath.Join(dir, metadataFile))
	if err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	var s domain.Scratch
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse metadata: %w", err)
	}
	return &s, nil
}
