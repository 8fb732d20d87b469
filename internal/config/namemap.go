package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/arwahdevops/surveysync/internal/schema"
)

// LoadNameMap reads the external-to-database name map. The format follows the
// file extension: .yaml/.yml or .toml. An empty path yields an empty map.
func LoadNameMap(path string, logger *zap.Logger) (*schema.NameMap, error) {
	m := &schema.NameMap{}
	if path == "" {
		logger.Info("No name map file configured, external names are used as-is after normalization.")
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read name map %s: %w", path, err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, m); err != nil {
			return nil, fmt.Errorf("parse yaml name map %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), m); err != nil {
			return nil, fmt.Errorf("parse toml name map %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported name map format %q (use .yaml, .yml or .toml)", ext)
	}

	columnMaps := 0
	for _, cols := range m.Columns {
		columnMaps += len(cols)
	}
	logger.Info("Loaded name map",
		zap.String("path", path),
		zap.Int("table_mappings", len(m.Tables)),
		zap.Int("column_mappings", columnMaps))
	return m, nil
}
