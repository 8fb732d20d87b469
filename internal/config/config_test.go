package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestLoad(t *testing.T) {
	t.Setenv("DB_DIALECT", "Postgres")
	t.Setenv("DB_DBNAME", "surveys")
	t.Setenv("FORCE", "true")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "postgres", cfg.DB.Dialect)
	assert.Equal(t, 5432, cfg.DB.Port)
	assert.True(t, cfg.Force)
	assert.False(t, cfg.Reset)
	assert.True(t, cfg.GenerateViews)
	assert.Equal(t, 4326, cfg.DBSRID)
	assert.Equal(t, "secret", cfg.VaultMount)
}

func TestLoad_MissingRequired(t *testing.T) {
	t.Setenv("DB_DIALECT", "sqlite")
	_, err := Load()
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			DB:           DatabaseConfig{Dialect: "mysql", Port: 3306, SSLMode: "disable", DBName: "x"},
			DBSRID:       4326,
			ConnPoolSize: 4,
		}
	}

	testCases := []struct {
		name      string
		mutate    func(c *Config)
		expectErr string
	}{
		{"Valid", func(c *Config) {}, ""},
		{"Unknown Dialect", func(c *Config) { c.DB.Dialect = "oracle" }, "invalid database dialect"},
		{"Bad Port", func(c *Config) { c.DB.Port = 70000 }, "invalid database port"},
		{"SQLite Ignores Port", func(c *Config) { c.DB.Dialect = "sqlite"; c.DB.Port = 0 }, ""},
		{"Bad SSL Mode", func(c *Config) { c.DB.SSLMode = "sometimes" }, "invalid SSL mode"},
		{"CSV Columns Together", func(c *Config) { c.CSVXColumn = "lon" }, "must be set together"},
		{"Zero SRID", func(c *Config) { c.DBSRID = 0 }, "SRID must be positive"},
		{"Negative Tolerance", func(c *Config) { c.GeometryTolerance = -1 }, "tolerance"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := base()
			tc.mutate(cfg)
			err := Validate(cfg)
			if tc.expectErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectErr)
		})
	}
}

func TestLoadNameMap(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()

	yamlPath := filepath.Join(dir, "names.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`
tables:
  Plot Survey 2023: plot_survey
columns:
  Plot Survey 2023:
    Tree Count: trees
  "*":
    CreationDate: created_at
`), 0o600))

	tomlPath := filepath.Join(dir, "names.toml")
	require.NoError(t, os.WriteFile(tomlPath, []byte(`
[tables]
"Plot Survey 2023" = "plot_survey"

[columns."Plot Survey 2023"]
"Tree Count" = "trees"

[columns."*"]
CreationDate = "created_at"
`), 0o600))

	for _, path := range []string{yamlPath, tomlPath} {
		t.Run(filepath.Ext(path), func(t *testing.T) {
			m, err := LoadNameMap(path, logger)
			require.NoError(t, err)
			assert.Equal(t, "plot_survey", m.Table("Plot Survey 2023"))
			assert.Equal(t, "trees", m.Column("Plot Survey 2023", "Tree Count"))
			assert.Equal(t, "created_at", m.Column("anything", "CreationDate"))
		})
	}

	t.Run("Empty Path", func(t *testing.T) {
		m, err := LoadNameMap("", logger)
		require.NoError(t, err)
		assert.Equal(t, "a_b", m.Table("a b"))
	})

	t.Run("Unsupported Extension", func(t *testing.T) {
		path := filepath.Join(dir, "names.json")
		require.NoError(t, os.WriteFile(path, []byte(`{}`), 0o600))
		_, err := LoadNameMap(path, logger)
		require.Error(t, err)
	})
}
