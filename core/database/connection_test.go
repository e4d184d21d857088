package database

import (
	"path/filepath"
	"testing"

	"github.com/AzielCF/az-wap-broadcast/core/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDatabase_SQLite(t *testing.T) {
	cfg := &config.Config{Database: config.DatabaseConfig{Driver: "sqlite", Name: filepath.Join(t.TempDir(), "app.db")}}

	db, err := NewDatabase(cfg)
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
	assert.Equal(t, 1, sqlDB.Stats().MaxOpenConnections)
	_ = sqlDB.Close()
}

func TestNewDatabase_UnsupportedDriver(t *testing.T) {
	_, err := NewDatabase(&config.Config{Database: config.DatabaseConfig{Driver: "oracle"}})
	assert.ErrorContains(t, err, "unsupported database driver")
}

func TestWhatsmeowDialect(t *testing.T) {
	cfg := &config.Config{Paths: config.PathsConfig{Storages: "storages"}}
	dialect, dsn, shared := WhatsmeowDialect(cfg, "operator", "S1")
	assert.Equal(t, "sqlite3", dialect)
	assert.False(t, shared)
	assert.Equal(t, "file:"+DeviceFile(cfg, "operator", "S1")+"?_foreign_keys=on", dsn)

	cfg.Database = config.DatabaseConfig{Driver: "postgres", User: "u", Password: "p", Host: "db", Port: 5432, Name: "wa"}
	dialect, dsn, shared = WhatsmeowDialect(cfg, "operator", "S1")
	assert.Equal(t, "postgres", dialect)
	assert.True(t, shared, "postgres devices must be selected by jid")
	assert.Equal(t, "postgres://u:p@db:5432/wa?sslmode=disable", dsn)
}

func TestDeviceFile_NamespacedByOwnerAndSession(t *testing.T) {
	cfg := &config.Config{Paths: config.PathsConfig{Storages: "storages"}}

	operator := DeviceFile(cfg, "operator", "S1")
	assert.Equal(t, "storages", filepath.Dir(operator))
	assert.NotEqual(t, operator, DeviceFile(cfg, "intruder", "S1"))
	assert.NotEqual(t, operator, DeviceFile(cfg, "operator", "S2"))
	assert.Equal(t, operator, DeviceFile(cfg, "operator", "S1"))

	escaped := DeviceFile(cfg, "operator", "x/../../../tmp/evil")
	assert.Equal(t, "storages", filepath.Dir(escaped))
}
