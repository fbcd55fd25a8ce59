package database

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDatabaseConfig_Validate(t *testing.T) {
	valid := DatabaseConfig{
		Driver:   DriverMySQL,
		Host:     "localhost",
		Port:     3306,
		Username: "root",
		Database: "erp",
		Timeout:  30 * time.Second,
	}

	tests := []struct {
		name    string
		mutate  func(*DatabaseConfig)
		wantErr string
	}{
		{name: "valid config", mutate: func(*DatabaseConfig) {}},
		{name: "missing host", mutate: func(c *DatabaseConfig) { c.Host = "" }, wantErr: "host is required"},
		{name: "invalid port", mutate: func(c *DatabaseConfig) { c.Port = 70000 }, wantErr: "port must be"},
		{name: "missing username", mutate: func(c *DatabaseConfig) { c.Username = "" }, wantErr: "username is required"},
		{name: "missing database", mutate: func(c *DatabaseConfig) { c.Database = "" }, wantErr: "database name is required"},
		{name: "unknown driver", mutate: func(c *DatabaseConfig) { c.Driver = "oracle" }, wantErr: "unsupported driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_SetDefaults(t *testing.T) {
	mysqlCfg := DatabaseConfig{}
	mysqlCfg.SetDefaults()
	assert.Equal(t, DriverMySQL, mysqlCfg.Driver)
	assert.Equal(t, 3306, mysqlCfg.Port)
	assert.Equal(t, 30*time.Second, mysqlCfg.Timeout)
	assert.Equal(t, 10, mysqlCfg.MaxOpenConns)

	pgCfg := DatabaseConfig{Driver: DriverPostgres}
	pgCfg.SetDefaults()
	assert.Equal(t, 5432, pgCfg.Port)
	assert.Equal(t, "disable", pgCfg.SSLMode)
}

func TestDatabaseConfig_DSN(t *testing.T) {
	t.Run("mysql", func(t *testing.T) {
		cfg := DatabaseConfig{Driver: DriverMySQL, Host: "db", Port: 3306, Username: "app", Password: "p@ss", Database: "erp", Timeout: 5 * time.Second}
		dsn := cfg.DSN()

		assert.True(t, strings.HasPrefix(dsn, "app:p@ss@tcp(db:3306)/erp?"), dsn)
		assert.Contains(t, dsn, "parseTime=true")
		assert.Contains(t, dsn, "timeout=5s")
	})

	t.Run("postgres", func(t *testing.T) {
		cfg := DatabaseConfig{Driver: DriverPostgres, Host: "db", Port: 5432, Username: "app", Password: "secret", Database: "erp", SSLMode: "require", Timeout: 10 * time.Second}
		dsn := cfg.DSN()

		assert.True(t, strings.HasPrefix(dsn, "postgres://app:secret@db:5432/erp?"), dsn)
		assert.Contains(t, dsn, "sslmode=require")
		assert.Contains(t, dsn, "connect_timeout=10")
	})
}
