package database

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"time"

	"github.com/go-sql-driver/mysql"
)

// Driver names the database engine behind a connection
type Driver string

const (
	DriverMySQL    Driver = "mysql"
	DriverPostgres Driver = "postgres"
)

// DatabaseConfig holds the configuration parameters for database connection
type DatabaseConfig struct {
	Driver       Driver        `mapstructure:"driver" yaml:"driver"`
	Host         string        `mapstructure:"host" yaml:"host"`
	Port         int           `mapstructure:"port" yaml:"port"`
	Username     string        `mapstructure:"username" yaml:"username"`
	Password     string        `mapstructure:"password" yaml:"password"`
	Database     string        `mapstructure:"database" yaml:"database"`
	Timeout      time.Duration `mapstructure:"timeout" yaml:"timeout"`
	SSLMode      string        `mapstructure:"ssl_mode" yaml:"ssl_mode"`
	MaxOpenConns int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
}

// SetDefaults fills in driver-specific defaults
func (dc *DatabaseConfig) SetDefaults() {
	if dc.Driver == "" {
		dc.Driver = DriverMySQL
	}
	if dc.Port == 0 {
		switch dc.Driver {
		case DriverPostgres:
			dc.Port = 5432
		default:
			dc.Port = 3306
		}
	}
	if dc.Timeout == 0 {
		dc.Timeout = 30 * time.Second
	}
	if dc.SSLMode == "" && dc.Driver == DriverPostgres {
		dc.SSLMode = "disable"
	}
	if dc.MaxOpenConns == 0 {
		dc.MaxOpenConns = 10
	}
}

// Validate checks if the database configuration has all required parameters
func (dc *DatabaseConfig) Validate() error {
	var errs []error

	switch dc.Driver {
	case DriverMySQL, DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("unsupported driver %q (expected mysql or postgres)", dc.Driver))
	}

	if dc.Host == "" {
		errs = append(errs, errors.New("host is required"))
	}

	if dc.Port <= 0 || dc.Port > 65535 {
		errs = append(errs, errors.New("port must be between 1 and 65535"))
	}

	if dc.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}

	if dc.Database == "" {
		errs = append(errs, errors.New("database name is required"))
	}

	if dc.Timeout <= 0 {
		dc.Timeout = 30 * time.Second
	}

	if len(errs) > 0 {
		return fmt.Errorf("database configuration validation failed: %w", errors.Join(errs...))
	}

	return nil
}

// Target names the database for logs and prompts, without credentials
func (dc *DatabaseConfig) Target() string {
	return fmt.Sprintf("%s@%s:%d (%s)", dc.Database, dc.Host, dc.Port, dc.Driver)
}

// DSN returns the Data Source Name for the configured driver
func (dc *DatabaseConfig) DSN() string {
	switch dc.Driver {
	case DriverPostgres:
		q := url.Values{}
		if dc.SSLMode != "" {
			q.Set("sslmode", dc.SSLMode)
		}
		if dc.Timeout > 0 {
			q.Set("connect_timeout", strconv.Itoa(int(dc.Timeout.Seconds())))
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(dc.Username, dc.Password),
			Host:     net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port)),
			Path:     "/" + dc.Database,
			RawQuery: q.Encode(),
		}
		return u.String()
	default:
		cfg := mysql.NewConfig()
		cfg.User = dc.Username
		cfg.Passwd = dc.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(dc.Host, strconv.Itoa(dc.Port))
		cfg.DBName = dc.Database
		cfg.Timeout = dc.Timeout
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		return cfg.FormatDSN()
	}
}
