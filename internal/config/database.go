package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
)

// DSNString returns a go-sql-driver/mysql data source name. An explicit DSN is
// parsed and normalized; otherwise one is built from the discrete fields.
// Both paths force parseTime and UTC so temporal columns scan as time.Time.
func (d *DatabaseConfig) DSNString() (string, error) {
	cfg, err := d.driverConfig()
	if err != nil {
		return "", err
	}
	return cfg.FormatDSN(), nil
}

func (d *DatabaseConfig) driverConfig() (*mysql.Config, error) {
	var cfg *mysql.Config
	if dsn := strings.TrimSpace(d.DSN); dsn != "" {
		parsed, err := mysql.ParseDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("database.dsn is invalid: %w", err)
		}
		cfg = parsed
		if d.Database != "" && cfg.DBName != "" && cfg.DBName != d.Database {
			return nil, fmt.Errorf("database mismatch: database.database=%q but database.dsn targets %q", d.Database, cfg.DBName)
		}
		if cfg.DBName == "" {
			cfg.DBName = d.Database
		}
	} else {
		cfg = mysql.NewConfig()
		cfg.User = d.User
		cfg.Passwd = d.Password
		cfg.Net = "tcp"
		cfg.Addr = net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
		cfg.DBName = d.Database
	}

	cfg.ParseTime = true
	cfg.Loc = time.UTC
	if tls := d.tlsParam(); tls != "" && cfg.TLSConfig == "" {
		cfg.TLSConfig = tls
	}
	for k, v := range d.Params {
		if cfg.Params == nil {
			cfg.Params = make(map[string]string, len(d.Params))
		}
		if _, ok := cfg.Params[k]; !ok {
			cfg.Params[k] = v
		}
	}
	return cfg, nil
}

func (d *DatabaseConfig) tlsParam() string {
	switch strings.ToLower(strings.TrimSpace(d.TLSMode)) {
	case "":
		return ""
	case "off", "false":
		return "false"
	default:
		return strings.ToLower(strings.TrimSpace(d.TLSMode))
	}
}
