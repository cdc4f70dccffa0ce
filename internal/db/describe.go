package db

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DSNInfo is a password-free description of a DSN, safe to log.
type DSNInfo struct {
	Type        string `json:"database_type"`
	Host        string `json:"database_host,omitempty"`
	Port        int    `json:"database_port,omitempty"`
	User        string `json:"database_user,omitempty"`
	Name        string `json:"database_name,omitempty"`
	SSLMode     string `json:"database_ssl_mode,omitempty"`
	Path        string `json:"database_path,omitempty"`
	PasswordSet bool   `json:"database_password_set"`
}

// DescribeDSN parses dsn into a DSNInfo.
func DescribeDSN(dsn string) (DSNInfo, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return DSNInfo{}, fmt.Errorf("empty dsn")
	}

	if isSQLiteDSN(trimmed) {
		pathPart := trimmed
		if strings.HasPrefix(strings.ToLower(pathPart), "file:") {
			pathPart = pathPart[len("file:"):]
		}
		pathPart, _, _ = strings.Cut(pathPart, "?")
		return DSNInfo{Type: DialectSQLite, Path: strings.TrimSpace(pathPart)}, nil
	}

	u, errParse := url.Parse(trimmed)
	if errParse != nil {
		return DSNInfo{}, fmt.Errorf("parse dsn: %w", errParse)
	}

	switch strings.ToLower(strings.TrimSpace(u.Scheme)) {
	case "postgres", "postgresql":
		port := 5432
		if rawPort := strings.TrimSpace(u.Port()); rawPort != "" {
			parsedPort, errPort := strconv.Atoi(rawPort)
			if errPort != nil {
				return DSNInfo{}, fmt.Errorf("parse port: %w", errPort)
			}
			port = parsedPort
		}

		username := ""
		passwordSet := false
		if u.User != nil {
			username = strings.TrimSpace(u.User.Username())
			_, passwordSet = u.User.Password()
		}

		sslMode := strings.TrimSpace(u.Query().Get("sslmode"))
		if sslMode == "" {
			sslMode = "disable"
		}

		return DSNInfo{
			Type:        DialectPostgres,
			Host:        strings.TrimSpace(u.Hostname()),
			Port:        port,
			User:        username,
			Name:        strings.TrimSpace(strings.TrimPrefix(u.Path, "/")),
			SSLMode:     sslMode,
			PasswordSet: passwordSet,
		}, nil
	default:
		return DSNInfo{}, fmt.Errorf("unsupported dsn scheme")
	}
}
