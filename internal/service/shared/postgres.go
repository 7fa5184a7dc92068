package shared

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/Krakaw/scratchpad/internal/domain"
	"github.com/Krakaw/scratchpad/pkg/config"
	"github.com/Krakaw/scratchpad/pkg/logger"
)

const adminDatabase = "postgres"

var databaseNamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// pgConn is the slice of *pgx.Conn the provisioner uses, injectable for
// tests.
type pgConn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close(ctx context.Context) error
}

type connectFunc func(ctx context.Context, connString string) (pgConn, error)

func pgxConnect(ctx context.Context, connString string) (pgConn, error) {
	return pgx.Connect(ctx, connString)
}

// connParams is a resolved set of server connection parameters.
type connParams struct {
	Host     string
	Port     int
	User     string
	Password string
}

// Databases provisions per-scratch databases on a shared postgres service.
type Databases struct {
	cfg     config.Config
	prefix  string
	logger  *slog.Logger
	connect connectFunc
}

// NewDatabases constructs a database provisioner backed by pgx.
func NewDatabases(cfg config.Config, log *slog.Logger) *Databases {
	return &Databases{
		cfg:     cfg,
		prefix:  cfg.Docker.LabelPrefix,
		logger:  logger.Component(log, "databases"),
		connect: pgxConnect,
	}
}

// resolveConnection is the single source of truth for database credentials.
// Explicit connection blocks win, then catalogue container env, then the
// postgres image defaults.
func resolveConnection(key string, svc config.ServiceConfig) connParams {
	params := connParams{
		Host:     "localhost",
		Port:     svc.Port,
		User:     "postgres",
		Password: "postgres",
	}
	if params.Port == 0 {
		params.Port = DefaultPort(key)
	}
	if user := svc.Env["POSTGRES_USER"]; user != "" {
		params.User = user
	}
	if password := svc.Env["POSTGRES_PASSWORD"]; password != "" {
		params.Password = password
	}
	if c := svc.Connection; c != nil {
		if c.Host != "" {
			params.Host = c.Host
		}
		if c.Port != 0 {
			params.Port = c.Port
		}
		if c.User != "" {
			params.User = c.User
		}
		if c.Password != "" {
			params.Password = c.Password
		}
	}
	return params
}

func (p connParams) connString(database string) string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s",
		url.QueryEscape(p.User), url.QueryEscape(p.Password), p.Host, p.Port, database)
}

// DatabaseName derives the database name for a scratch verbatim. The result
// is validated before any statement is issued; a scratch name containing
// characters outside [A-Za-z0-9_] cannot have a database.
func DatabaseName(scratch string) string {
	return "scratch_" + scratch
}

// validateDatabaseName gates the identifiers interpolated into CREATE and
// DROP statements, which cannot be parameterized.
func validateDatabaseName(name string) error {
	if !databaseNamePattern.MatchString(name) {
		return fmt.Errorf("database name %q contains invalid characters: %w", name, domain.ErrInvalidInput)
	}
	return nil
}

func (d *Databases) open(ctx context.Context, key string) (pgConn, error) {
	svc, ok := d.cfg.GetService(key)
	if !ok {
		return nil, fmt.Errorf("service %q is not in the catalogue: %w", key, domain.ErrNotFound)
	}
	params := resolveConnection(key, svc)
	conn, err := d.connect(ctx, params.connString(adminDatabase))
	if err != nil {
		return nil, fmt.Errorf("connect to %s: %w", key, err)
	}
	return conn, nil
}

// CreateDatabase creates the database for a scratch on the shared service
// identified by key. Creating an existing database is a no-op.
func (d *Databases) CreateDatabase(ctx context.Context, key, scratch string) (string, error) {
	name := DatabaseName(scratch)
	if err := validateDatabaseName(name); err != nil {
		return "", err
	}
	conn, err := d.open(ctx, key)
	if err != nil {
		return "", err
	}
	defer conn.Close(ctx)

	var exists bool
	err = conn.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM pg_database WHERE datname = $1)", name).Scan(&exists)
	if err != nil {
		return "", fmt.Errorf("check database %s: %w", name, err)
	}
	if exists {
		return name, nil
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(`CREATE DATABASE %q`, name)); err != nil {
		return "", fmt.Errorf("create database %s: %w", name, err)
	}
	d.logger.Info("created database", "database", name, "service", key)
	return name, nil
}

// DropDatabase drops the database for a scratch, terminating any open
// backends first. A missing database is not an error.
func (d *Databases) DropDatabase(ctx context.Context, key, scratch string) error {
	name := DatabaseName(scratch)
	if err := validateDatabaseName(name); err != nil {
		return err
	}
	conn, err := d.open(ctx, key)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	// Best effort: a database with live connections cannot be dropped.
	_, err = conn.Exec(ctx,
		"SELECT pg_terminate_backend(pid) FROM pg_stat_activity WHERE datname = $1 AND pid <> pg_backend_pid()", name)
	if err != nil {
		d.logger.Warn("failed to terminate backends", "database", name, "error", err)
	}
	if _, err := conn.Exec(ctx, fmt.Sprintf(`DROP DATABASE IF EXISTS %q`, name)); err != nil {
		return fmt.Errorf("drop database %s: %w", name, err)
	}
	d.logger.Info("dropped database", "database", name, "service", key)
	return nil
}

// ListDatabases returns every scratch database present on the shared
// service.
func (d *Databases) ListDatabases(ctx context.Context, key string) ([]string, error) {
	conn, err := d.open(ctx, key)
	if err != nil {
		return nil, err
	}
	defer conn.Close(ctx)

	rows, err := conn.Query(ctx, `SELECT datname FROM pg_database WHERE datname LIKE 'scratch\_%' ORDER BY datname`)
	if err != nil {
		return nil, fmt.Errorf("list databases: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan database name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// ServiceURL builds the in-network connection URL injected into scratch
// services, addressing the shared container by name.
func (d *Databases) ServiceURL(key, scratch string) (string, error) {
	svc, ok := d.cfg.GetService(key)
	if !ok {
		return "", fmt.Errorf("service %q is not in the catalogue: %w", key, domain.ErrNotFound)
	}
	params := resolveConnection(key, svc)
	port := svc.InternalPort
	if port == 0 {
		port = DefaultPort(key)
	}
	name := DatabaseName(scratch)
	if err := validateDatabaseName(name); err != nil {
		return "", err
	}
	return fmt.Sprintf("postgres://%s:%s@%s-%s:%d/%s",
		url.QueryEscape(params.User), url.QueryEscape(params.Password), d.prefix, key, port, name), nil
}
