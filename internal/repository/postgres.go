package repository

import (
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"strconv"

	"github.com/opensource-health/readmit/internal/domain"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
)

type postgresParams struct {
	host     string
	port     int
	user     string
	password string
	dbname   string
	sslmode  string
}

func resolvePostgres(cfg domain.RepositoryConfig) postgresParams {
	p := postgresParams{
		host:     cfg.PostgresHost,
		port:     cfg.PostgresPort,
		user:     cfg.PostgresUser,
		password: cfg.PostgresPassword,
		dbname:   cfg.PostgresDB,
		sslmode:  cfg.PostgresSSLMode,
	}
	if p.host == "" {
		p.host = "localhost"
	}
	if p.port == 0 {
		p.port = 5432
	}
	if p.dbname == "" {
		p.dbname = "readmit"
	}
	if p.sslmode == "" {
		p.sslmode = "disable"
	}
	return p
}

// openPostgres opens a PostgreSQL connection through lib/pq.
func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	p := resolvePostgres(cfg)
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.host, p.port, p.user, p.password, p.dbname, p.sslmode,
	)
	return openAndPing("postgres", dsn)
}

// openPgx opens a PostgreSQL connection through the pgx stdlib driver.
func openPgx(cfg domain.RepositoryConfig) (*sql.DB, error) {
	return openAndPing("pgx", pgxURL(resolvePostgres(cfg)))
}

func pgxURL(p postgresParams) string {
	u := url.URL{
		Scheme:   "postgres",
		Host:     net.JoinHostPort(p.host, strconv.Itoa(p.port)),
		Path:     "/" + p.dbname,
		RawQuery: url.Values{"sslmode": {p.sslmode}}.Encode(),
	}
	if p.user != "" {
		u.User = url.UserPassword(p.user, p.password)
	}
	return u.String()
}

func openAndPing(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping %s database: %w", driver, err)
	}

	return db, nil
}
