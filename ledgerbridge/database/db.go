package database

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"os"
	"time"

	"log/slog"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/database/models"
	"github.com/uptrace/bun"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
)

const (
	defaultConnTimeout   = 5 * time.Second
	defaultMaxRetries    = 3
	defaultRetryInterval = time.Second
	schemaVersion        = 1 // bump when schema/migrations change
)

type DBConfig struct {
	Host     string `toml:"host"`
	Port     int    `toml:"port"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	PoolSize int    `toml:"pool_size"`
}

// DB wraps both a pgx pool for raw aggregate queries and a bun handle for
// model-based access. Both point at the same database.
type DB struct {
	pool  *pgxpool.Pool
	bunDB *bun.DB
}

func New(ctx context.Context, cfg DBConfig) (*DB, error) {
	var conn net.Conn
	var err error

	addr := net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port))
	for i := 0; i < defaultMaxRetries; i++ {
		conn, err = net.DialTimeout("tcp", addr, defaultConnTimeout)
		if err == nil {
			break
		}
		time.Sleep(defaultRetryInterval)
	}
	if err != nil {
		return nil, fmt.Errorf("database server unreachable after %d attempts: %w", defaultMaxRetries, err)
	}
	defer conn.Close()

	poolConfig, err := pgxpool.ParseConfig(buildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.PoolSize > 0 {
		poolConfig.MaxConns = int32(cfg.PoolSize)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{pool: pool, bunDB: newBunDB(pool)}, nil
}

func buildConnString(cfg DBConfig) string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?connect_timeout=5",
		cfg.User, cfg.Password, cfg.Host, cfg.Port, cfg.Database,
	)
}

func newBunDB(pool *pgxpool.Pool) *bun.DB {
	sslMode := os.Getenv("PG_SSLMODE")
	if sslMode == "" {
		sslMode = "disable"
	}

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		pool.Config().ConnConfig.User,
		pool.Config().ConnConfig.Password,
		pool.Config().ConnConfig.Host,
		pool.Config().ConnConfig.Port,
		pool.Config().ConnConfig.Database,
		sslMode,
	)

	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

func (db *DB) GetPool() *pgxpool.Pool {
	return db.pool
}

func (db *DB) BunDB() *bun.DB {
	return db.bunDB
}

func (db *DB) ExecWithLog(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error) {
	start := time.Now()
	result, err := db.pool.Exec(ctx, sql, args...)
	duration := time.Since(start)

	if err != nil {
		slog.Error("Query failed",
			slog.String("type", "db"),
			slog.String("operation", "exec"),
			slog.String("query", sql),
			slog.Duration("took", duration),
			slog.Any("error", err),
		)
		return result, err
	}

	slog.Debug("Query executed",
		slog.String("type", "db"),
		slog.String("operation", "exec"),
		slog.String("query", sql),
		slog.Duration("took", duration),
		slog.Int64("affected_rows", result.RowsAffected()),
	)
	return result, nil
}

func (db *DB) QueryWithLog(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error) {
	start := time.Now()
	rows, err := db.pool.Query(ctx, sql, args...)
	duration := time.Since(start)

	if err != nil {
		slog.Error("Query failed",
			slog.String("type", "db"),
			slog.String("operation", "query"),
			slog.String("query", sql),
			slog.Duration("took", duration),
			slog.Any("error", err),
		)
		return rows, err
	}

	slog.Debug("Query executed",
		slog.String("type", "db"),
		slog.String("operation", "query"),
		slog.String("query", sql),
		slog.Duration("took", duration),
	)
	return rows, nil
}

func (db *DB) Close() {
	if db.pool != nil {
		db.pool.Close()
	}
	if db.bunDB != nil {
		db.bunDB.Close()
	}
}

// Ping verifies both database connections are working
func (db *DB) Ping(ctx context.Context) error {
	if err := db.pool.Ping(ctx); err != nil {
		return fmt.Errorf("pgxpool ping failed: %w", err)
	}
	if err := db.bunDB.PingContext(ctx); err != nil {
		return fmt.Errorf("bun ping failed: %w", err)
	}
	return nil
}

// InitializeSchema creates all required database tables and indexes
func (db *DB) InitializeSchema(ctx context.Context) error {
	if err := db.ensureAppMeta(ctx); err == nil {
		if v, _ := db.getAppMeta(ctx, "schema_version"); v == fmt.Sprintf("%d", schemaVersion) {
			slog.Info("Schema up-to-date, skipping initialization",
				slog.Int("schema_version", schemaVersion))
			return nil
		}
	}

	tables := []interface{}{
		(*models.Account)(nil),
		(*models.EconomySettings)(nil),
		(*models.SyncTransaction)(nil),
		(*models.EconomySnapshot)(nil),
	}

	for _, model := range tables {
		_, err := db.bunDB.NewCreateTable().
			Model(model).
			IfNotExists().
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_accounts_member_community ON accounts(member_id, community_id);",
		"CREATE INDEX IF NOT EXISTS idx_accounts_community ON accounts(community_id) WHERE NOT archived;",
		"CREATE INDEX IF NOT EXISTS idx_accounts_last_checkin ON accounts(last_checkin);",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_sync_transactions_tx_id ON sync_transactions(tx_id);",
		"CREATE INDEX IF NOT EXISTS idx_sync_transactions_member ON sync_transactions(community_id, member_id, created_at DESC);",
		"CREATE INDEX IF NOT EXISTS idx_sync_transactions_community_created ON sync_transactions(community_id, created_at);",
		"CREATE INDEX IF NOT EXISTS idx_economy_snapshots_community ON economy_snapshots(community_id, sampled_at DESC);",
	}

	for _, idx := range indexes {
		if _, err := db.ExecWithLog(ctx, idx); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}

	if err := db.ensureAppMeta(ctx); err == nil {
		_ = db.setAppMeta(ctx, "schema_version", fmt.Sprintf("%d", schemaVersion))
	}

	return nil
}

func (db *DB) ensureAppMeta(ctx context.Context) error {
	_, err := db.ExecWithLog(ctx, `CREATE TABLE IF NOT EXISTS app_meta (key TEXT PRIMARY KEY, value TEXT)`)
	return err
}

func (db *DB) getAppMeta(ctx context.Context, key string) (string, error) {
	row := db.pool.QueryRow(ctx, `SELECT value FROM app_meta WHERE key = $1`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		return "", err
	}
	return v, nil
}

func (db *DB) setAppMeta(ctx context.Context, key, value string) error {
	sql := `INSERT INTO app_meta(key, value) VALUES($1, $2)
	        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	_, err := db.pool.Exec(ctx, sql, key, value)
	return err
}
