// Package repository содержит реализацию хранения загруженных данных портала в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dynatradedubai-cloud/Dynatradetest2/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrDuplicateVersion возвращается при повторном сохранении каталога с той же версией.
var ErrDuplicateVersion = errors.New("catalog version already stored")

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{1 * time.Second, 3 * time.Second, 5 * time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || !isRetryable(err) || i == len(retryDelays) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// SaveCatalog сохраняет загруженный каталог как новую версию.
func (r *PostgresRepository) SaveCatalog(ctx context.Context, c *model.Catalog) error {
	columns, err := json.Marshal(c.Columns)
	if err != nil {
		return fmt.Errorf("marshal columns: %w", err)
	}

	rows := make([][]any, len(c.Rows))
	for i, row := range c.Rows {
		rows[i] = row.Values
	}
	rowsJSON, err := json.Marshal(rows)
	if err != nil {
		return fmt.Errorf("marshal rows: %w", err)
	}

	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO catalog_uploads (version, source, columns, rows, uploaded_at) VALUES ($1, $2, $3, $4, $5)`,
			c.Version, c.Source, columns, rowsJSON, c.UploadedAt,
		)
		if err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
				return fmt.Errorf("%w: %s", ErrDuplicateVersion, c.Version)
			}
			return fmt.Errorf("insert catalog: %w", err)
		}
		return nil
	})
}

// LoadCatalog возвращает последний сохранённый каталог или nil, если загрузок не было.
func (r *PostgresRepository) LoadCatalog(ctx context.Context) (*model.Catalog, error) {
	var (
		c        model.Catalog
		columns  []byte
		rowsJSON []byte
	)

	err := r.pool.QueryRow(ctx,
		`SELECT version, source, columns, rows, uploaded_at
		 FROM catalog_uploads
		 ORDER BY id DESC
		 LIMIT 1`,
	).Scan(&c.Version, &c.Source, &columns, &rowsJSON, &c.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select catalog: %w", err)
	}

	if err := json.Unmarshal(columns, &c.Columns); err != nil {
		return nil, fmt.Errorf("unmarshal columns: %w", err)
	}

	var rows [][]any
	if err := json.Unmarshal(rowsJSON, &rows); err != nil {
		return nil, fmt.Errorf("unmarshal rows: %w", err)
	}
	c.Rows = make([]model.CatalogRow, len(rows))
	for i, values := range rows {
		c.Rows[i] = model.CatalogRow{Values: values}
	}

	return &c, nil
}

// SaveCampaign сохраняет рекламный файл.
func (r *PostgresRepository) SaveCampaign(ctx context.Context, a *model.CampaignAsset) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO campaign_assets (filename, content_type, data, uploaded_at) VALUES ($1, $2, $3, $4)`,
			a.Filename, a.ContentType, a.Data, a.UploadedAt,
		)
		if err != nil {
			return fmt.Errorf("insert campaign: %w", err)
		}
		return nil
	})
}

// LoadCampaign возвращает последний рекламный файл или nil.
func (r *PostgresRepository) LoadCampaign(ctx context.Context) (*model.CampaignAsset, error) {
	var a model.CampaignAsset
	err := r.pool.QueryRow(ctx,
		`SELECT filename, content_type, data, uploaded_at
		 FROM campaign_assets
		 ORDER BY id DESC
		 LIMIT 1`,
	).Scan(&a.Filename, &a.ContentType, &a.Data, &a.UploadedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("select campaign: %w", err)
	}
	return &a, nil
}

// ReplaceUsers в одной транзакции заменяет всю таблицу доступа.
func (r *PostgresRepository) ReplaceUsers(ctx context.Context, users []model.UserRecord) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if _, err := tx.Exec(ctx, `DELETE FROM portal_users`); err != nil {
			return fmt.Errorf("delete users: %w", err)
		}

		rows := make([][]any, 0, len(users))
		seen := make(map[string]int, len(users))
		for _, u := range users {
			row := []any{u.Username, u.PasswordHash, u.AllowedIP}
			if i, ok := seen[u.Username]; ok {
				rows[i] = row
				continue
			}
			seen[u.Username] = len(rows)
			rows = append(rows, row)
		}

		_, err = tx.CopyFrom(ctx,
			pgx.Identifier{"portal_users"},
			[]string{"username", "password_hash", "allowed_ip"},
			pgx.CopyFromRows(rows),
		)
		if err != nil {
			return fmt.Errorf("copy users: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// LoadUsers возвращает сохранённую таблицу доступа.
func (r *PostgresRepository) LoadUsers(ctx context.Context) ([]model.UserRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT username, password_hash, allowed_ip FROM portal_users ORDER BY username`,
	)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var res []model.UserRecord
	for rows.Next() {
		var u model.UserRecord
		if err := rows.Scan(&u.Username, &u.PasswordHash, &u.AllowedIP); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res = append(res, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}
