package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // dialect registration
	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	dialectPostgres = "postgres"
	tableDocuments  = "documents"
	colID           = "id"
	colSeq          = "seq"
	colCollection   = "collection"
	colBody         = "body"
)

// PostgresStore хранит документы в таблице PostgreSQL с колонкой JSONB.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт пул соединений и применяет миграции схемы.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
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

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
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

// classifyError сводит ошибки PostgreSQL к ошибкам хранилища.
func classifyError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgerrcode.UniqueViolation {
			return fmt.Errorf("%s: %w", op, ErrDuplicate)
		}
		if pgerrcode.IsConnectionException(pgErr.Code) ||
			pgErr.Code == pgerrcode.AdminShutdown ||
			pgErr.Code == pgerrcode.CannotConnectNow {
			return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
		}
	}

	if pgconn.Timeout(err) || isConnectionError(err) {
		return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	msg := err.Error()
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset by peer") ||
		strings.Contains(msg, "closed pool")
}

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// Ping проверяет доступность БД.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return classifyError("ping", err)
	}
	return nil
}

// Insert сохраняет документ и возвращает сгенерированный идентификатор.
func (s *PostgresStore) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	body := merge(Document{}, doc)

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	id := uuid.New().String()
	_, err = s.pool.Exec(ctx,
		`INSERT INTO documents (id, collection, body) VALUES ($1, $2, $3::jsonb)`,
		id, collection, string(raw),
	)
	if err != nil {
		return "", classifyError("insert document", err)
	}

	return id, nil
}

// Find возвращает документы коллекции, подходящие под фильтр, в порядке вставки.
func (s *PostgresStore) Find(ctx context.Context, collection string, filter Document) ([]Document, error) {
	return s.find(ctx, s.pool, collection, filter, 0)
}

// FindOne возвращает первый подходящий документ или ErrNotFound.
func (s *PostgresStore) FindOne(ctx context.Context, collection string, filter Document) (Document, error) {
	docs, err := s.find(ctx, s.pool, collection, filter, 1)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// UpdateOne сливает поля set с телом первого подходящего документа.
func (s *PostgresStore) UpdateOne(ctx context.Context, collection string, filter Document, set Document) error {
	raw, err := json.Marshal(merge(Document{}, set))
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return classifyError("begin tx", err)
	}
	defer tx.Rollback(ctx)

	docs, err := s.find(ctx, tx, collection, filter, 1)
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return ErrNotFound
	}

	_, err = tx.Exec(ctx,
		`UPDATE documents SET body = body || $2::jsonb WHERE id = $1::uuid`,
		docs[0][IDField], string(raw),
	)
	if err != nil {
		return classifyError("update document", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return classifyError("commit tx", err)
	}

	return nil
}

// Collections возвращает отсортированный список непустых коллекций.
func (s *PostgresStore) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT collection FROM documents ORDER BY collection COLLATE "C"`,
	)
	if err != nil {
		return nil, classifyError("select collections", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan collection: %w", err)
		}
		names = append(names, name)
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("rows error", err)
	}

	return names, nil
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) find(ctx context.Context, q querier, collection string, filter Document, limit uint) ([]Document, error) {
	query, args, ok, err := buildFindQuery(collection, filter, limit)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyError("select documents", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}

		body := Document{}
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", id, err)
		}
		docs = append(docs, withID(id, body))
	}

	if err := rows.Err(); err != nil {
		return nil, classifyError("rows error", err)
	}

	return docs, nil
}

// buildFindQuery строит запрос выборки. ok=false означает, что фильтр
// заведомо ничего не находит.
func buildFindQuery(collection string, filter Document, limit uint) (string, []any, bool, error) {
	pf, err := parseFilter(filter)
	if err != nil {
		return "", nil, false, err
	}
	if pf.invalid {
		return "", nil, false, nil
	}

	ds := goqu.Dialect(dialectPostgres).
		From(tableDocuments).
		Prepared(true).
		Select(goqu.L(colID+"::text"), goqu.C(colBody)).
		Where(goqu.C(colCollection).Eq(collection)).
		Order(goqu.I(colSeq).Asc())

	if pf.hasID {
		ds = ds.Where(goqu.L(colID+" = ?::uuid", pf.id))
	}

	if len(pf.conditions) > 0 {
		raw, err := json.Marshal(pf.conditions)
		if err != nil {
			return "", nil, false, fmt.Errorf("marshal filter: %w", err)
		}
		ds = ds.Where(goqu.L(colBody+" @> ?::jsonb", string(raw)))
	}

	if limit > 0 {
		ds = ds.Limit(limit)
	}

	query, args, err := ds.ToSQL()
	if err != nil {
		return "", nil, false, fmt.Errorf("build select query: %w", err)
	}

	return query, args, true, nil
}
