package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type documentRecord struct {
	Seq        uint   `gorm:"primaryKey;autoIncrement"`
	ID         string `gorm:"size:36;uniqueIndex;not null"`
	Collection string `gorm:"size:64;index;not null"`
	Body       string `gorm:"type:text;not null"`
	CreatedAt  time.Time
}

func (documentRecord) TableName() string { return "documents" }

// SQLiteStore хранит документы во встроенной базе SQLite.
// Фильтрация по полям выполняется на стороне приложения, уникальность
// обеспечивается индексами по выражениям json_extract.
type SQLiteStore struct {
	db      *gorm.DB
	indexes []UniqueIndex
}

// NewSQLiteStore открывает (или создаёт) файл базы и мигрирует схему.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite допускает одного писателя: запросы ждут соединение вместо "database is locked".
	sqlDB.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db, indexes: DefaultUniqueIndexes}

	if err := s.migrate(); err != nil {
		_ = sqlDB.Close()
		return nil, err
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	if err := s.db.AutoMigrate(&documentRecord{}); err != nil {
		return fmt.Errorf("migrate sqlite: %w", err)
	}

	for _, idx := range s.indexes {
		stmt := fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS %s ON documents (json_extract(body, '$.%s')) WHERE collection = '%s'",
			uniqueIndexName(idx), idx.Field, idx.Collection,
		)
		if err := s.db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index %s: %w", uniqueIndexName(idx), err)
		}
	}

	return nil
}

func uniqueIndexName(idx UniqueIndex) string {
	return "idx_documents_" + idx.Collection + "_" + idx.Field
}

// Insert сохраняет документ и возвращает его идентификатор.
func (s *SQLiteStore) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	body, err := normalize(doc)
	if err != nil {
		return "", err
	}
	delete(body, IDField)

	raw, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal document: %w", err)
	}

	rec := documentRecord{
		ID:         uuid.New().String(),
		Collection: collection,
		Body:       string(raw),
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return "", wrapSQLiteError("insert document", err)
	}

	return rec.ID, nil
}

// Find возвращает документы коллекции, подходящие под фильтр, в порядке вставки.
func (s *SQLiteStore) Find(ctx context.Context, collection string, filter Document) ([]Document, error) {
	recs, err := s.findRecords(s.db.WithContext(ctx), collection, filter)
	if err != nil {
		return nil, wrapSQLiteError("select documents", err)
	}

	docs := make([]Document, 0, len(recs))
	for _, r := range recs {
		docs = append(docs, withID(r.rec.ID, r.body))
	}
	return docs, nil
}

// FindOne возвращает первый подходящий документ или ErrNotFound.
func (s *SQLiteStore) FindOne(ctx context.Context, collection string, filter Document) (Document, error) {
	docs, err := s.Find(ctx, collection, filter)
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, ErrNotFound
	}
	return docs[0], nil
}

// UpdateOne сливает поля set с первым подходящим документом.
func (s *SQLiteStore) UpdateOne(ctx context.Context, collection string, filter Document, set Document) error {
	fields, err := normalize(set)
	if err != nil {
		return err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		recs, err := s.findRecords(tx, collection, filter)
		if err != nil {
			return err
		}
		if len(recs) == 0 {
			return ErrNotFound
		}

		target := recs[0]
		updated := merge(target.body, fields)

		raw, err := json.Marshal(updated)
		if err != nil {
			return fmt.Errorf("marshal document: %w", err)
		}

		return tx.Model(&documentRecord{}).
			Where("id = ?", target.rec.ID).
			Update("body", string(raw)).Error
	})
	if err != nil {
		return wrapSQLiteError("update document", err)
	}

	return nil
}

// Collections возвращает отсортированный список непустых коллекций.
func (s *SQLiteStore) Collections(ctx context.Context) ([]string, error) {
	var names []string
	err := s.db.WithContext(ctx).
		Model(&documentRecord{}).
		Distinct("collection").
		Order("collection").
		Pluck("collection", &names).Error
	if err != nil {
		return nil, wrapSQLiteError("select collections", err)
	}
	return names, nil
}

// Ping проверяет, что соединение с базой открыто.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("ping: %w: %w", ErrUnavailable, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("ping: %w: %w", ErrUnavailable, err)
	}
	return nil
}

// Close закрывает соединение с базой.
func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

type decodedRecord struct {
	rec  documentRecord
	body Document
}

func (s *SQLiteStore) findRecords(tx *gorm.DB, collection string, filter Document) ([]decodedRecord, error) {
	pf, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}
	if pf.invalid {
		return nil, nil
	}

	q := tx.Where("collection = ?", collection)
	if pf.hasID {
		q = q.Where("id = ?", pf.id)
	}

	var recs []documentRecord
	if err := q.Order("seq").Find(&recs).Error; err != nil {
		return nil, err
	}

	var res []decodedRecord
	for _, r := range recs {
		body := Document{}
		if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
			return nil, fmt.Errorf("decode document %s: %w", r.ID, err)
		}
		if matches(body, pf.conditions) {
			res = append(res, decodedRecord{rec: r, body: body})
		}
	}

	return res, nil
}

func wrapSQLiteError(op string, err error) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return err
	case errors.Is(err, gorm.ErrDuplicatedKey), strings.Contains(err.Error(), "UNIQUE constraint failed"):
		return fmt.Errorf("%s: %w", op, ErrDuplicate)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
