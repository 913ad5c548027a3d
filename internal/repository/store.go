// Package repository содержит шлюз к документному хранилищу и его реализации.
package repository

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNotFound возвращается, если ни один документ не подходит под фильтр.
	ErrNotFound = errors.New("document not found")
	// ErrUnavailable возвращается, если хранилище не настроено или недоступно.
	ErrUnavailable = errors.New("document store unavailable")
	// ErrDuplicate возвращается при нарушении уникального индекса.
	ErrDuplicate = errors.New("duplicate document")
)

// Имена коллекций.
const (
	CollectionBooks  = "book"
	CollectionOrders = "order"
	CollectionPrices = "price"
)

// IDField содержит имя поля с идентификатором документа в ответах и фильтрах.
const IDField = "id"

// Document представляет документ с произвольным набором полей.
type Document map[string]any

// DocumentStore описывает операции над именованными коллекциями документов.
//
// Фильтр сравнивает поля верхнего уровня на равенство. Ключ IDField в фильтре
// сопоставляется с идентификатором документа; некорректный идентификатор не
// совпадает ни с одним документом.
type DocumentStore interface {
	Insert(ctx context.Context, collection string, doc Document) (string, error)
	Find(ctx context.Context, collection string, filter Document) ([]Document, error)
	FindOne(ctx context.Context, collection string, filter Document) (Document, error)
	UpdateOne(ctx context.Context, collection string, filter Document, set Document) error
	Collections(ctx context.Context) ([]string, error)
	Ping(ctx context.Context) error
	Close() error
}

// UniqueIndex задаёт поле, значение которого уникально в пределах коллекции.
type UniqueIndex struct {
	Collection string
	Field      string
}

// DefaultUniqueIndexes применяются всеми реализациями хранилища.
var DefaultUniqueIndexes = []UniqueIndex{
	{Collection: CollectionPrices, Field: "sku"},
}

// Open создаёт хранилище по строке подключения.
// Поддерживаются postgres://, sqlite://<путь>, file:<путь> и memory://.
func Open(dsn string) (DocumentStore, error) {
	var (
		store DocumentStore
		err   error
	)

	switch {
	case strings.HasPrefix(dsn, "postgres://"), strings.HasPrefix(dsn, "postgresql://"):
		var pg *PostgresStore
		if pg, err = NewPostgresStore(dsn); err == nil {
			store = pg
		}
	case strings.HasPrefix(dsn, "sqlite://"), strings.HasPrefix(dsn, "file:"):
		var lite *SQLiteStore
		if lite, err = NewSQLiteStore(strings.TrimPrefix(dsn, "sqlite://")); err == nil {
			store = lite
		}
	case dsn == "memory://":
		store = NewMemoryStore()
	default:
		err = fmt.Errorf("unsupported database uri scheme: %q", dsn)
	}

	if err != nil {
		return nil, err
	}
	return store, nil
}

// Encode превращает типизированную модель в документ. Поле IDField отбрасывается.
func Encode(v any) (Document, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	delete(doc, IDField)

	return doc, nil
}

// Decode заполняет типизированную модель из документа.
func Decode(doc Document, v any) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal document: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode document: %w", err)
	}
	return nil
}

// normalize приводит значения документа к виду, в котором они хранятся:
// числа становятся float64, время становится строкой RFC3339.
func normalize(doc Document) (Document, error) {
	if doc == nil {
		return Document{}, nil
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshal document: %w", err)
	}

	out := Document{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal document: %w", err)
	}
	return out, nil
}

// parsedFilter хранит фильтр, разделённый на идентификатор и условия по полям.
type parsedFilter struct {
	id         string
	hasID      bool
	conditions Document
	// invalid означает, что идентификатор задан, но некорректен, и фильтр
	// не совпадает ни с одним документом.
	invalid bool
}

func parseFilter(filter Document) (parsedFilter, error) {
	var pf parsedFilter

	rest := Document{}
	for k, v := range filter {
		if k != IDField {
			rest[k] = v
		}
	}

	if raw, exists := filter[IDField]; exists {
		pf.hasID = true
		s, isString := raw.(string)
		parsed, err := uuid.Parse(s)
		if !isString || err != nil {
			pf.invalid = true
			return pf, nil
		}
		pf.id = parsed.String()
	}

	conditions, err := normalize(rest)
	if err != nil {
		return pf, err
	}
	pf.conditions = conditions

	return pf, nil
}

func matches(body Document, conditions Document) bool {
	for k, want := range conditions {
		got, ok := body[k]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

func merge(body Document, set Document) Document {
	out := make(Document, len(body)+len(set))
	for k, v := range body {
		out[k] = v
	}
	for k, v := range set {
		if k == IDField {
			continue
		}
		out[k] = v
	}
	return out
}

// checkUnique проверяет, что candidate не нарушает уникальные индексы коллекции.
// Документ с идентификатором selfID не считается конфликтующим.
func checkUnique(indexes []UniqueIndex, collection, selfID string, candidate Document, existing map[string]Document) error {
	for _, idx := range indexes {
		if idx.Collection != collection {
			continue
		}
		value, ok := candidate[idx.Field]
		if !ok {
			continue
		}
		for id, body := range existing {
			if id == selfID {
				continue
			}
			if other, exists := body[idx.Field]; exists && reflect.DeepEqual(other, value) {
				return fmt.Errorf("%w: %s.%s=%v", ErrDuplicate, collection, idx.Field, value)
			}
		}
	}
	return nil
}

func withID(id string, body Document) Document {
	out := make(Document, len(body)+1)
	for k, v := range body {
		out[k] = v
	}
	out[IDField] = id
	return out
}
