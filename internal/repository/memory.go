package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

type memoryCollection struct {
	order []string
	docs  map[string]Document
}

// MemoryStore хранит документы в памяти процесса. Используется в тестах и
// для локального запуска без базы данных.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
	indexes     []UniqueIndex
}

// NewMemoryStore создаёт пустое хранилище в памяти.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memoryCollection),
		indexes:     DefaultUniqueIndexes,
	}
}

// Insert сохраняет документ и возвращает его идентификатор.
func (s *MemoryStore) Insert(ctx context.Context, collection string, doc Document) (string, error) {
	body, err := normalize(doc)
	if err != nil {
		return "", err
	}
	delete(body, IDField)

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.collection(collection)
	if err := checkUnique(s.indexes, collection, "", body, c.docs); err != nil {
		return "", err
	}

	id := uuid.New().String()
	c.order = append(c.order, id)
	c.docs[id] = body

	return id, nil
}

// Find возвращает документы коллекции, подходящие под фильтр, в порядке вставки.
func (s *MemoryStore) Find(ctx context.Context, collection string, filter Document) ([]Document, error) {
	pf, err := parseFilter(filter)
	if err != nil {
		return nil, err
	}
	if pf.invalid {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.collections[collection]
	if !ok {
		return nil, nil
	}

	var res []Document
	for _, id := range s.matchingIDs(c, pf) {
		doc, err := normalize(withID(id, c.docs[id]))
		if err != nil {
			return nil, err
		}
		res = append(res, doc)
	}

	return res, nil
}

// FindOne возвращает первый подходящий документ или ErrNotFound.
func (s *MemoryStore) FindOne(ctx context.Context, collection string, filter Document) (Document, error) {
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
func (s *MemoryStore) UpdateOne(ctx context.Context, collection string, filter Document, set Document) error {
	pf, err := parseFilter(filter)
	if err != nil {
		return err
	}
	if pf.invalid {
		return ErrNotFound
	}

	fields, err := normalize(set)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[collection]
	if !ok {
		return ErrNotFound
	}

	ids := s.matchingIDs(c, pf)
	if len(ids) == 0 {
		return ErrNotFound
	}

	id := ids[0]
	updated := merge(c.docs[id], fields)
	if err := checkUnique(s.indexes, collection, id, updated, c.docs); err != nil {
		return err
	}
	c.docs[id] = updated

	return nil
}

// Collections возвращает отсортированный список непустых коллекций.
func (s *MemoryStore) Collections(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.collections))
	for name, c := range s.collections {
		if len(c.order) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	return names, nil
}

// Ping всегда успешен.
func (s *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close ничего не делает.
func (s *MemoryStore) Close() error {
	return nil
}

func (s *MemoryStore) collection(name string) *memoryCollection {
	c, ok := s.collections[name]
	if !ok {
		c = &memoryCollection{docs: make(map[string]Document)}
		s.collections[name] = c
	}
	return c
}

func (s *MemoryStore) matchingIDs(c *memoryCollection, pf parsedFilter) []string {
	var ids []string
	for _, id := range c.order {
		if pf.hasID && id != pf.id {
			continue
		}
		if matches(c.docs[id], pf.conditions) {
			ids = append(ids, id)
		}
	}
	return ids
}
