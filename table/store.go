package table

import (
	"fmt"
	"sync"

	"github.com/flintdb/flint/common"
	"github.com/flintdb/flint/rows"
)

// Store holds the data of every table hosted by this node, addressed by
// qualified name ("db.table"). Table creation and drop are infrequent, data
// access goes straight to the Table which has its own lock.
type Store struct {
	lock   sync.RWMutex
	tables map[string]*Table
}

func NewStore() *Store {
	return &Store{tables: map[string]*Table{}}
}

func qualify(dbName string, tableName string) string {
	return fmt.Sprintf("%s.%s", dbName, tableName)
}

func (s *Store) CreateTable(dbName string, tableName string, schema *rows.Schema, keyColNames []string) (*Table, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	qName := qualify(dbName, tableName)
	if _, exists := s.tables[qName]; exists {
		return nil, common.NewTableAlreadyExistsError(dbName, tableName)
	}
	tab, err := NewTable(qName, schema, keyColNames)
	if err != nil {
		return nil, err
	}
	s.tables[qName] = tab
	return tab, nil
}

func (s *Store) GetTable(dbName string, tableName string) (*Table, bool) {
	s.lock.RLock()
	defer s.lock.RUnlock()
	tab, exists := s.tables[qualify(dbName, tableName)]
	return tab, exists
}

func (s *Store) DropTable(dbName string, tableName string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	qName := qualify(dbName, tableName)
	if _, exists := s.tables[qName]; !exists {
		return common.NewTableNotFoundError(dbName, tableName)
	}
	delete(s.tables, qName)
	return nil
}

func (s *Store) TableNames() []string {
	s.lock.RLock()
	defer s.lock.RUnlock()
	names := make([]string, 0, len(s.tables))
	for name := range s.tables {
		names = append(names, name)
	}
	return names
}
