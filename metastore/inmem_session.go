package metastore

import (
	"strings"
	"sync"

	"github.com/flintdb/flint/common"
)

// InMemSession is a Session backed by process memory, used for single node
// deployments and tests. The contents do not survive a restart.
type InMemSession struct {
	lock     sync.Mutex
	dbs      map[string]*DatabaseDesc
	tables   map[string]map[string]*TableDesc
	policies map[string]map[string]*PolicyDesc
	closed   bool
}

func NewInMemSession() *InMemSession {
	return &InMemSession{
		dbs:      map[string]*DatabaseDesc{},
		tables:   map[string]map[string]*TableDesc{},
		policies: map[string]map[string]*PolicyDesc{},
	}
}

func (s *InMemSession) CreateDatabase(desc *DatabaseDesc) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, exists := s.dbs[desc.DatabaseName]; exists {
		return common.NewFlintErrorf(common.SchemaAlreadyExists,
			"database '%s' already exists", desc.DatabaseName)
	}
	s.dbs[desc.DatabaseName] = desc
	s.tables[desc.DatabaseName] = map[string]*TableDesc{}
	return nil
}

func (s *InMemSession) GetDatabase(dbName string) (*DatabaseDesc, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	desc, exists := s.dbs[dbName]
	return desc, exists, nil
}

func (s *InMemSession) ListDatabases() ([]*DatabaseDesc, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	descs := make([]*DatabaseDesc, 0, len(s.dbs))
	for _, desc := range s.dbs {
		descs = append(descs, desc)
	}
	return descs, nil
}

func (s *InMemSession) DropDatabase(dbName string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, exists := s.dbs[dbName]; !exists {
		return common.NewFlintErrorf(common.SchemaNotFound, "database '%s' does not exist", dbName)
	}
	delete(s.dbs, dbName)
	delete(s.tables, dbName)
	for key := range s.policies {
		if strings.HasPrefix(key, dbName+"/") {
			delete(s.policies, key)
		}
	}
	return nil
}

func (s *InMemSession) CreateTable(desc *TableDesc) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	dbTables, exists := s.tables[desc.DatabaseName]
	if !exists {
		return common.NewFlintErrorf(common.SchemaNotFound,
			"database '%s' does not exist", desc.DatabaseName)
	}
	if _, exists := dbTables[desc.TableName]; exists {
		return common.NewTableAlreadyExistsError(desc.DatabaseName, desc.TableName)
	}
	dbTables[desc.TableName] = desc
	return nil
}

func (s *InMemSession) AlterTable(desc *TableDesc) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	dbTables := s.tables[desc.DatabaseName]
	if _, exists := dbTables[desc.TableName]; !exists {
		return common.NewTableNotFoundError(desc.DatabaseName, desc.TableName)
	}
	dbTables[desc.TableName] = desc
	return nil
}

func (s *InMemSession) GetTable(dbName string, tableName string) (*TableDesc, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	desc, exists := s.tables[dbName][tableName]
	return desc, exists, nil
}

func (s *InMemSession) ListTables(dbName string) ([]*TableDesc, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	descs := make([]*TableDesc, 0, len(s.tables[dbName]))
	for _, desc := range s.tables[dbName] {
		descs = append(descs, desc)
	}
	return descs, nil
}

func (s *InMemSession) DropTable(dbName string, tableName string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	dbTables := s.tables[dbName]
	if _, exists := dbTables[tableName]; !exists {
		return common.NewTableNotFoundError(dbName, tableName)
	}
	delete(dbTables, tableName)
	delete(s.policies, dbName+"/"+tableName)
	return nil
}

func (s *InMemSession) PutPolicy(desc *PolicyDesc) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if _, exists := s.tables[desc.DatabaseName][desc.TableName]; !exists {
		return common.NewTableNotFoundError(desc.DatabaseName, desc.TableName)
	}
	key := desc.DatabaseName + "/" + desc.TableName
	if s.policies[key] == nil {
		s.policies[key] = map[string]*PolicyDesc{}
	}
	s.policies[key][desc.PolicyName] = desc
	return nil
}

func (s *InMemSession) GetPolicy(dbName string, tableName string, policyName string) (*PolicyDesc, bool, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	desc, exists := s.policies[dbName+"/"+tableName][policyName]
	return desc, exists, nil
}

func (s *InMemSession) ListPolicies(dbName string, tableName string) ([]*PolicyDesc, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	tablePolicies := s.policies[dbName+"/"+tableName]
	descs := make([]*PolicyDesc, 0, len(tablePolicies))
	for _, desc := range tablePolicies {
		descs = append(descs, desc)
	}
	return descs, nil
}

func (s *InMemSession) DropPolicy(dbName string, tableName string, policyName string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	key := dbName + "/" + tableName
	if _, exists := s.policies[key][policyName]; !exists {
		return common.NewFlintErrorf(common.PolicyNotFound,
			"policy '%s' on table '%s.%s' does not exist", policyName, dbName, tableName)
	}
	delete(s.policies[key], policyName)
	return nil
}

func (s *InMemSession) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	s.closed = true
	return nil
}
