package metastore

// Session is one connection to the external metadata store. Sessions are not
// resilient: any error other than the catalog error codes is treated as a
// broken session and the owning Client replaces it. Implementations must be
// safe for concurrent use.
type Session interface {
	CreateDatabase(desc *DatabaseDesc) error
	GetDatabase(dbName string) (*DatabaseDesc, bool, error)
	ListDatabases() ([]*DatabaseDesc, error)
	// DropDatabase removes the database and everything in it.
	DropDatabase(dbName string) error

	CreateTable(desc *TableDesc) error
	// AlterTable replaces the descriptor of an existing table.
	AlterTable(desc *TableDesc) error
	GetTable(dbName string, tableName string) (*TableDesc, bool, error)
	ListTables(dbName string) ([]*TableDesc, error)
	DropTable(dbName string, tableName string) error

	PutPolicy(desc *PolicyDesc) error
	GetPolicy(dbName string, tableName string, policyName string) (*PolicyDesc, bool, error)
	ListPolicies(dbName string, tableName string) ([]*PolicyDesc, error)
	DropPolicy(dbName string, tableName string, policyName string) error

	Close() error
}
