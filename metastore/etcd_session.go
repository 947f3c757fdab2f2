// Copyright 2025 The Flint Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package metastore

import (
	"context"
	"fmt"
	"time"

	"github.com/flintdb/flint/common"
	log "github.com/flintdb/flint/logger"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// EtcdSession stores descriptors as JSON values in etcd:
//
//	flint/<cluster>/meta/db/<db>
//	flint/<cluster>/meta/table/<db>/<table>
//	flint/<cluster>/meta/policy/<db>/<table>/<policy>
//
// Existence checks use transactions on the key's create revision so
// concurrent creates from different nodes cannot both succeed.
type EtcdSession struct {
	cli         *clientv3.Client
	prefix      string
	callTimeout time.Duration
}

func NewEtcdSession(clusterName string, endpoints []string, callTimeout time.Duration) (*EtcdSession, error) {
	// The etcd client noisily logs stuff, we suppress this
	etcdLogger := log.CreateLogger(zap.ErrorLevel, "console")
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      etcdLogger,
	})
	if err != nil {
		return nil, err
	}
	return &EtcdSession{
		cli:         cli,
		prefix:      fmt.Sprintf("flint/%s/meta/", clusterName),
		callTimeout: callTimeout,
	}, nil
}

func (s *EtcdSession) dbKey(dbName string) string {
	return s.prefix + "db/" + dbName
}

func (s *EtcdSession) tableKey(dbName string, tableName string) string {
	return s.prefix + "table/" + dbName + "/" + tableName
}

func (s *EtcdSession) policyKey(dbName string, tableName string, policyName string) string {
	return s.prefix + "policy/" + dbName + "/" + tableName + "/" + policyName
}

func (s *EtcdSession) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.callTimeout)
}

// createKey puts value at key only if the key does not exist yet.
func (s *EtcdSession) createKey(key string, value []byte) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), "=", 0)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (s *EtcdSession) getKey(key string) ([]byte, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	resp, err := s.cli.Get(ctx, key)
	if err != nil {
		return nil, false, err
	}
	if len(resp.Kvs) == 0 {
		return nil, false, nil
	}
	return resp.Kvs[0].Value, true, nil
}

// deleteKey removes key, reporting whether it existed.
func (s *EtcdSession) deleteKey(key string, cascade ...clientv3.Op) (bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	ops := append([]clientv3.Op{clientv3.OpDelete(key)}, cascade...)
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), ">", 0)).
		Then(ops...).
		Commit()
	if err != nil {
		return false, err
	}
	return resp.Succeeded, nil
}

func (s *EtcdSession) CreateDatabase(desc *DatabaseDesc) error {
	value, err := serializeDesc(desc)
	if err != nil {
		return err
	}
	created, err := s.createKey(s.dbKey(desc.DatabaseName), value)
	if err != nil {
		return err
	}
	if !created {
		return common.NewFlintErrorf(common.SchemaAlreadyExists,
			"database '%s' already exists", desc.DatabaseName)
	}
	return nil
}

func (s *EtcdSession) GetDatabase(dbName string) (*DatabaseDesc, bool, error) {
	value, exists, err := s.getKey(s.dbKey(dbName))
	if err != nil || !exists {
		return nil, false, err
	}
	desc := &DatabaseDesc{}
	if err := deserializeDesc(value, desc); err != nil {
		return nil, false, err
	}
	return desc, true, nil
}

func (s *EtcdSession) ListDatabases() ([]*DatabaseDesc, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	resp, err := s.cli.Get(ctx, s.prefix+"db/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	descs := make([]*DatabaseDesc, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		desc := &DatabaseDesc{}
		if err := deserializeDesc(kv.Value, desc); err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func (s *EtcdSession) DropDatabase(dbName string) error {
	// dropping the database removes its tables and policies too
	cascade := []clientv3.Op{
		clientv3.OpDelete(s.prefix+"table/"+dbName+"/", clientv3.WithPrefix()),
		clientv3.OpDelete(s.prefix+"policy/"+dbName+"/", clientv3.WithPrefix()),
	}
	deleted, err := s.deleteKey(s.dbKey(dbName), cascade...)
	if err != nil {
		return err
	}
	if !deleted {
		return common.NewFlintErrorf(common.SchemaNotFound, "database '%s' does not exist", dbName)
	}
	return nil
}

func (s *EtcdSession) CreateTable(desc *TableDesc) error {
	value, err := serializeDesc(desc)
	if err != nil {
		return err
	}
	_, exists, err := s.getKey(s.dbKey(desc.DatabaseName))
	if err != nil {
		return err
	}
	if !exists {
		return common.NewFlintErrorf(common.SchemaNotFound, "database '%s' does not exist", desc.DatabaseName)
	}
	created, err := s.createKey(s.tableKey(desc.DatabaseName, desc.TableName), value)
	if err != nil {
		return err
	}
	if !created {
		return common.NewTableAlreadyExistsError(desc.DatabaseName, desc.TableName)
	}
	return nil
}

func (s *EtcdSession) AlterTable(desc *TableDesc) error {
	value, err := serializeDesc(desc)
	if err != nil {
		return err
	}
	key := s.tableKey(desc.DatabaseName, desc.TableName)
	ctx, cancel := s.ctx()
	defer cancel()
	resp, err := s.cli.Txn(ctx).
		If(clientv3.Compare(clientv3.CreateRevision(key), ">", 0)).
		Then(clientv3.OpPut(key, string(value))).
		Commit()
	if err != nil {
		return err
	}
	if !resp.Succeeded {
		return common.NewTableNotFoundError(desc.DatabaseName, desc.TableName)
	}
	return nil
}

func (s *EtcdSession) GetTable(dbName string, tableName string) (*TableDesc, bool, error) {
	value, exists, err := s.getKey(s.tableKey(dbName, tableName))
	if err != nil || !exists {
		return nil, false, err
	}
	desc := &TableDesc{}
	if err := deserializeDesc(value, desc); err != nil {
		return nil, false, err
	}
	return desc, true, nil
}

func (s *EtcdSession) ListTables(dbName string) ([]*TableDesc, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	resp, err := s.cli.Get(ctx, s.prefix+"table/"+dbName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	descs := make([]*TableDesc, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		desc := &TableDesc{}
		if err := deserializeDesc(kv.Value, desc); err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func (s *EtcdSession) DropTable(dbName string, tableName string) error {
	cascade := []clientv3.Op{
		clientv3.OpDelete(s.prefix+"policy/"+dbName+"/"+tableName+"/", clientv3.WithPrefix()),
	}
	deleted, err := s.deleteKey(s.tableKey(dbName, tableName), cascade...)
	if err != nil {
		return err
	}
	if !deleted {
		return common.NewTableNotFoundError(dbName, tableName)
	}
	return nil
}

func (s *EtcdSession) PutPolicy(desc *PolicyDesc) error {
	value, err := serializeDesc(desc)
	if err != nil {
		return err
	}
	_, exists, err := s.getKey(s.tableKey(desc.DatabaseName, desc.TableName))
	if err != nil {
		return err
	}
	if !exists {
		return common.NewTableNotFoundError(desc.DatabaseName, desc.TableName)
	}
	ctx, cancel := s.ctx()
	defer cancel()
	_, err = s.cli.Put(ctx, s.policyKey(desc.DatabaseName, desc.TableName, desc.PolicyName), string(value))
	return err
}

func (s *EtcdSession) GetPolicy(dbName string, tableName string, policyName string) (*PolicyDesc, bool, error) {
	value, exists, err := s.getKey(s.policyKey(dbName, tableName, policyName))
	if err != nil || !exists {
		return nil, false, err
	}
	desc := &PolicyDesc{}
	if err := deserializeDesc(value, desc); err != nil {
		return nil, false, err
	}
	return desc, true, nil
}

func (s *EtcdSession) ListPolicies(dbName string, tableName string) ([]*PolicyDesc, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	resp, err := s.cli.Get(ctx, s.prefix+"policy/"+dbName+"/"+tableName+"/", clientv3.WithPrefix())
	if err != nil {
		return nil, err
	}
	descs := make([]*PolicyDesc, 0, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		desc := &PolicyDesc{}
		if err := deserializeDesc(kv.Value, desc); err != nil {
			return nil, err
		}
		descs = append(descs, desc)
	}
	return descs, nil
}

func (s *EtcdSession) DropPolicy(dbName string, tableName string, policyName string) error {
	deleted, err := s.deleteKey(s.policyKey(dbName, tableName, policyName))
	if err != nil {
		return err
	}
	if !deleted {
		return common.NewFlintErrorf(common.PolicyNotFound,
			"policy '%s' on table '%s.%s' does not exist", policyName, dbName, tableName)
	}
	return nil
}

func (s *EtcdSession) Close() error {
	return s.cli.Close()
}
