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

// Package catalog is the per node view of the cluster metadata. Resolved
// relations are cached and invalidated through a destroy version: every
// destructive change anywhere in the cluster bumps the version, and a cache
// that observes a version beyond its own discards what it holds and reloads
// from the metadata store on the next resolve.
package catalog

import (
	"strings"
	"sync"

	"github.com/flintdb/flint/cluster"
	"github.com/flintdb/flint/common"
	"github.com/flintdb/flint/expr"
	log "github.com/flintdb/flint/logger"
	"github.com/flintdb/flint/metastore"
	"github.com/flintdb/flint/rows"
	"github.com/flintdb/flint/table"
	"github.com/flintdb/flint/types"
)

// Relation is a resolved table: its descriptor, schema, local storage and
// the conjunction of its row policies. Relations are immutable once cached;
// an invalidation produces a fresh one on the next resolve.
type Relation struct {
	Desc   *metastore.TableDesc
	Schema *rows.Schema
	Table  *table.Table
	// Filter is the conjunction of the table's policies, nil when the table
	// has none.
	Filter expr.Expression
}

// Scan reads the relation's rows through its policy filter.
func (r *Relation) Scan() ([]rows.Row, error) {
	return r.Table.Scan(r.Filter)
}

// Provider opens the physical storage for a resolved descriptor.
type Provider interface {
	OpenTable(desc *metastore.TableDesc) (*table.Table, error)
}

// StoreProvider keeps table data in a local table.Store, creating storage on
// first resolve of a descriptor.
type StoreProvider struct {
	store *table.Store
}

func NewStoreProvider(store *table.Store) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) OpenTable(desc *metastore.TableDesc) (*table.Table, error) {
	if tab, exists := p.store.GetTable(desc.DatabaseName, desc.TableName); exists {
		return tab, nil
	}
	schema, err := desc.Schema()
	if err != nil {
		return nil, err
	}
	tab, err := p.store.CreateTable(desc.DatabaseName, desc.TableName, schema, desc.KeyColumns)
	if err == nil {
		return tab, nil
	}
	// lost a race with a concurrent resolve of the same table
	if common.IsFlintErrorWithCode(err, common.TableAlreadyExists) {
		tab, _ := p.store.GetTable(desc.DatabaseName, desc.TableName)
		return tab, nil
	}
	return nil, err
}

type Cache struct {
	lock          sync.RWMutex
	meta          *metastore.Client
	provider      Provider
	bus           cluster.Bus
	factory       *expr.ExpressionFactory
	caseSensitive bool
	entries       map[string]*Relation
	localVersion  int64
	// selfBumps counts version bumps this node has in flight. While one is
	// pending, versions from the bus are deferred rather than applied, as
	// one of them is this node's own bump and must not clear the cache.
	selfBumps       int
	deferredVersion int64
	// epoch increments on every invalidation. A resolve snapshots it before
	// loading and only caches the result if it is unchanged, so a relation
	// loaded before an invalidation cannot be inserted after it.
	epoch int64
}

func NewCache(meta *metastore.Client, provider Provider, bus cluster.Bus, caseSensitive bool) *Cache {
	c := &Cache{
		meta:          meta,
		provider:      provider,
		bus:           bus,
		factory:       expr.NewExpressionFactory(),
		caseSensitive: caseSensitive,
		entries:       map[string]*Relation{},
	}
	bus.Subscribe(c.onDestroyVersion)
	return c
}

// Normalize maps a name to its canonical form. Unquoted SQL identifiers are
// case insensitive, so unless configured otherwise names fold to lower case.
func (c *Cache) Normalize(name string) string {
	if c.caseSensitive {
		return name
	}
	return strings.ToLower(name)
}

func (c *Cache) qualified(dbName string, tableName string) string {
	return c.Normalize(dbName) + "." + c.Normalize(tableName)
}

// Resolve returns the relation for db.table, loading and caching it if this
// node has not seen it since the last invalidation.
//
// The load runs outside the lock, so an invalidation can land in the middle
// of it. The epoch snapshot detects this: what was loaded may predate the
// invalidation and is thrown away, and the load starts over against the
// current metadata.
func (c *Cache) Resolve(dbName string, tableName string) (*Relation, error) {
	dbName = c.Normalize(dbName)
	tableName = c.Normalize(tableName)
	qName := dbName + "." + tableName
	for {
		c.lock.RLock()
		rel, exists := c.entries[qName]
		epoch := c.epoch
		c.lock.RUnlock()
		if exists {
			return rel, nil
		}
		rel, err := c.load(dbName, tableName)
		if err != nil {
			return nil, err
		}
		c.lock.Lock()
		if c.epoch != epoch {
			c.lock.Unlock()
			continue
		}
		if cached, exists := c.entries[qName]; exists {
			c.lock.Unlock()
			return cached, nil
		}
		c.entries[qName] = rel
		c.lock.Unlock()
		return rel, nil
	}
}

func (c *Cache) load(dbName string, tableName string) (*Relation, error) {
	desc, exists, err := c.meta.GetTable(dbName, tableName)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, common.NewTableNotFoundError(dbName, tableName)
	}
	schema, err := desc.Schema()
	if err != nil {
		return nil, err
	}
	filter, err := c.resolvePolicies(desc, schema)
	if err != nil {
		return nil, err
	}
	tab, err := c.provider.OpenTable(desc)
	if err != nil {
		return nil, err
	}
	return &Relation{Desc: desc, Schema: schema, Table: tab, Filter: filter}, nil
}

// resolvePolicies builds and type-checks the table's policy filters against
// its schema and conjoins them.
func (c *Cache) resolvePolicies(desc *metastore.TableDesc, schema *rows.Schema) (expr.Expression, error) {
	policies, err := c.meta.ListPolicies(desc.DatabaseName, desc.TableName)
	if err != nil {
		return nil, err
	}
	var filter expr.Expression
	for _, policy := range policies {
		e, err := c.factory.CreateExpression(policy.Filter, schema)
		if err != nil {
			return nil, common.NewFlintErrorf(common.InvalidPolicy,
				"policy '%s' on table '%s.%s' is invalid: %v",
				policy.PolicyName, desc.DatabaseName, desc.TableName, err)
		}
		if e.ResultType().ID() != types.ColumnTypeIDBool {
			return nil, common.NewFlintErrorf(common.InvalidPolicy,
				"policy '%s' on table '%s.%s' must be a boolean expression",
				policy.PolicyName, desc.DatabaseName, desc.TableName)
		}
		if filter == nil {
			filter = e
		} else {
			filter = expr.And(filter, e)
		}
	}
	return filter, nil
}

// Invalidate drops the cached relation after a destructive change performed
// by this node and publishes the new destroy version to the cluster. Only
// the named entry is dropped locally, the rest of the cache is still valid
// because this node knows exactly what changed.
func (c *Cache) Invalidate(dbName string, tableName string) error {
	qName := c.qualified(dbName, tableName)
	c.lock.Lock()
	delete(c.entries, qName)
	c.epoch++
	prevVersion := c.localVersion
	c.selfBumps++
	c.lock.Unlock()
	version, err := c.bus.BumpVersion()
	c.lock.Lock()
	defer c.lock.Unlock()
	c.selfBumps--
	deferred := c.deferredVersion
	if c.selfBumps == 0 {
		c.deferredVersion = 0
	}
	if err != nil {
		// the bump may or may not have been published; drop everything so
		// this node at least cannot serve stale entries
		c.clearAllLocked()
		if deferred > c.localVersion {
			c.localVersion = deferred
		}
		return err
	}
	newVersion := version
	if deferred > newVersion {
		newVersion = deferred
	}
	if newVersion > c.localVersion {
		if newVersion > prevVersion+1 {
			// other nodes bumped in between, their changes may affect
			// entries we still hold
			c.clearAllLocked()
		}
		c.localVersion = newVersion
	}
	return nil
}

// InvalidateAll drops every cached relation and publishes the new destroy
// version.
func (c *Cache) InvalidateAll() error {
	c.lock.Lock()
	c.clearAllLocked()
	c.selfBumps++
	c.lock.Unlock()
	version, err := c.bus.BumpVersion()
	c.lock.Lock()
	defer c.lock.Unlock()
	c.selfBumps--
	if version > c.deferredVersion {
		c.deferredVersion = version
	}
	deferred := c.deferredVersion
	if c.selfBumps == 0 {
		c.deferredVersion = 0
	}
	// everything is already dropped, only the version needs to catch up
	if deferred > c.localVersion {
		c.localVersion = deferred
	}
	return err
}

// onDestroyVersion handles a version observed from the bus. Lagging behind
// means some other node destroyed something; which entry is unknown, so the
// whole cache is dropped.
func (c *Cache) onDestroyVersion(version int64) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if version <= c.localVersion {
		return
	}
	if c.selfBumps > 0 {
		if version > c.deferredVersion {
			c.deferredVersion = version
		}
		return
	}
	log.Debugf("catalog cache at destroy version %d saw version %d, clearing", c.localVersion, version)
	c.clearAllLocked()
	c.localVersion = version
}

func (c *Cache) clearAllLocked() {
	c.entries = map[string]*Relation{}
	c.epoch++
}

// CachedCount reports the number of cached relations.
func (c *Cache) CachedCount() int {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return len(c.entries)
}

// DestroyVersion reports the version this cache has caught up to.
func (c *Cache) DestroyVersion() int64 {
	c.lock.RLock()
	defer c.lock.RUnlock()
	return c.localVersion
}
