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
	"strings"
	"sync"

	"github.com/flintdb/flint/common"
	log "github.com/flintdb/flint/logger"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// SessionFactory opens a fresh session to the metadata store.
type SessionFactory func() (Session, error)

// Client wraps a Session with reconnect handling. When a call fails in a way
// that suggests the session is dead - closed connection, store unavailable,
// expired lease - the client closes the session, opens a new one and retries
// the call exactly once. Further failures surface as CatalogUnavailable so
// callers can give up or back off themselves; unbounded internal retry would
// stall every caller behind a dead metadata store.
//
// Errors carrying a catalog error code pass through untouched, they describe
// the outcome of the call, not the health of the session.
type Client struct {
	lock    sync.Mutex
	factory SessionFactory
	session Session
}

func NewClient(factory SessionFactory) *Client {
	return &Client{factory: factory}
}

func (c *Client) getSession() (Session, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.session != nil {
		return c.session, nil
	}
	session, err := c.factory()
	if err != nil {
		return nil, common.NewFlintErrorf(common.CatalogUnavailable,
			"cannot connect to metadata store: %v", err)
	}
	c.session = session
	return session, nil
}

// discardSession closes and drops the session, but only if it is still the
// one the failed call used. Concurrent callers may already have replaced it.
func (c *Client) discardSession(session Session) {
	c.lock.Lock()
	if c.session != session {
		c.lock.Unlock()
		return
	}
	c.session = nil
	c.lock.Unlock()
	if err := session.Close(); err != nil {
		log.Debugf("error closing broken metadata session: %v", err)
	}
}

func (c *Client) Close() error {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

// callWithReconnect runs action against the current session, replacing the
// session and retrying once if the failure looks like a dead session.
func callWithReconnect[R any](c *Client, action func(session Session) (R, error)) (R, error) {
	var zero R
	session, err := c.getSession()
	if err != nil {
		return zero, err
	}
	r, err := action(session)
	if err == nil {
		return r, nil
	}
	if common.IsFatalError(err) {
		return zero, err
	}
	if !isSessionError(err) {
		return zero, maybeWrapCatalogError(err)
	}
	log.Warnf("metadata store call failed, reconnecting: %v", err)
	c.discardSession(session)
	session, err = c.getSession()
	if err != nil {
		return zero, err
	}
	r, err = action(session)
	if err == nil {
		return r, nil
	}
	if common.IsFatalError(err) {
		return zero, err
	}
	if isSessionError(err) {
		c.discardSession(session)
		return zero, common.NewFlintErrorf(common.CatalogUnavailable,
			"metadata store unavailable: %v", err)
	}
	return zero, maybeWrapCatalogError(err)
}

func callWithReconnectNoResult(c *Client, action func(session Session) error) error {
	_, err := callWithReconnect(c, func(session Session) (struct{}, error) {
		return struct{}{}, action(session)
	})
	return err
}

// isSessionError classifies an error as a broken session rather than a
// result of the call.
func isSessionError(err error) bool {
	var ferr common.FlintError
	if errors.As(err, &ferr) {
		// already classified by the session layer
		return ferr.Code == common.CatalogUnavailable
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if e, ok := status.FromError(err); ok {
		if e.Code() == codes.Unavailable || e.Code() == codes.Canceled || e.Code() == codes.DeadlineExceeded {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, fragment := range []string{
		"closed",
		"connection refused",
		"connection reset",
		"broken pipe",
		"lease expired",
		"unavailable",
	} {
		if strings.Contains(msg, fragment) {
			return true
		}
	}
	return false
}

func maybeWrapCatalogError(err error) error {
	var ferr common.FlintError
	if errors.As(err, &ferr) {
		return err
	}
	return common.NewFlintErrorf(common.CatalogError, "metadata store error: %v", err)
}

func (c *Client) CreateDatabase(desc *DatabaseDesc) error {
	return callWithReconnectNoResult(c, func(session Session) error {
		return session.CreateDatabase(desc)
	})
}

func (c *Client) GetDatabase(dbName string) (*DatabaseDesc, bool, error) {
	type result struct {
		desc   *DatabaseDesc
		exists bool
	}
	r, err := callWithReconnect(c, func(session Session) (result, error) {
		desc, exists, err := session.GetDatabase(dbName)
		return result{desc: desc, exists: exists}, err
	})
	return r.desc, r.exists, err
}

func (c *Client) ListDatabases() ([]*DatabaseDesc, error) {
	return callWithReconnect(c, func(session Session) ([]*DatabaseDesc, error) {
		return session.ListDatabases()
	})
}

func (c *Client) DropDatabase(dbName string) error {
	return callWithReconnectNoResult(c, func(session Session) error {
		return session.DropDatabase(dbName)
	})
}

func (c *Client) CreateTable(desc *TableDesc) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	return callWithReconnectNoResult(c, func(session Session) error {
		return session.CreateTable(desc)
	})
}

func (c *Client) AlterTable(desc *TableDesc) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	return callWithReconnectNoResult(c, func(session Session) error {
		return session.AlterTable(desc)
	})
}

// GetTableOption reads one option from a table descriptor, reporting whether
// the option is set. A missing table is a TableNotFound error.
func (c *Client) GetTableOption(dbName string, tableName string, option string) (string, bool, error) {
	desc, exists, err := c.GetTable(dbName, tableName)
	if err != nil {
		return "", false, err
	}
	if !exists {
		return "", false, common.NewTableNotFoundError(dbName, tableName)
	}
	value, ok := desc.Options[option]
	return value, ok, nil
}

func (c *Client) GetTable(dbName string, tableName string) (*TableDesc, bool, error) {
	type result struct {
		desc   *TableDesc
		exists bool
	}
	r, err := callWithReconnect(c, func(session Session) (result, error) {
		desc, exists, err := session.GetTable(dbName, tableName)
		return result{desc: desc, exists: exists}, err
	})
	return r.desc, r.exists, err
}

func (c *Client) ListTables(dbName string) ([]*TableDesc, error) {
	return callWithReconnect(c, func(session Session) ([]*TableDesc, error) {
		return session.ListTables(dbName)
	})
}

func (c *Client) DropTable(dbName string, tableName string) error {
	return callWithReconnectNoResult(c, func(session Session) error {
		return session.DropTable(dbName, tableName)
	})
}

func (c *Client) PutPolicy(desc *PolicyDesc) error {
	if err := desc.Validate(); err != nil {
		return err
	}
	return callWithReconnectNoResult(c, func(session Session) error {
		return session.PutPolicy(desc)
	})
}

func (c *Client) GetPolicy(dbName string, tableName string, policyName string) (*PolicyDesc, bool, error) {
	type result struct {
		desc   *PolicyDesc
		exists bool
	}
	r, err := callWithReconnect(c, func(session Session) (result, error) {
		desc, exists, err := session.GetPolicy(dbName, tableName, policyName)
		return result{desc: desc, exists: exists}, err
	})
	return r.desc, r.exists, err
}

func (c *Client) ListPolicies(dbName string, tableName string) ([]*PolicyDesc, error) {
	return callWithReconnect(c, func(session Session) ([]*PolicyDesc, error) {
		return session.ListPolicies(dbName, tableName)
	})
}

func (c *Client) DropPolicy(dbName string, tableName string, policyName string) error {
	return callWithReconnectNoResult(c, func(session Session) error {
		return session.DropPolicy(dbName, tableName, policyName)
	})
}
