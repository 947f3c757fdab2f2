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

// Package cluster propagates the catalog destroy version between the nodes
// of a cluster. Every destructive catalog change (drop or alter of a table,
// database or policy) bumps the version, and every node's catalog cache
// subscribes to the bus to learn it must refresh.
package cluster

import (
	"context"
	"strconv"
	"sync"
	"time"

	log "github.com/flintdb/flint/logger"
	"github.com/pkg/errors"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

// VersionListener is called with the cluster wide destroy version. Listeners
// may be called concurrently and with stale versions, they must treat the
// version as a high-water mark.
type VersionListener func(version int64)

type Bus interface {
	Start() error
	Stop() error
	// BumpVersion atomically increments the destroy version and publishes it
	// to all nodes, including this one. Returns the new version.
	BumpVersion() (int64, error)
	// BroadcastVersion publishes a version to all nodes, including this one.
	// Versions at or below the published maximum are dropped.
	BroadcastVersion(version int64) error
	Subscribe(listener VersionListener)
}

// LocalBus is an in-process bus for single node deployments and tests.
type LocalBus struct {
	lock      sync.Mutex
	listeners []VersionListener
	maxSeen   int64
}

func NewLocalBus() *LocalBus {
	return &LocalBus{}
}

func (l *LocalBus) Start() error {
	return nil
}

func (l *LocalBus) Stop() error {
	return nil
}

func (l *LocalBus) Subscribe(listener VersionListener) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.listeners = append(l.listeners, listener)
}

func (l *LocalBus) BumpVersion() (int64, error) {
	l.lock.Lock()
	l.maxSeen++
	version := l.maxSeen
	listeners := make([]VersionListener, len(l.listeners))
	copy(listeners, l.listeners)
	l.lock.Unlock()
	for _, listener := range listeners {
		listener(version)
	}
	return version, nil
}

func (l *LocalBus) BroadcastVersion(version int64) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	if version <= l.maxSeen {
		return nil
	}
	l.maxSeen = version
	for _, listener := range l.listeners {
		listener(version)
	}
	return nil
}

// EtcdBus propagates the destroy version through a single etcd key, one per
// cluster name. The version is published with a plain put and every node
// watches the key.
type EtcdBus struct {
	lock        sync.Mutex
	clusterName string
	endpoints   []string
	callTimeout time.Duration
	cli         *clientv3.Client
	clientCtx   context.Context
	cancelFunc  context.CancelFunc
	stopWg      sync.WaitGroup
	listeners   []VersionListener
	maxSeen     int64
	started     bool
	stopped     bool
}

func NewEtcdBus(clusterName string, endpoints []string, callTimeout time.Duration) *EtcdBus {
	return &EtcdBus{
		clusterName: clusterName,
		endpoints:   endpoints,
		callTimeout: callTimeout,
	}
}

func (e *EtcdBus) versionKey() string {
	return "flint/" + e.clusterName + "/catalog/destroy_version"
}

func (e *EtcdBus) Start() error {
	e.lock.Lock()
	defer e.lock.Unlock()
	if e.started {
		panic("bus already started")
	}
	if e.stopped {
		panic("cannot be restarted")
	}
	// The etcd client noisily logs stuff, we suppress this
	etcdLogger := log.CreateLogger(zap.ErrorLevel, "console")
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   e.endpoints,
		DialTimeout: 5 * time.Second,
		Logger:      etcdLogger,
	})
	if err != nil {
		return err
	}
	e.cli = cli
	e.clientCtx, e.cancelFunc = context.WithCancel(context.Background())

	// Get the initial version and watch for changes from there
	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	getResp, err := cli.Get(ctx, e.versionKey())
	cancel()
	if err != nil {
		return errors.WithMessage(err, "failed to read catalog destroy version")
	}
	if len(getResp.Kvs) > 0 {
		version, err := parseVersion(getResp.Kvs[0].Value)
		if err != nil {
			return err
		}
		e.maxSeen = version
	}
	watchCh := cli.Watch(e.clientCtx, e.versionKey(), clientv3.WithRev(getResp.Header.Revision+1))
	e.stopWg.Add(1)
	go func() {
		defer e.stopWg.Done()
		e.watchLoop(watchCh)
	}()
	e.started = true
	return nil
}

func (e *EtcdBus) Stop() error {
	e.lock.Lock()
	if e.stopped {
		e.lock.Unlock()
		return nil
	}
	e.stopped = true
	e.cancelFunc()
	cli := e.cli
	e.lock.Unlock()
	e.stopWg.Wait()
	return cli.Close()
}

func (e *EtcdBus) Subscribe(listener VersionListener) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.listeners = append(e.listeners, listener)
}

// BumpVersion increments the version key with a compare and swap loop so
// concurrent bumps from different nodes never produce the same version.
func (e *EtcdBus) BumpVersion() (int64, error) {
	for {
		ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
		getResp, err := e.cli.Get(ctx, e.versionKey())
		cancel()
		if err != nil {
			return 0, errors.WithMessage(err, "failed to read catalog destroy version")
		}
		var current int64
		cmp := clientv3.Compare(clientv3.CreateRevision(e.versionKey()), "=", 0)
		if len(getResp.Kvs) > 0 {
			current, err = parseVersion(getResp.Kvs[0].Value)
			if err != nil {
				return 0, err
			}
			cmp = clientv3.Compare(clientv3.ModRevision(e.versionKey()), "=", getResp.Kvs[0].ModRevision)
		}
		next := current + 1
		ctx, cancel = context.WithTimeout(context.Background(), e.callTimeout)
		txnResp, err := e.cli.Txn(ctx).
			If(cmp).
			Then(clientv3.OpPut(e.versionKey(), strconv.FormatInt(next, 10))).
			Commit()
		cancel()
		if err != nil {
			return 0, errors.WithMessage(err, "failed to bump catalog destroy version")
		}
		if txnResp.Succeeded {
			return next, nil
		}
		// lost the race, re-read and try again
	}
}

func (e *EtcdBus) BroadcastVersion(version int64) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.callTimeout)
	defer cancel()
	_, err := e.cli.Put(ctx, e.versionKey(), strconv.FormatInt(version, 10))
	return errors.WithMessage(err, "failed to broadcast catalog destroy version")
}

func (e *EtcdBus) watchLoop(watchCh clientv3.WatchChan) {
	for watchResp := range watchCh {
		if watchResp.Canceled {
			return
		}
		for _, event := range watchResp.Events {
			if event.Type != clientv3.EventTypePut {
				continue
			}
			version, err := parseVersion(event.Kv.Value)
			if err != nil {
				log.Warnf("ignoring invalid catalog destroy version: %v", err)
				continue
			}
			e.deliver(version)
		}
	}
}

// deliver notifies listeners, dropping versions at or below the max already
// seen so out of order watch events cannot move the version backwards.
func (e *EtcdBus) deliver(version int64) {
	e.lock.Lock()
	if version <= e.maxSeen {
		e.lock.Unlock()
		return
	}
	e.maxSeen = version
	listeners := make([]VersionListener, len(e.listeners))
	copy(listeners, e.listeners)
	e.lock.Unlock()
	for _, listener := range listeners {
		listener(version)
	}
}

func parseVersion(value []byte) (int64, error) {
	version, err := strconv.ParseInt(string(value), 10, 64)
	if err != nil {
		return 0, errors.Errorf("invalid catalog destroy version '%s'", string(value))
	}
	return version, nil
}
