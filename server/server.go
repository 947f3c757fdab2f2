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

package server

import (
	"context"
	"sync"

	"github.com/flintdb/flint/catalog"
	"github.com/flintdb/flint/cluster"
	"github.com/flintdb/flint/conf"
	log "github.com/flintdb/flint/logger"
	"github.com/flintdb/flint/metastore"
	"github.com/flintdb/flint/sink"
	"github.com/flintdb/flint/table"
	"github.com/pkg/errors"
)

// Server assembles one node: the destroy version bus, the metadata client,
// the local table store, the catalog cache and, when configured, the Kafka
// ingest.
type Server struct {
	lock         sync.Mutex
	cfg          conf.Config
	bus          cluster.Bus
	meta         *metastore.Client
	store        *table.Store
	catalogCache *catalog.Cache
	ingest       *sink.KafkaIngest
	ingestCancel context.CancelFunc
	ingestWg     sync.WaitGroup
	started      bool
}

func NewServer(cfg conf.Config) (*Server, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Server{cfg: cfg}, nil
}

func (s *Server) Start() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.started {
		return nil
	}
	cfg := &s.cfg

	if *cfg.ClusteredMeta {
		s.bus = cluster.NewEtcdBus(*cfg.ClusterName, cfg.MetaAddresses, *cfg.MetaCallTimeout)
		s.meta = metastore.NewClient(func() (metastore.Session, error) {
			sess, err := metastore.NewEtcdSession(*cfg.ClusterName, cfg.MetaAddresses, *cfg.MetaCallTimeout)
			if err != nil {
				return nil, err
			}
			return sess, nil
		})
	} else {
		s.bus = cluster.NewLocalBus()
		session := metastore.NewInMemSession()
		s.meta = metastore.NewClient(func() (metastore.Session, error) {
			return session, nil
		})
	}
	if err := s.bus.Start(); err != nil {
		return errors.WithMessage(err, "failed to start cluster bus")
	}

	s.store = table.NewStore()
	s.catalogCache = catalog.NewCache(s.meta, catalog.NewStoreProvider(s.store), s.bus,
		*cfg.CaseSensitiveNames)

	if cfg.KafkaTopic != nil {
		if err := s.startIngest(); err != nil {
			return err
		}
	}
	s.started = true
	log.Infof("flint server started, node %d, cluster %s", *cfg.NodeID, *cfg.ClusterName)
	return nil
}

func (s *Server) startIngest() error {
	cfg := &s.cfg
	relation, err := s.catalogCache.Resolve(*cfg.KafkaSinkDatabase, *cfg.KafkaSinkTable)
	if err != nil {
		return errors.WithMessagef(err, "cannot resolve kafka sink target %s.%s",
			*cfg.KafkaSinkDatabase, *cfg.KafkaSinkTable)
	}
	snk, err := sink.NewSink(relation, s.store)
	if err != nil {
		return err
	}
	s.ingest = sink.NewKafkaIngest(sink.KafkaIngestConfig{
		Brokers:      cfg.KafkaBrokers,
		Topic:        *cfg.KafkaTopic,
		GroupID:      *cfg.KafkaGroupID,
		MaxBatchSize: *cfg.KafkaMaxBatchSize,
		MaxBatchWait: *cfg.KafkaMaxBatchWait,
	}, snk)
	ctx, cancel := context.WithCancel(context.Background())
	s.ingestCancel = cancel
	s.ingestWg.Add(1)
	go func() {
		defer s.ingestWg.Done()
		if err := s.ingest.Run(ctx); err != nil {
			log.Errorf("kafka ingest stopped: %v", err)
		}
	}()
	return nil
}

func (s *Server) Stop() error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if !s.started {
		return nil
	}
	if s.ingestCancel != nil {
		s.ingestCancel()
		s.ingestWg.Wait()
	}
	if err := s.meta.Close(); err != nil {
		log.Warnf("failed to close metadata client: %v", err)
	}
	if err := s.bus.Stop(); err != nil {
		log.Warnf("failed to stop cluster bus: %v", err)
	}
	s.started = false
	log.Infof("flint server stopped")
	return nil
}

// Catalog is this node's catalog cache.
func (s *Server) Catalog() *catalog.Cache {
	return s.catalogCache
}

// Meta is the client to the cluster metadata store.
func (s *Server) Meta() *metastore.Client {
	return s.meta
}

// Store holds the table data hosted by this node.
func (s *Server) Store() *table.Store {
	return s.store
}
