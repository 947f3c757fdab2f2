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

package conf

import (
	"time"

	"github.com/flintdb/flint/common"
)

const (
	DefaultClusterName     = "flint_cluster"
	DefaultMetaCallTimeout = 5 * time.Second

	DefaultAggMaxMemBytes = 64 * 1024 * 1024

	DefaultKafkaMaxBatchSize = 1000
	DefaultKafkaMaxBatchWait = 500 * time.Millisecond
)

var DefaultMetaAddresses = []string{"localhost:2379"}

// Config fields are pointers so an unset field can be told apart from a zero
// value, both when parsed from flags and from an HCL config file.
type Config struct {
	NodeID      *int
	ClusterName *string

	// Metadata store config. When clustered-meta is false the node runs with
	// in-process metadata and no etcd, for development and tests.
	ClusteredMeta   *bool         `name:"clustered-meta"`
	MetaAddresses   []string      `name:"meta-addresses"`
	MetaCallTimeout *time.Duration

	CaseSensitiveNames *bool

	// Aggregation config
	AggMaxMemBytes *int64
	AggSpillDir    *string

	// Kafka ingest config. Ingest is enabled by setting a topic.
	KafkaBrokers      []string `name:"kafka-brokers"`
	KafkaTopic        *string  `name:"kafka-topic"`
	KafkaGroupID      *string  `name:"kafka-group-id"`
	KafkaSinkDatabase *string  `name:"kafka-sink-database"`
	KafkaSinkTable    *string  `name:"kafka-sink-table"`
	KafkaMaxBatchSize *int
	KafkaMaxBatchWait *time.Duration
}

func (c *Config) ApplyDefaults() {
	if c.NodeID == nil {
		c.NodeID = common.AddressOf(0)
	}
	if c.ClusterName == nil {
		c.ClusterName = common.AddressOf(DefaultClusterName)
	}
	if c.ClusteredMeta == nil {
		c.ClusteredMeta = common.AddressOf(false)
	}
	if len(c.MetaAddresses) == 0 {
		c.MetaAddresses = DefaultMetaAddresses
	}
	if c.MetaCallTimeout == nil {
		c.MetaCallTimeout = common.AddressOf(DefaultMetaCallTimeout)
	}
	if c.CaseSensitiveNames == nil {
		c.CaseSensitiveNames = common.AddressOf(false)
	}
	if c.AggMaxMemBytes == nil {
		c.AggMaxMemBytes = common.AddressOf(int64(DefaultAggMaxMemBytes))
	}
	if c.AggSpillDir == nil {
		c.AggSpillDir = common.AddressOf("")
	}
	if c.KafkaGroupID == nil {
		c.KafkaGroupID = common.AddressOf("flint-sink")
	}
	if c.KafkaMaxBatchSize == nil {
		c.KafkaMaxBatchSize = common.AddressOf(DefaultKafkaMaxBatchSize)
	}
	if c.KafkaMaxBatchWait == nil {
		c.KafkaMaxBatchWait = common.AddressOf(DefaultKafkaMaxBatchWait)
	}
}

func (c *Config) Validate() error {
	if *c.NodeID < 0 {
		return common.NewInvalidConfigurationError("node-id must be >= 0")
	}
	if *c.ClusterName == "" {
		return common.NewInvalidConfigurationError("cluster-name must not be empty")
	}
	if *c.ClusteredMeta && len(c.MetaAddresses) == 0 {
		return common.NewInvalidConfigurationError("meta-addresses must be specified when clustered-meta is true")
	}
	if *c.MetaCallTimeout <= 0 {
		return common.NewInvalidConfigurationError("meta-call-timeout must be > 0")
	}
	if *c.AggMaxMemBytes < 0 {
		return common.NewInvalidConfigurationError("agg-max-mem-bytes must be >= 0")
	}
	if c.KafkaTopic != nil {
		if len(c.KafkaBrokers) == 0 {
			return common.NewInvalidConfigurationError("kafka-brokers must be specified when kafka-topic is set")
		}
		if c.KafkaSinkDatabase == nil || c.KafkaSinkTable == nil {
			return common.NewInvalidConfigurationError("kafka-sink-database and kafka-sink-table must be specified when kafka-topic is set")
		}
		if *c.KafkaMaxBatchSize <= 0 {
			return common.NewInvalidConfigurationError("kafka-max-batch-size must be > 0")
		}
		if *c.KafkaMaxBatchWait <= 0 {
			return common.NewInvalidConfigurationError("kafka-max-batch-wait must be > 0")
		}
	}
	return nil
}
