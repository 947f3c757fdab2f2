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

package sink

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/flintdb/flint/common"
	log "github.com/flintdb/flint/logger"
	"github.com/flintdb/flint/rows"
	"github.com/flintdb/flint/types"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"
)

type KafkaIngestConfig struct {
	Brokers      []string
	Topic        string
	GroupID      string
	MaxBatchSize int
	MaxBatchWait time.Duration
}

// KafkaIngest reads change events from a Kafka topic and feeds them to a
// Sink in micro batches. Offsets are committed only after the batch has been
// applied, so delivery is at least once and the sink's duplicate handling
// covers redelivery after a crash.
//
// Batches are split by partition before they reach the sink: the stream
// query id is topic/partition and the batch id is the last offset in the
// batch, which makes the (query, batch) pair deterministic under replay.
type KafkaIngest struct {
	cfg    KafkaIngestConfig
	sink   *Sink
	reader *kafka.Reader
}

func NewKafkaIngest(cfg KafkaIngestConfig, s *Sink) *KafkaIngest {
	if cfg.MaxBatchSize == 0 {
		cfg.MaxBatchSize = 1000
	}
	if cfg.MaxBatchWait == 0 {
		cfg.MaxBatchWait = 500 * time.Millisecond
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers: cfg.Brokers,
		Topic:   cfg.Topic,
		GroupID: cfg.GroupID,
	})
	return &KafkaIngest{cfg: cfg, sink: s, reader: reader}
}

// Run consumes until ctx is cancelled.
func (k *KafkaIngest) Run(ctx context.Context) error {
	defer func() {
		if err := k.reader.Close(); err != nil {
			log.Warnf("failed to close kafka reader: %v", err)
		}
	}()
	for {
		msgs, err := k.fetchBatch(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}
		if len(msgs) == 0 {
			continue
		}
		if err := k.applyBatch(ctx, msgs); err != nil {
			return err
		}
		if err := k.reader.CommitMessages(ctx, msgs...); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return errors.WithMessage(err, "failed to commit kafka offsets")
		}
	}
}

// fetchBatch blocks for the first message, then keeps reading until the
// batch is full or the batch wait elapses.
func (k *KafkaIngest) fetchBatch(ctx context.Context) ([]kafka.Message, error) {
	first, err := k.reader.FetchMessage(ctx)
	if err != nil {
		return nil, err
	}
	msgs := []kafka.Message{first}
	deadline, cancel := context.WithTimeout(ctx, k.cfg.MaxBatchWait)
	defer cancel()
	for len(msgs) < k.cfg.MaxBatchSize {
		msg, err := k.reader.FetchMessage(deadline)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				break
			}
			return nil, err
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

func (k *KafkaIngest) applyBatch(ctx context.Context, msgs []kafka.Message) error {
	byPartition := map[int][]kafka.Message{}
	for _, msg := range msgs {
		byPartition[msg.Partition] = append(byPartition[msg.Partition], msg)
	}
	g, _ := errgroup.WithContext(ctx)
	for partition, partMsgs := range byPartition {
		partition, partMsgs := partition, partMsgs
		g.Go(func() error {
			events := make([]Event, len(partMsgs))
			for i, msg := range partMsgs {
				event, err := decodeEvent(msg.Value, k.sink.relation.Schema)
				if err != nil {
					return errors.WithMessagef(err, "bad event at %s/%d offset %d",
						k.cfg.Topic, partition, msg.Offset)
				}
				events[i] = event
			}
			streamQueryID := fmt.Sprintf("%s/%d", k.cfg.Topic, partition)
			batchID := partMsgs[len(partMsgs)-1].Offset
			return k.sink.AddBatch(streamQueryID, batchID, events)
		})
	}
	return g.Wait()
}

type wireEvent struct {
	Tag int   `json:"tag"`
	Row []any `json:"row"`
}

// decodeEvent parses one JSON change event and coerces the row values to the
// target schema's types.
func decodeEvent(payload []byte, schema *rows.Schema) (Event, error) {
	var we wireEvent
	if err := json.Unmarshal(payload, &we); err != nil {
		return Event{}, errors.WithMessage(err, "invalid event json")
	}
	if we.Tag != EventInsert && we.Tag != EventUpdate && we.Tag != EventDelete {
		return Event{}, errors.Errorf("unknown event tag %d", we.Tag)
	}
	if len(we.Row) != schema.ColumnCount() {
		return Event{}, errors.Errorf("event row has %d values, table has %d columns",
			len(we.Row), schema.ColumnCount())
	}
	row := make(rows.Row, len(we.Row))
	for i, val := range we.Row {
		coerced, err := coerceValue(val, schema.ColumnTypes()[i])
		if err != nil {
			return Event{}, errors.WithMessagef(err, "column %s", schema.ColumnNames()[i])
		}
		row[i] = coerced
	}
	return Event{Tag: we.Tag, Row: row}, nil
}

func coerceValue(val any, colType types.ColumnType) (any, error) {
	if val == nil {
		return nil, nil
	}
	switch colType.ID() {
	case types.ColumnTypeIDInt:
		f, ok := val.(float64)
		if !ok {
			return nil, errors.Errorf("'%v' is not an int", val)
		}
		return int64(f), nil
	case types.ColumnTypeIDFloat:
		f, ok := val.(float64)
		if !ok {
			return nil, errors.Errorf("'%v' is not a float", val)
		}
		return f, nil
	case types.ColumnTypeIDBool:
		b, ok := val.(bool)
		if !ok {
			return nil, errors.Errorf("'%v' is not a bool", val)
		}
		return b, nil
	case types.ColumnTypeIDString:
		s, ok := val.(string)
		if !ok {
			return nil, errors.Errorf("'%v' is not a string", val)
		}
		return s, nil
	case types.ColumnTypeIDBytes:
		s, ok := val.(string)
		if !ok {
			return nil, errors.Errorf("'%v' is not a base64 string", val)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, errors.WithMessage(err, "invalid base64")
		}
		return b, nil
	case types.ColumnTypeIDTimestamp:
		f, ok := val.(float64)
		if !ok {
			return nil, errors.Errorf("'%v' is not a timestamp", val)
		}
		return types.NewTimestamp(int64(f)), nil
	case types.ColumnTypeIDDecimal:
		s, ok := val.(string)
		if !ok {
			return nil, errors.Errorf("decimal value must be a string, got '%v'", val)
		}
		decType := colType.(*types.DecimalType)
		return types.NewDecimalFromString(s, decType.Precision, decType.Scale)
	default:
		return nil, common.NewFlintErrorf(common.InternalError, "unknown column type %d", colType.ID())
	}
}
