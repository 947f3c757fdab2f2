package iteration

import (
	"github.com/flintdb/flint/common"
)

type Iterator interface {
	Next() (bool, common.KV, error)
	Close()
}

type EmptyIterator struct {
}

func (e EmptyIterator) Next() (bool, common.KV, error) {
	return false, common.KV{}, nil
}

func (e EmptyIterator) Close() {
}

// StaticIterator iterates over an in-memory slice of KVs, which must already
// be sorted by key.
type StaticIterator struct {
	kvs []common.KV
	pos int
}

func NewStaticIterator(kvs []common.KV) *StaticIterator {
	return &StaticIterator{kvs: kvs}
}

func (s *StaticIterator) Next() (bool, common.KV, error) {
	if s.pos >= len(s.kvs) {
		return false, common.KV{}, nil
	}
	kv := s.kvs[s.pos]
	s.pos++
	return true, kv, nil
}

func (s *StaticIterator) Close() {
}
