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

package iteration

import (
	"bytes"

	"github.com/flintdb/flint/common"
)

// ResolveFunc combines the values of entries sharing the same key across
// merged iterators. It must be associative and commutative with respect to
// the order runs were produced in.
type ResolveFunc func(key []byte, values [][]byte) ([]byte, error)

// MergingIterator merges k child iterators, each already sorted by key with
// unique keys per child, into a single key-ordered stream. When the same key
// appears in more than one child the values are combined with the resolver.
type MergingIterator struct {
	iters     []Iterator
	iterHeads []*common.KV // latest Next() value not yet consumed, per child
	resolver  ResolveFunc
}

func NewMergingIterator(iters []Iterator, resolver ResolveFunc) *MergingIterator {
	return &MergingIterator{
		iters:     iters,
		iterHeads: make([]*common.KV, len(iters)),
		resolver:  resolver,
	}
}

func (m *MergingIterator) Next() (bool, common.KV, error) {
	// Find the smallest key over all the child heads
	var chosenKey []byte
	for i, iter := range m.iters {
		valid, kv, err := m.readIterHeadOrNext(i, iter)
		if err != nil {
			return false, common.KV{}, err
		}
		if !valid {
			continue
		}
		if chosenKey == nil || bytes.Compare(kv.Key, chosenKey) < 0 {
			chosenKey = kv.Key
		}
	}
	if chosenKey == nil {
		return false, common.KV{}, nil
	}
	// Consume every head carrying the chosen key, collecting values to resolve
	var values [][]byte
	for i, head := range m.iterHeads {
		if head != nil && bytes.Equal(head.Key, chosenKey) {
			values = append(values, head.Value)
			m.iterHeads[i] = nil
		}
	}
	if len(values) == 1 {
		return true, common.KV{Key: chosenKey, Value: values[0]}, nil
	}
	resolved, err := m.resolver(chosenKey, values)
	if err != nil {
		return false, common.KV{}, err
	}
	return true, common.KV{Key: chosenKey, Value: resolved}, nil
}

func (m *MergingIterator) readIterHeadOrNext(index int, iter Iterator) (bool, common.KV, error) {
	head := m.iterHeads[index]
	if head != nil {
		return true, *head, nil
	}
	valid, kv, err := iter.Next()
	if err != nil || !valid {
		return valid, common.KV{}, err
	}
	m.iterHeads[index] = &kv
	return true, kv, nil
}

func (m *MergingIterator) Close() {
	for _, iter := range m.iters {
		iter.Close()
	}
}
