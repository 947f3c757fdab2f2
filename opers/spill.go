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

package opers

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"

	"github.com/flintdb/flint/common"
	"github.com/flintdb/flint/iteration"
	log "github.com/flintdb/flint/logger"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// Spill run file layout:
//
//	╭──────┬──────────╮
//	│format│numEntries│
//	├──────┼──────────┤
//	│1 byte│ 4 bytes  │
//	╰──────┴──────────╯
//	followed by key-value pairs with length prefixes, in key order:
//	╭─────────┬────────────────┬────────────┬──────────────────╮
//	│keyLength│ key            │ valueLength│ value            │
//	├─────────┼────────────────┼────────────┼──────────────────┤ ...
//	│4 bytes  │ keyLength bytes│ 4 bytes    │ valueLength bytes│
//	╰─────────┴────────────────┴────────────┴──────────────────╯
//
// numEntries is backfilled when the run is sealed. Runs are read strictly
// sequentially during the merge so no index is needed.

const spillRunFormatV1 = byte(1)

const spillRunHeaderSize = 5

type spillRunWriter struct {
	path       string
	file       *os.File
	writer     *bufio.Writer
	numEntries uint32
}

func newSpillRunWriter(dir string) (*spillRunWriter, error) {
	path := filepath.Join(dir, uuid.New().String()+".run")
	file, err := os.Create(path)
	if err != nil {
		return nil, errors.WithMessage(err, "failed to create spill run")
	}
	writer := bufio.NewWriter(file)
	if _, err := writer.Write([]byte{spillRunFormatV1, 0, 0, 0, 0}); err != nil {
		return nil, err
	}
	return &spillRunWriter{path: path, file: file, writer: writer}, nil
}

func (w *spillRunWriter) add(kv common.KV) error {
	var lenBuff [4]byte
	binary.LittleEndian.PutUint32(lenBuff[:], uint32(len(kv.Key)))
	if _, err := w.writer.Write(lenBuff[:]); err != nil {
		return err
	}
	if _, err := w.writer.Write(kv.Key); err != nil {
		return err
	}
	binary.LittleEndian.PutUint32(lenBuff[:], uint32(len(kv.Value)))
	if _, err := w.writer.Write(lenBuff[:]); err != nil {
		return err
	}
	if _, err := w.writer.Write(kv.Value); err != nil {
		return err
	}
	w.numEntries++
	return nil
}

// seal flushes the run and backfills the entry count.
func (w *spillRunWriter) seal() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	var countBuff [4]byte
	binary.LittleEndian.PutUint32(countBuff[:], w.numEntries)
	if _, err := w.file.WriteAt(countBuff[:], 1); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	return w.file.Close()
}

type spillRunIterator struct {
	path      string
	file      *os.File
	reader    *bufio.Reader
	remaining uint32
}

func newSpillRunIterator(path string) (*spillRunIterator, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.WithMessagef(err, "failed to open spill run %s", path)
	}
	var header [spillRunHeaderSize]byte
	if _, err := io.ReadFull(file, header[:]); err != nil {
		return nil, err
	}
	if header[0] != spillRunFormatV1 {
		return nil, errors.Errorf("unexpected spill run format %d", header[0])
	}
	return &spillRunIterator{
		path:      path,
		file:      file,
		reader:    bufio.NewReader(file),
		remaining: binary.LittleEndian.Uint32(header[1:]),
	}, nil
}

func (it *spillRunIterator) Next() (bool, common.KV, error) {
	if it.remaining == 0 {
		return false, common.KV{}, nil
	}
	key, err := it.readChunk()
	if err != nil {
		return false, common.KV{}, err
	}
	value, err := it.readChunk()
	if err != nil {
		return false, common.KV{}, err
	}
	it.remaining--
	return true, common.KV{Key: key, Value: value}, nil
}

func (it *spillRunIterator) readChunk() ([]byte, error) {
	var lenBuff [4]byte
	if _, err := io.ReadFull(it.reader, lenBuff[:]); err != nil {
		return nil, err
	}
	l := binary.LittleEndian.Uint32(lenBuff[:])
	buff := make([]byte, l)
	if _, err := io.ReadFull(it.reader, buff); err != nil {
		return nil, err
	}
	return buff, nil
}

func (it *spillRunIterator) Close() {
	if err := it.file.Close(); err != nil {
		log.Warnf("failed to close spill run %s: %v", it.path, err)
	}
	if err := os.Remove(it.path); err != nil {
		log.Warnf("failed to remove spill run %s: %v", it.path, err)
	}
}

var _ iteration.Iterator = (*spillRunIterator)(nil)
