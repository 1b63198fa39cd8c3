// Package kv defines the key-value backend the metadata store is layered on.
//
// Implementations must apply a Batch all-or-nothing, durably on success,
// even across a process crash, and PrefixScan must observe every key
// present when the scan starts.
package kv

import (
	"go-metastore/util/helpers"
)

type Backend interface {
	// Get returns the value stored under key. A missing key is reported
	// with found=false and a nil error.
	Get(key []byte) (value []byte, found bool, err error)

	// PrefixScan returns every pair whose key starts with prefix, in
	// backend order.
	PrefixScan(prefix []byte) ([]Pair, error)

	// ApplyBatch applies every operation of b atomically.
	ApplyBatch(b *Batch) error

	Close() error
}

type Pair struct {
	Key   []byte
	Value []byte
}

type OpType uint8

const (
	OpPut OpType = iota
	OpDelete
)

func (t OpType) String() string {
	if t == OpDelete {
		return "delete"
	}
	return "put"
}

type Op struct {
	Type  OpType
	Key   []byte
	Value []byte
}

// Batch is an ordered list of mutations. Later operations on a key win.
// Keys and values are copied on insertion.
type Batch struct {
	ops []Op
}

func NewBatch() *Batch {
	return &Batch{}
}

func (b *Batch) Put(key, value []byte) {
	if value == nil {
		value = []byte{}
	}
	b.ops = append(b.ops, Op{Type: OpPut, Key: helpers.CopyBytes(key), Value: helpers.CopyBytes(value)})
}

func (b *Batch) Delete(key []byte) {
	b.ops = append(b.ops, Op{Type: OpDelete, Key: helpers.CopyBytes(key)})
}

func (b *Batch) Len() int {
	return len(b.ops)
}

func (b *Batch) Ops() []Op {
	return b.ops
}

func (b *Batch) Reset() {
	b.ops = nil
}

// PrefixEnd returns the smallest key greater than every key starting with
// prefix, or nil if there is none.
func PrefixEnd(prefix []byte) []byte {
	end := helpers.CopyBytes(prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
