package collections

import (
	"math"

	"github.com/axrengine/axrmem/allocator"
	"github.com/cockroachdb/errors"
)

// Handle identifies a List node. It is the node's chunk index in the pool.
type Handle uint32

const nullHandle Handle = math.MaxUint32

// ErrListFull is returned by PushFront when the list has reached its limit.
var ErrListFull = errors.New("collections: list is full")

// ListNode is the pool element type backing a List.
type ListNode struct {
	next Handle
	prev Handle
	key  uint64
}

// List is an intrusive doubly linked list of keys, most recently pushed first.
// Nodes live in a Pool[ListNode] and link to each other by chunk index.
type List struct {
	pool  *allocator.Pool[ListNode]
	limit int

	head Handle
	tail Handle
	size int
}

// NewList creates an empty list that holds at most limit keys.
func NewList(pool *allocator.Pool[ListNode], limit int) *List {
	return &List{
		pool:  pool,
		limit: limit,

		head: nullHandle,
		tail: nullHandle,
	}
}

func (l *List) node(h Handle) *ListNode {
	return l.pool.At(int(h))
}

// Keys returns the keys from front to back.
func (l *List) Keys() []uint64 {
	var result []uint64
	for h := l.head; h != nullHandle; {
		n := l.node(h)
		result = append(result, n.key)
		h = n.next
	}
	return result
}

// PushFront inserts key at the front.
func (l *List) PushFront(key uint64) (Handle, error) {
	if l.size >= l.limit {
		return 0, errors.Wrapf(ErrListFull, "limit %d", l.limit)
	}

	n, err := l.pool.Allocate()
	if err != nil {
		return 0, err
	}
	index, _ := l.pool.Index(n)
	h := Handle(index)

	n.key = key
	l.linkFront(h, n)
	l.size++
	return h, nil
}

// Back returns the least recently pushed or moved node.
func (l *List) Back() (Handle, uint64, bool) {
	if l.tail == nullHandle {
		return 0, 0, false
	}
	return l.tail, l.node(l.tail).key, true
}

// Key ...
func (l *List) Key(h Handle) uint64 {
	return l.node(h).key
}

// Remove unlinks h and returns its node to the pool.
func (l *List) Remove(h Handle) {
	n := l.node(h)
	l.unlink(n)
	l.pool.Deallocate(n)
	l.size--
}

// MoveToFront ...
func (l *List) MoveToFront(h Handle) {
	if l.head == h {
		return
	}
	n := l.node(h)
	l.unlink(n)
	l.linkFront(h, n)
}

func (l *List) unlink(n *ListNode) {
	if n.next != nullHandle {
		l.node(n.next).prev = n.prev
	} else {
		l.tail = n.prev
	}

	if n.prev != nullHandle {
		l.node(n.prev).next = n.next
	} else {
		l.head = n.next
	}
}

func (l *List) linkFront(h Handle, n *ListNode) {
	if l.head != nullHandle {
		l.node(l.head).prev = h
	} else {
		l.tail = h
	}

	n.next = l.head
	n.prev = nullHandle
	l.head = h
}

// Len ...
func (l *List) Len() int {
	return l.size
}

// Limit ...
func (l *List) Limit() int {
	return l.limit
}

// SetLimit changes the limit. Existing nodes are kept.
func (l *List) SetLimit(limit int) {
	l.limit = limit
}
