// Package armor holds suit parts in a stack of individually lockable nodes.
//
// A List handle points at the newest node; every node links to the next older
// one and that link never changes after the node is built. Clones share nodes
// with the list they were taken from, so a write made through one handle is
// visible through every other handle that can still reach the node.
//
// Node contents are guarded by a per-node sync.RWMutex: readers copy data under
// the shared lock, Repair replaces components under the exclusive lock. The
// head pointer and size of a single handle are guarded by the handle's own
// mutex, so Push and Pop may be called concurrently on one List.
package armor

import "sync"

type node struct {
	mu   sync.RWMutex
	data Armor
	next *node
}

func (n *node) read() (Armor, *node) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.data, n.next
}

func (n *node) update(fn func(Armor) (Armor, bool)) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	next, changed := fn(n.data)
	if changed {
		n.data = next
	}
	return changed
}

// List is a stack of Armor records, newest first.
type List struct {
	mu   sync.Mutex
	head *node
	size int
}

func NewList() *List {
	return &List{}
}

func (l *List) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.size
}

// Peek returns a copy of the newest record, or false when the list is empty.
func (l *List) Peek() (Armor, bool) {
	head := l.headNode()
	if head == nil {
		return Armor{}, false
	}
	data, _ := head.read()
	return data, true
}

func (l *List) Push(a Armor) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.head = &node{data: a, next: l.head}
	l.size++
}

// Pop removes the newest record and returns it, or false when the list is
// empty. The removed node is left intact for clones that still reach it.
func (l *List) Pop() (Armor, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.head == nil {
		return Armor{}, false
	}
	data, next := l.head.read()
	l.head = next
	l.size--
	return data, true
}

// Clone returns a new handle sharing this list's nodes.
func (l *List) Clone() *List {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &List{head: l.head, size: l.size}
}

func (l *List) headNode() *node {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.head
}
