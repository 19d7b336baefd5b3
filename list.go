package coro

// listNode is an intrusive doubly linked list entry. A free node is
// self-linked, so membership is testable in O(1) without a separate flag.
type listNode struct {
	prev, next *listNode
	owner      *Coroutine
}

func (n *listNode) init() {
	n.prev, n.next = n, n
}

// empty reports whether the node is not on any list.
func (n *listNode) empty() bool {
	return n.next == n
}

// del unlinks the node and re-initializes it.
func (n *listNode) del() {
	n.prev.next = n.next
	n.next.prev = n.prev
	n.init()
}

// coList is a FIFO of coroutines threaded through their listNode. All
// mutations happen under the owning thread's list lock.
type coList struct {
	root listNode
}

func (l *coList) init() {
	l.root.init()
}

func (l *coList) empty() bool {
	return l.root.empty()
}

// pushTail appends the node at the tail.
func (l *coList) pushTail(n *listNode) {
	n.prev = l.root.prev
	n.next = &l.root
	l.root.prev.next = n
	l.root.prev = n
}

// first returns the head node, nil when the list is empty.
func (l *coList) first() *listNode {
	if l.empty() {
		return nil
	}
	return l.root.next
}

// after returns the node following n, nil at the end of the list.
func (l *coList) after(n *listNode) *listNode {
	if n.next == &l.root {
		return nil
	}
	return n.next
}
