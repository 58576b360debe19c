// ABOUTME: Bounded FIFO buffer holding the scope's breadcrumbs
// ABOUTME: Appending past capacity evicts the oldest entry in the same step

package scope

import "container/list"

// breadcrumbBuffer keeps breadcrumbs in insertion order (oldest at front).
// It is not safe for concurrent use; Scope guards it with its own mutex.
type breadcrumbBuffer struct {
	order   *list.List
	max     int
	nextSeq uint64
}

func newBreadcrumbBuffer(max int) *breadcrumbBuffer {
	return &breadcrumbBuffer{
		order: list.New(),
		max:   max,
	}
}

// push stamps b with the next sequence number and appends it. It returns the
// stored breadcrumb and the evicted one, if capacity was exceeded.
func (bb *breadcrumbBuffer) push(b Breadcrumb) (Breadcrumb, *Breadcrumb) {
	b.Seq = bb.nextSeq
	bb.nextSeq++

	var evicted *Breadcrumb
	if bb.order.Len() >= bb.max {
		evicted = bb.evictOldest()
	}
	bb.order.PushBack(b)
	return b, evicted
}

func (bb *breadcrumbBuffer) evictOldest() *Breadcrumb {
	front := bb.order.Front()
	if front == nil {
		return nil
	}
	b, _ := bb.order.Remove(front).(Breadcrumb)
	return &b
}

func (bb *breadcrumbBuffer) clear() {
	bb.order.Init()
}

func (bb *breadcrumbBuffer) len() int {
	return bb.order.Len()
}

// items returns deep copies in chronological order.
func (bb *breadcrumbBuffer) items() []Breadcrumb {
	if bb.order.Len() == 0 {
		return nil
	}
	out := make([]Breadcrumb, 0, bb.order.Len())
	for e := bb.order.Front(); e != nil; e = e.Next() {
		b, _ := e.Value.(Breadcrumb)
		out = append(out, b.clone())
	}
	return out
}

// restore replaces the contents with bs, keeping at most max of the newest.
// Sequence numbers are preserved and nextSeq continues after the highest one.
func (bb *breadcrumbBuffer) restore(bs []Breadcrumb, nextSeq uint64) {
	bb.order.Init()
	if len(bs) > bb.max {
		bs = bs[len(bs)-bb.max:]
	}
	for _, b := range bs {
		bb.order.PushBack(b.clone())
		if b.Seq >= nextSeq {
			nextSeq = b.Seq + 1
		}
	}
	bb.nextSeq = nextSeq
}
