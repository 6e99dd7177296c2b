package trace

import (
	"golang.org/x/exp/slices"
)

// Order establishes the total order in which events are processed: by timestamp, with the thread id breaking ties
// (lower id first). Events of one thread with equal timestamps keep their capture order.
//
// Captures interleave buffered writes from many threads, so a thread's own events can appear slightly out of order.
// Order corrects this and returns, in ascending order, the threads whose events had to be reordered.
func Order(events []Event) (ordered []Event, disordered []int) {
	if len(events) == 0 {
		return nil, nil
	}

	batches := map[int][]Event{}
	var threads []int
	for _, ev := range events {
		b, ok := batches[ev.Thread]
		if !ok {
			threads = append(threads, ev.Thread)
		}
		batches[ev.Thread] = append(b, ev)
	}
	slices.Sort(threads)

	h := make(orderEventList, 0, len(threads))
	for _, tid := range threads {
		b := batches[tid]
		if !slices.IsSortedFunc(b, compareTs) {
			slices.SortStableFunc(b, compareTs)
			disordered = append(disordered, tid)
		}
		h.Push(orderEvent{ev: b[0], batch: b[1:]})
	}

	ordered = make([]Event, 0, len(events))
	for len(h) > 0 {
		oe := h.Pop()
		ordered = append(ordered, oe.ev)
		if len(oe.batch) > 0 {
			h.Push(orderEvent{ev: oe.batch[0], batch: oe.batch[1:]})
		}
	}
	return ordered, disordered
}

func compareTs(a, b Event) int {
	switch {
	case a.Ts < b.Ts:
		return -1
	case a.Ts > b.Ts:
		return 1
	default:
		return 0
	}
}

// orderEvent is the head of one thread's batch during the merge.
type orderEvent struct {
	ev    Event
	batch []Event
}

type orderEventList []orderEvent

// Less orders by timestamp, then thread. A thread has at most one entry in the heap, so this is a strict order.
func (l *orderEventList) Less(i, j int) bool {
	a, b := &(*l)[i].ev, &(*l)[j].ev
	if a.Ts != b.Ts {
		return a.Ts < b.Ts
	}
	return a.Thread < b.Thread
}

func (h *orderEventList) Push(x orderEvent) {
	*h = append(*h, x)
	heapUp(h, len(*h)-1)
}

func (h *orderEventList) Pop() orderEvent {
	n := len(*h) - 1
	(*h)[0], (*h)[n] = (*h)[n], (*h)[0]
	heapDown(h, 0, n)
	x := (*h)[len(*h)-1]
	*h = (*h)[:len(*h)-1]
	return x
}

func heapUp(h *orderEventList, j int) {
	for {
		i := (j - 1) / 2 // parent
		if i == j || !h.Less(j, i) {
			break
		}
		(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
		j = i
	}
}

func heapDown(h *orderEventList, i0, n int) bool {
	i := i0
	for {
		j1 := 2*i + 1
		if j1 >= n || j1 < 0 { // j1 < 0 after int overflow
			break
		}
		j := j1 // left child
		if j2 := j1 + 1; j2 < n && h.Less(j2, j1) {
			j = j2 // = 2*i + 2  // right child
		}
		if !h.Less(j, i) {
			break
		}
		(*h)[i], (*h)[j] = (*h)[j], (*h)[i]
		i = j
	}
	return i > i0
}
