package timebase

// taskHeap and watchdogHeap implement container/heap.Interface.
//
// Tie-break rule: for tasks, prefer *not* swapping equal-deadline
// elements (Less returns false on a tie, so container/heap leaves
// their relative order alone as much as its sift operations allow) to
// avoid jitter; callers must not rely on cross-task ordering within a
// tick regardless. For watchdogs, identity equality is irrelevant to
// ordering (dedup is handled by the caller via findWatchdog), so the
// same less-on-tie rule applies.
type taskHeap []*Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].deadline < h[j].deadline }
func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	t := x.(*Task)
	t.index = len(*h)
	*h = append(*h, t)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

type watchdogHeap []*watchdogEntry

func (h watchdogHeap) Len() int           { return len(h) }
func (h watchdogHeap) Less(i, j int) bool { return h[i].deadline < h[j].deadline }
func (h watchdogHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *watchdogHeap) Push(x any) {
	e := x.(*watchdogEntry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *watchdogHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
