package travel

// flight is one pending departure.
type flight struct {
	day   int
	seq   uint64 // insertion order, breaks ties between flights on the same day
	route *Route
}

// flightQueue is a min-heap on (day, seq), driven through container/heap.
type flightQueue []*flight

func (q flightQueue) Len() int { return len(q) }

func (q flightQueue) Less(i, j int) bool {
	if q[i].day != q[j].day {
		return q[i].day < q[j].day
	}
	return q[i].seq < q[j].seq
}

func (q flightQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *flightQueue) Push(x any) { *q = append(*q, x.(*flight)) }

func (q *flightQueue) Pop() any {
	old := *q
	n := len(old)
	f := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return f
}

func (q flightQueue) peek() *flight {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
