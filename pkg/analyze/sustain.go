package analyze

import (
	"container/heap"
	"math"
	"sort"

	"spindle/pkg/trace"
)

// An event marks one edge of an operation's in-flight window. While an
// operation with latency d is in flight it contributes 1/d operations
// per second to the instantaneous rate.
type event struct {
	at   int64 // UnixNano
	end  bool
	rate float64
}

// eventQueue orders events by time, ends before starts when they
// coincide so abutting spans do not spike the rate.
type eventQueue []*event

func (q eventQueue) Len() int { return len(q) }
func (q eventQueue) Less(i, j int) bool {
	if q[i].at == q[j].at {
		return q[i].end && !q[j].end
	}
	return q[i].at < q[j].at
}
func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *eventQueue) Push(x any)   { *q = append(*q, x.(*event)) }
func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	*q = old[:n-1]
	return it
}

// SustainAnalyzer folds per-operation trace spans into a profile of how
// long each operation rate was sustained. Batches from different
// workers arrive interleaved, so events are only swept into the
// histogram up to the earliest start every worker has reported past;
// a late batch can never land behind the sweep line. Feed it from a
// single goroutine.
type SustainAnalyzer struct {
	workers    int
	watermarks map[int]int64
	queue      eventQueue
	rate       float64
	lastAt     int64
	dwell      map[int]int64 // rounded ops/s -> nanoseconds held
}

func NewSustainAnalyzer(workers int) *SustainAnalyzer {
	a := &SustainAnalyzer{
		workers:    workers,
		watermarks: make(map[int]int64),
		queue:      make(eventQueue, 0),
		dwell:      make(map[int]int64),
	}
	heap.Init(&a.queue)
	return a
}

// Add queues one batch of spans and sweeps as far as the watermarks
// allow.
func (a *SustainAnalyzer) Add(msg trace.Msg) {
	for _, s := range msg.Spans {
		d := s.End - s.Start
		if d <= 0 {
			continue
		}
		rate := 1e9 / float64(d)
		heap.Push(&a.queue, &event{at: s.Start, rate: rate})
		heap.Push(&a.queue, &event{at: s.End, end: true, rate: rate})
	}

	if len(msg.Spans) > 0 {
		// Workers issue one operation at a time, so spans arrive in
		// start order: nothing earlier than the batch's last start can
		// follow from this worker.
		a.watermarks[msg.WorkerID] = msg.Spans[len(msg.Spans)-1].Start
	}

	if len(a.watermarks) < a.workers {
		return
	}
	horizon := int64(math.MaxInt64)
	for _, w := range a.watermarks {
		if w < horizon {
			horizon = w
		}
	}
	a.sweepUntil(horizon)
}

// Consume drains ch until it is closed, then flushes. Run it on its own
// goroutine alongside the benchmark.
func (a *SustainAnalyzer) Consume(ch <-chan trace.Msg) {
	for msg := range ch {
		a.Add(msg)
	}
	a.Flush()
}

// Flush sweeps every queued event. Call once no more batches will
// arrive.
func (a *SustainAnalyzer) Flush() {
	a.sweepUntil(math.MaxInt64)
}

func (a *SustainAnalyzer) sweepUntil(limit int64) {
	for a.queue.Len() > 0 {
		next := a.queue[0]
		if next.at > limit {
			break
		}
		heap.Pop(&a.queue)

		if a.lastAt == 0 {
			a.lastAt = next.at
		}
		if next.at > a.lastAt {
			bin := int(math.Round(a.rate))
			a.dwell[bin] += next.at - a.lastAt
			a.lastAt = next.at
		}

		if next.end {
			a.rate -= next.rate
		} else {
			a.rate += next.rate
		}
		// Soak up float drift so idle periods bin at exactly zero.
		if a.rate < 0.001 {
			a.rate = 0
		}
	}
}

// Profile returns the sustain curve: each point says a rate of at least
// Y ops/s was held for a total of X seconds. Idle time is excluded.
// Points are ordered by descending rate, so X ascends.
func (a *SustainAnalyzer) Profile() []Point {
	bins := make([]int, 0, len(a.dwell))
	for b := range a.dwell {
		if b > 0 {
			bins = append(bins, b)
		}
	}
	sort.Sort(sort.Reverse(sort.IntSlice(bins)))

	points := make([]Point, 0, len(bins))
	var total int64
	for _, b := range bins {
		total += a.dwell[b]
		points = append(points, Point{X: float64(total) / 1e9, Y: float64(b)})
	}
	return points
}
