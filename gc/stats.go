package gc

import "time"

// maxPauses is the number of recent pauses remembered for GCStats.
const maxPauses = 256

type heapStats struct {
	mallocs        uint64 // total number of allocations
	totalAlloc     uint64 // total number of bytes allocated
	numGC          uint64
	evacuated      uint64 // objects copied, over all cycles
	evacuatedBytes uint64
	forwardHits    uint64 // references resolved through a forwarding address
	freed          uint64 // bytes discarded, over all cycles
	lastGC         time.Time
	pauseTotal     time.Duration
	pauses         []time.Duration // oldest first
	pauseEnds      []time.Time
}

func (s *heapStats) recordCycle(start, end time.Time, freed uint64) {
	pause := end.Sub(start)
	s.numGC++
	s.freed += freed
	s.lastGC = end
	s.pauseTotal += pause
	if len(s.pauses) == maxPauses {
		s.pauses = s.pauses[1:]
		s.pauseEnds = s.pauseEnds[1:]
	}
	s.pauses = append(s.pauses, pause)
	s.pauseEnds = append(s.pauseEnds, end)
}

// MemStats records statistics about the heap.
type MemStats struct {
	// Sys is the size of the heap, both semispaces included.
	Sys uint64

	// HeapSys is the capacity of one semispace.
	HeapSys uint64

	// HeapAlloc is the number of bytes allocated in the active space.
	// Right after a collection this is the size of the live data.
	HeapAlloc uint64

	// HeapIdle is the number of bytes still free in the active space.
	HeapIdle uint64

	// TotalAlloc is the cumulative number of bytes allocated.
	TotalAlloc uint64

	// Mallocs is the cumulative count of allocations.
	Mallocs uint64

	// NumGC is the number of completed collections.
	NumGC uint64

	// Evacuated and EvacuatedBytes count the objects copied by all
	// collections.
	Evacuated      uint64
	EvacuatedBytes uint64

	// ForwardHits counts references that were resolved to an object that
	// had already been copied in the same collection.
	ForwardHits uint64

	// Freed is the cumulative number of bytes discarded as garbage.
	Freed uint64
}

// ReadMemStats populates m with memory statistics.
//
// The returned memory statistics are up to date as of the call to
// ReadMemStats. This does not run a collection.
func (h *Heap) ReadMemStats(m *MemStats) {
	m.Sys = uint64(h.from.Size() + h.to.Size())
	m.HeapSys = uint64(h.from.Size())
	m.HeapAlloc = uint64(h.from.Used())
	m.HeapIdle = uint64(h.from.Free())
	m.TotalAlloc = h.stats.totalAlloc
	m.Mallocs = h.stats.mallocs
	m.NumGC = h.stats.numGC
	m.Evacuated = h.stats.evacuated
	m.EvacuatedBytes = h.stats.evacuatedBytes
	m.ForwardHits = h.stats.forwardHits
	m.Freed = h.stats.freed
}

// GCStats collect information about recent collections.
type GCStats struct {
	LastGC     time.Time       // time of last collection
	NumGC      int64           // number of collections
	PauseTotal time.Duration   // total pause for all collections
	Pause      []time.Duration // pause history, most recent first
	PauseEnd   []time.Time     // pause end times history, most recent first
}

// ReadGCStats reads statistics about garbage collection into stats. At most
// the last 256 pauses are reported.
func (h *Heap) ReadGCStats(stats *GCStats) {
	stats.LastGC = h.stats.lastGC
	stats.NumGC = int64(h.stats.numGC)
	stats.PauseTotal = h.stats.pauseTotal
	n := len(h.stats.pauses)
	stats.Pause = stats.Pause[:0]
	stats.PauseEnd = stats.PauseEnd[:0]
	for i := n - 1; i >= 0; i-- {
		stats.Pause = append(stats.Pause, h.stats.pauses[i])
		stats.PauseEnd = append(stats.PauseEnd, h.stats.pauseEnds[i])
	}
}
