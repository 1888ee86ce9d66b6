// Package metrics exposes collector statistics as named samples, in the
// style of runtime/metrics.
//
// Metric names are of the form /path/to/metric:unit.
package metrics

import (
	"sort"
	"time"

	"github.com/tinygo-org/semispace/gc"
)

// Description describes a supported metric.
type Description struct {
	Name        string
	Description string
	Kind        ValueKind
	Cumulative  bool
}

var descriptions = []Description{
	{Name: "/gc/cycles/total:gc-cycles", Description: "Count of completed collections.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/allocs:bytes", Description: "Cumulative bytes allocated by the mutator.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/allocs:objects", Description: "Cumulative count of allocations.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/evacuated:bytes", Description: "Cumulative bytes copied by collections.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/evacuated:objects", Description: "Cumulative count of objects copied by collections.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/forwarded:references", Description: "Cumulative count of references resolved through a forwarding address.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/heap/freed:bytes", Description: "Cumulative bytes discarded as garbage.", Kind: KindUint64, Cumulative: true},
	{Name: "/gc/pauses:seconds", Description: "Distribution of recent collection pauses.", Kind: KindFloat64Histogram, Cumulative: false},
	{Name: "/gc/pauses/total:seconds", Description: "Total time spent in collections.", Kind: KindFloat64, Cumulative: true},
	{Name: "/memory/classes/heap/free:bytes", Description: "Bytes free in the active semispace.", Kind: KindUint64},
	{Name: "/memory/classes/heap/objects:bytes", Description: "Bytes allocated in the active semispace.", Kind: KindUint64},
	{Name: "/memory/classes/heap/reserve:bytes", Description: "Bytes held back as the collection target.", Kind: KindUint64},
	{Name: "/memory/classes/total:bytes", Description: "Bytes covered by the heap.", Kind: KindUint64},
}

// All returns the descriptions of all supported metrics, sorted by name.
func All() []Description {
	all := append([]Description(nil), descriptions...)
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// Float64Histogram is a distribution of float64 values. Counts[i] is the
// number of values in [Buckets[i], Buckets[i+1]).
type Float64Histogram struct {
	Counts  []uint64
	Buckets []float64
}

// Sample is a metric name and its value. Read fills in Value.
type Sample struct {
	Name  string
	Value Value
}

// pauseBuckets are the bucket boundaries of /gc/pauses:seconds.
var pauseBuckets = []float64{0, 1e-6, 1e-5, 1e-4, 1e-3, 1e-2, 1e-1, 1}

// Read populates each Value in m for the heap h. Unknown names get a value
// of kind KindBad.
func Read(h *gc.Heap, m []Sample) {
	var ms gc.MemStats
	h.ReadMemStats(&ms)
	var gs gc.GCStats
	h.ReadGCStats(&gs)

	for i := range m {
		v := &m[i].Value
		*v = Value{}
		switch m[i].Name {
		case "/gc/cycles/total:gc-cycles":
			v.setUint64(ms.NumGC)
		case "/gc/heap/allocs:bytes":
			v.setUint64(ms.TotalAlloc)
		case "/gc/heap/allocs:objects":
			v.setUint64(ms.Mallocs)
		case "/gc/heap/evacuated:bytes":
			v.setUint64(ms.EvacuatedBytes)
		case "/gc/heap/evacuated:objects":
			v.setUint64(ms.Evacuated)
		case "/gc/heap/forwarded:references":
			v.setUint64(ms.ForwardHits)
		case "/gc/heap/freed:bytes":
			v.setUint64(ms.Freed)
		case "/gc/pauses:seconds":
			v.kind = KindFloat64Histogram
			v.hist = pauseHistogram(gs.Pause)
		case "/gc/pauses/total:seconds":
			v.kind = KindFloat64
			v.float = gs.PauseTotal.Seconds()
		case "/memory/classes/heap/free:bytes":
			v.setUint64(ms.HeapIdle)
		case "/memory/classes/heap/objects:bytes":
			v.setUint64(ms.HeapAlloc)
		case "/memory/classes/heap/reserve:bytes":
			v.setUint64(ms.Sys - ms.HeapSys)
		case "/memory/classes/total:bytes":
			v.setUint64(ms.Sys)
		}
	}
}

func pauseHistogram(pauses []time.Duration) *Float64Histogram {
	h := &Float64Histogram{
		Counts:  make([]uint64, len(pauseBuckets)-1),
		Buckets: pauseBuckets,
	}
	for _, p := range pauses {
		s := p.Seconds()
		// Index of the first boundary above s; values past the last
		// boundary go into the last bucket.
		i := sort.SearchFloat64s(pauseBuckets, s)
		if i < len(pauseBuckets) && pauseBuckets[i] == s {
			i++
		}
		h.Counts[min(max(i-1, 0), len(h.Counts)-1)]++
	}
	return h
}

// Value is the value of a metric sample.
type Value struct {
	kind  ValueKind
	bits  uint64
	float float64
	hist  *Float64Histogram
}

func (v *Value) setUint64(n uint64) {
	v.kind = KindUint64
	v.bits = n
}

// Float64 returns the value of a KindFloat64 sample.
func (v Value) Float64() float64 {
	if v.kind != KindFloat64 {
		panic("metrics: Float64 called on a " + v.kind.String() + " value")
	}
	return v.float
}

// Float64Histogram returns the value of a KindFloat64Histogram sample.
func (v Value) Float64Histogram() *Float64Histogram {
	if v.kind != KindFloat64Histogram {
		panic("metrics: Float64Histogram called on a " + v.kind.String() + " value")
	}
	return v.hist
}

// Kind returns the kind of the value.
func (v Value) Kind() ValueKind {
	return v.kind
}

// Uint64 returns the value of a KindUint64 sample.
func (v Value) Uint64() uint64 {
	if v.kind != KindUint64 {
		panic("metrics: Uint64 called on a " + v.kind.String() + " value")
	}
	return v.bits
}

// ValueKind is the type of a metric value.
type ValueKind int

const (
	KindBad ValueKind = iota
	KindUint64
	KindFloat64
	KindFloat64Histogram
)

func (k ValueKind) String() string {
	switch k {
	case KindUint64:
		return "uint64"
	case KindFloat64:
		return "float64"
	case KindFloat64Histogram:
		return "float64 histogram"
	default:
		return "bad"
	}
}
