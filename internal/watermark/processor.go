// Package watermark implements the lock-free multi-origin watermark
// processor from spec.md §4.2: given a stream of (origin, sequence,
// watermark_ts) updates from many threads, it returns the new
// monotonic global watermark after each update.
//
// Each origin owns a bounded ring of observation slots keyed by
// sequence number modulo the ring's capacity, validated by a
// cycle-style version tag — the same slot-validation discipline the
// teacher's MPMC queue (code.hybscloud.com/lfq) uses for ABA safety. A single
// compare-and-swap advances the origin's committed-prefix sequence
// once its next slot is observed to be present; the global watermark
// is the acquire-ordered minimum of every origin's committed
// watermark.
package watermark

import (
	"math"
	"sync"

	"code.hybscloud.com/atomix"
	"code.hybscloud.com/spin"

	"github.com/nebulastream/nebula-core/internal/nebulaerr"
	"github.com/nebulastream/nebula-core/pkg/buffer"
)

const noCommit = -1

type logEntry struct {
	version atomix.Uint64 // 0 = empty; seq+1 once written
	wm      int64
}

type originState struct {
	_       pad
	entries []logEntry
	cap     uint64
	_       pad
	committedPrefix atomix.Int64 // last committed sequence number, or noCommit
	_               pad
	committedWM atomix.Int64 // watermark of committedPrefix
}

type pad [64]byte

func newOriginState(capacity int) *originState {
	o := &originState{
		entries: make([]logEntry, capacity),
		cap:     uint64(capacity),
	}
	o.committedPrefix.StoreRelaxed(noCommit)
	o.committedWM.StoreRelaxed(math.MinInt64)
	return o
}

// Processor is the lock-free multi-origin watermark processor.
// Registration of new origins takes a short lock; the insert/advance
// hot path for an already-registered origin never blocks on a mutex.
type Processor struct {
	mu      sync.RWMutex
	origins map[buffer.OriginID]*originState
	logCap  int
}

// NewProcessor builds a processor whose per-origin log can hold
// logCap in-flight (unreached-prefix) observations before insert
// reports an Internal error per spec.md §4.2's bounded-log failure
// mode.
func NewProcessor(logCap int) *Processor {
	if logCap < 2 {
		logCap = 2
	}
	return &Processor{
		origins: make(map[buffer.OriginID]*originState),
		logCap:  logCap,
	}
}

func (p *Processor) stateFor(origin buffer.OriginID) *originState {
	p.mu.RLock()
	o, ok := p.origins[origin]
	p.mu.RUnlock()
	if ok {
		return o
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if o, ok = p.origins[origin]; ok {
		return o
	}
	o = newOriginState(p.logCap)
	p.origins[origin] = o
	return o
}

// Observe inserts a new (sequence, watermarkTs) observation for origin
// and returns the global watermark before and after this call, so
// callers can detect whether a boundary was crossed.
//
// A duplicate sequence is a Protocol error (programming error upstream).
// A sequence that would overwrite an un-advanced-past slot is an
// Internal fatal error: the watermark fell too far behind the sequence
// numbers flowing in.
func (p *Processor) Observe(origin buffer.OriginID, seq uint64, watermarkTs int64) (prevGlobal, newGlobal int64, err error) {
	o := p.stateFor(origin)
	prevGlobal = p.globalWatermarkAcquire()

	if err = o.insert(seq, watermarkTs); err != nil {
		return prevGlobal, prevGlobal, err
	}
	o.advance()

	newGlobal = p.globalWatermarkAcquire()
	return prevGlobal, newGlobal, nil
}

func (o *originState) insert(seq uint64, wm int64) error {
	idx := seq % o.cap
	e := &o.entries[idx]
	newVersion := seq + 1

	committed := o.committedPrefix.LoadAcquire()
	// This slot's previous occupant is (seq - cap); it must already be
	// folded into committedPrefix or we would clobber an unread entry.
	if seq >= o.cap {
		oldest := seq - o.cap
		if committed < 0 || uint64(committed) < oldest {
			return nebulaerr.New(nebulaerr.Internal, "watermark",
				"bounded observation log exceeded: watermark fell too far behind sequence numbers")
		}
	}

	prevVersion := e.version.LoadAcquire()
	if prevVersion == newVersion {
		return nebulaerr.New(nebulaerr.Protocol, "watermark", "duplicate sequence observed")
	}

	e.wm = wm
	if !e.version.CompareAndSwapAcqRel(prevVersion, newVersion) {
		// Lost a race with a concurrent insert for the same sequence
		// (two producers claiming the same origin/sequence pair).
		return nebulaerr.New(nebulaerr.Protocol, "watermark", "concurrent duplicate sequence observed")
	}
	return nil
}

func (o *originState) advance() {
	sw := spin.Wait{}
	for {
		prefix := o.committedPrefix.LoadAcquire()
		candidate := uint64(prefix + 1)
		idx := candidate % o.cap
		e := &o.entries[idx]
		v := e.version.LoadAcquire()
		if v != candidate+1 {
			return // next sequence not present yet; stall is intentional
		}
		wm := e.wm
		if o.committedPrefix.CompareAndSwapAcqRel(prefix, int64(candidate)) {
			o.committedWM.StoreRelease(wm)
			continue
		}
		sw.Once()
	}
}

func (p *Processor) globalWatermarkAcquire() int64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if len(p.origins) == 0 {
		return math.MinInt64
	}
	min := int64(math.MaxInt64)
	for _, o := range p.origins {
		wm := o.committedWM.LoadAcquire()
		if wm < min {
			min = wm
		}
	}
	return min
}

// GlobalWatermark returns the current global watermark without
// recording a new observation.
func (p *Processor) GlobalWatermark() int64 {
	return p.globalWatermarkAcquire()
}

// RegisterOrigin ensures origin participates in the global watermark
// computation from this point on, even before its first Observe call.
// Without this, an origin that simply hasn't emitted anything yet is
// invisible to globalWatermarkAcquire and can't hold the global minimum
// down to its initial math.MinInt64 — every known origin must be
// registered before a stream starts for the watermark-stall case (a
// slow or silent origin holding back windows on the others) to hold.
func (p *Processor) RegisterOrigin(origin buffer.OriginID) {
	p.stateFor(origin)
}

// OriginWatermark returns the committed watermark for a single origin,
// or (math.MinInt64, false) if the origin has never been observed.
func (p *Processor) OriginWatermark(origin buffer.OriginID) (int64, bool) {
	p.mu.RLock()
	o, ok := p.origins[origin]
	p.mu.RUnlock()
	if !ok {
		return math.MinInt64, false
	}
	if o.committedPrefix.LoadAcquire() == noCommit {
		return math.MinInt64, false
	}
	return o.committedWM.LoadAcquire(), true
}
