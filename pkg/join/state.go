package join

import (
	"sync"

	"code.hybscloud.com/atomix"

	"github.com/nebulastream/nebula-core/internal/slicestore"
	"github.com/nebulastream/nebula-core/pkg/record"
)

// Side identifies which input stream a build stage instance feeds.
type Side int

const (
	Left Side = iota
	Right
)

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// pairState tracks whether each side has independently reached its W
// contributions for one (partition, slice), and whether the probe task
// for that pair has already been dispatched.
type pairState struct {
	leftDone  atomix.Bool
	rightDone atomix.Bool
	sealed    atomix.Bool
}

// WindowState holds both sides' global slice stores (raw joined-side
// records, appended not folded, per spec.md §4.6) plus the small
// per-(partition, slice) tracker that decides when a probe may run:
// only once both sides have reached completion for the same slice and
// partition, and only once.
type WindowState struct {
	Left  *slicestore.GlobalStore[record.Tuple]
	Right *slicestore.GlobalStore[record.Tuple]

	mus   []sync.Mutex
	pairs []map[slicestore.Index]*pairState
}

// NewWindowState creates an empty join window state with
// partitionCount shards, each side's global slice expecting
// workerCount contributions.
func NewWindowState(partitionCount, workerCount int) *WindowState {
	ws := &WindowState{
		Left:  slicestore.NewGlobalStore[record.Tuple](partitionCount, workerCount),
		Right: slicestore.NewGlobalStore[record.Tuple](partitionCount, workerCount),
		mus:   make([]sync.Mutex, partitionCount),
		pairs: make([]map[slicestore.Index]*pairState, partitionCount),
	}
	for i := range ws.pairs {
		ws.pairs[i] = make(map[slicestore.Index]*pairState)
	}
	return ws
}

func (ws *WindowState) pairFor(partition int, idx slicestore.Index) *pairState {
	ws.mus[partition].Lock()
	defer ws.mus[partition].Unlock()
	ps, ok := ws.pairs[partition][idx]
	if !ok {
		ps = &pairState{}
		ws.pairs[partition][idx] = ps
	}
	return ps
}

// MarkSideComplete records that side has reached its W contributions
// for (partition, idx). It returns true exactly once per pair: for
// whichever caller is the one to observe both sides complete. Callers
// use that signal to dispatch the probe task exactly once.
func (ws *WindowState) MarkSideComplete(partition int, idx slicestore.Index, side Side) bool {
	ps := ws.pairFor(partition, idx)
	switch side {
	case Left:
		ps.leftDone.StoreRelease(true)
	case Right:
		ps.rightDone.StoreRelease(true)
	}
	if !ps.leftDone.LoadAcquire() || !ps.rightDone.LoadAcquire() {
		return false
	}
	return ps.sealed.CompareAndSwapAcqRel(false, true)
}

// DropPair removes a (partition, slice) pair's tracker once the probe
// for it has run and both sides' global slices have been dropped.
func (ws *WindowState) DropPair(partition int, idx slicestore.Index) {
	ws.mus[partition].Lock()
	delete(ws.pairs[partition], idx)
	ws.mus[partition].Unlock()
}
