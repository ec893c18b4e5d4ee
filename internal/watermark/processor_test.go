package watermark_test

import (
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebula-core/internal/nebulaerr"
	"github.com/nebulastream/nebula-core/internal/watermark"
	"github.com/nebulastream/nebula-core/pkg/buffer"
)

func TestObserveAdvancesMonotonically(t *testing.T) {
	p := watermark.NewProcessor(16)

	_, wm, err := p.Observe(1, 0, 100)
	require.NoError(t, err)
	require.Equal(t, int64(100), wm)

	_, wm, err = p.Observe(1, 1, 200)
	require.NoError(t, err)
	require.Equal(t, int64(200), wm)
}

func TestGlobalWatermarkIsMinAcrossOrigins(t *testing.T) {
	p := watermark.NewProcessor(16)

	_, _, err := p.Observe(1, 0, 500)
	require.NoError(t, err)
	_, _, err = p.Observe(2, 0, 100)
	require.NoError(t, err)

	require.Equal(t, int64(100), p.GlobalWatermark())

	_, _, err = p.Observe(2, 1, 900)
	require.NoError(t, err)
	require.Equal(t, int64(500), p.GlobalWatermark())
}

func TestOutOfOrderInsertStallsUntilGapFills(t *testing.T) {
	p := watermark.NewProcessor(16)

	_, wm, err := p.Observe(1, 1, 200) // sequence 1 before 0: nothing committed yet
	require.NoError(t, err)
	require.Equal(t, int64(math.MinInt64), wm)

	_, wm, err = p.Observe(1, 0, 100) // fills the gap, both 0 and 1 commit
	require.NoError(t, err)
	require.Equal(t, int64(200), wm)
}

func TestDuplicateSequenceIsProtocolError(t *testing.T) {
	p := watermark.NewProcessor(16)
	_, _, err := p.Observe(1, 0, 100)
	require.NoError(t, err)

	_, _, err = p.Observe(1, 0, 150)
	require.Error(t, err)
	require.True(t, nebulaerr.IsCode(err, nebulaerr.Protocol))
}

func TestLogOverflowIsInternalFatal(t *testing.T) {
	p := watermark.NewProcessor(2)
	// Never commit sequence 0, then try to insert sequence 2, which
	// would reuse sequence 0's slot before it was folded into the
	// committed prefix.
	_, _, err := p.Observe(1, 1, 100)
	require.NoError(t, err)
	_, _, err = p.Observe(1, 2, 200)
	require.Error(t, err)
	require.True(t, nebulaerr.IsCode(err, nebulaerr.Internal))
}

func TestConcurrentOriginsDoNotLoseObservations(t *testing.T) {
	p := watermark.NewProcessor(256)
	const perOrigin = 200
	var wg sync.WaitGroup
	for origin := buffer.OriginID(0); origin < 4; origin++ {
		wg.Add(1)
		go func(o buffer.OriginID) {
			defer wg.Done()
			for seq := uint64(0); seq < perOrigin; seq++ {
				_, _, err := p.Observe(o, seq, int64(seq)*10)
				require.NoError(t, err)
			}
		}(origin)
	}
	wg.Wait()

	want := int64((perOrigin - 1) * 10)
	require.Equal(t, want, p.GlobalWatermark())
}
