package join_test

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/nebulastream/nebula-core/internal/slicestore"
	"github.com/nebulastream/nebula-core/pkg/join"
)

func TestMarkSideCompleteFiresOnceBothSidesDone(t *testing.T) {
	ws := join.NewWindowState(1, 2)

	require.False(t, ws.MarkSideComplete(0, slicestore.Index(0), join.Left))
	require.True(t, ws.MarkSideComplete(0, slicestore.Index(0), join.Right))
	// A re-delivered signal for either side must not fire twice.
	require.False(t, ws.MarkSideComplete(0, slicestore.Index(0), join.Left))
	require.False(t, ws.MarkSideComplete(0, slicestore.Index(0), join.Right))
}

func TestMarkSideCompleteOrderIndependent(t *testing.T) {
	ws := join.NewWindowState(1, 2)

	require.False(t, ws.MarkSideComplete(0, slicestore.Index(1), join.Right))
	require.True(t, ws.MarkSideComplete(0, slicestore.Index(1), join.Left))
}

func TestDefinitionSizeEqualsSliceSizeByDefault(t *testing.T) {
	def := join.NewDefinition(5*time.Second, time.Second)
	require.Equal(t, def.Size, def.SliceSize)
	require.Equal(t, time.Second, def.AllowedLateness)
}

func TestDecodeOutputTupleReadsLittleEndianLayout(t *testing.T) {
	payload := make([]byte, join.OutputTupleSize)
	binary.LittleEndian.PutUint64(payload[0:8], 1)
	binary.LittleEndian.PutUint64(payload[8:16], 10)
	binary.LittleEndian.PutUint64(payload[16:24], 20)
	binary.LittleEndian.PutUint64(payload[24:32], 1000)

	require.Equal(t, 1, join.Count(payload))
	got := join.DecodeOutputTuple(payload, 0)
	require.Equal(t, join.OutputTuple{Key: 1, LeftValue: 10, RightValue: 20, TS: 1000}, got)
}
