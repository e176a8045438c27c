package domain_test

import (
	"testing"

	"github.com/clusterkit/segmentpool/internal/domain"
	"github.com/stretchr/testify/require"
)

func TestSegmentValidate(t *testing.T) {
	t.Parallel()

	scope := domain.Scope{Site: "osl1", Network: "storage"}

	t.Run("available segment has no owner", func(t *testing.T) {
		t.Parallel()

		segment := domain.Segment{ID: 1, VID: 100, Scope: scope, Status: domain.SegmentStatusAvailable}
		require.NoError(t, segment.Validate())

		segment.Owner = "cluster-a"
		require.Error(t, segment.Validate())
	})

	t.Run("reserved segment has an owner", func(t *testing.T) {
		t.Parallel()

		segment := domain.Segment{ID: 1, VID: 100, Scope: scope, Status: domain.SegmentStatusReserved, Owner: "cluster-a"}
		require.NoError(t, segment.Validate())

		segment.Owner = ""
		require.Error(t, segment.Validate())
	})

	t.Run("unknown status is rejected", func(t *testing.T) {
		t.Parallel()

		segment := domain.Segment{ID: 1, VID: 100, Scope: scope, Status: "deprecated"}
		require.Error(t, segment.Validate())
	})
}

func TestScopeValidate(t *testing.T) {
	t.Parallel()

	require.NoError(t, domain.Scope{Site: "osl1", Network: "storage"}.Validate())
	require.Error(t, domain.Scope{Network: "storage"}.Validate())
	require.Error(t, domain.Scope{Site: "osl1"}.Validate())
	require.Equal(t, "osl1/storage", domain.Scope{Site: "osl1", Network: "storage"}.String())
}
