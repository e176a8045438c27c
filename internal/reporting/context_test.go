package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportingMeta(t *testing.T) {
	t.Parallel()

	t.Run("empty context has empty meta", func(t *testing.T) {
		t.Parallel()

		meta := MetaFromContext(context.Background())
		assert.Empty(t, meta.tags)
		assert.Empty(t, meta.extras)
		assert.True(t, meta.startedAt.IsZero())
	})

	t.Run("started at round-trips", func(t *testing.T) {
		t.Parallel()

		startedAt := time.Date(2026, time.August, 29, 12, 0, 0, 0, time.UTC)
		ctx := SetStartedAtInContext(context.Background(), startedAt)

		meta := MetaFromContext(ctx)
		require.Equal(t, startedAt, meta.startedAt)
	})

	t.Run("tags and extras accumulate without mutating parents", func(t *testing.T) {
		t.Parallel()

		parent := AddTagsToContext(context.Background(), map[string]string{"command": "allocate"})
		child := AddTagsToContext(parent, map[string]string{"owner": "cluster-a"})
		child = AddExtrasToContext(child, map[string]string{"scope": "osl1/storage"})

		parentMeta := MetaFromContext(parent)
		assert.Equal(t, map[string]string{"command": "allocate"}, parentMeta.tags)
		assert.Empty(t, parentMeta.extras)

		childMeta := MetaFromContext(child)
		assert.Equal(t, map[string]string{"command": "allocate", "owner": "cluster-a"}, childMeta.tags)
		assert.Equal(t, map[string]string{"scope": "osl1/storage"}, childMeta.extras)
	})

	t.Run("setting started at keeps existing tags", func(t *testing.T) {
		t.Parallel()

		ctx := AddTagsToContext(context.Background(), map[string]string{"command": "release"})
		ctx = SetStartedAtInContext(ctx, time.Now())

		meta := MetaFromContext(ctx)
		assert.Equal(t, map[string]string{"command": "release"}, meta.tags)
		assert.False(t, meta.startedAt.IsZero())
	})
}
