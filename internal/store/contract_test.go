package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/habit-notify/internal/model"
)

// runStoreContract exercises the behaviour every backend must share.
// writers is the number of concurrent UpdateRecords calls against one group.
func runStoreContract(t *testing.T, st Admin, writers int) {
	ctx := context.Background()
	prefix := uuid.NewString()[:8] + "-"
	at := time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC)

	t.Run("not found", func(t *testing.T) {
		_, err := st.GetGroup(ctx, prefix+"missing")
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = st.GetMember(ctx, prefix+"missing")
		assert.ErrorIs(t, err, ErrNotFound)

		err = st.UpdateRecords(ctx, prefix+"missing", func(rs model.RecordSet) (model.RecordSet, error) { return rs, nil })
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("member token", func(t *testing.T) {
		tok := "tok-A"
		require.NoError(t, st.PutMember(ctx, model.Member{ID: prefix + "A", Name: "Alice", FCMToken: &tok}))
		require.NoError(t, st.PutMember(ctx, model.Member{ID: prefix + "B", Name: "Bob"}))

		a, err := st.GetMember(ctx, prefix+"A")
		require.NoError(t, err)
		got, ok := a.Token()
		assert.True(t, ok)
		assert.Equal(t, "tok-A", got)
		assert.Equal(t, "Alice", a.Name)

		b, err := st.GetMember(ctx, prefix+"B")
		require.NoError(t, err)
		_, ok = b.Token()
		assert.False(t, ok)
	})

	t.Run("put group keeps records", func(t *testing.T) {
		id := prefix + "G-keep"
		require.NoError(t, st.PutGroup(ctx, model.Group{ID: id, Name: "old", Members: []string{"A"}, Timeline: []any{"run"}}))
		require.NoError(t, st.UpdateRecords(ctx, id, func(rs model.RecordSet) (model.RecordSet, error) {
			rs["A"] = at
			return rs, nil
		}))
		require.NoError(t, st.PutGroup(ctx, model.Group{ID: id, Name: "new", Members: []string{"A", "B"}, Timeline: []any{"run"}}))

		g, err := st.GetGroup(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "new", g.Name)
		assert.Equal(t, []string{"A", "B"}, g.Members)
		assert.True(t, g.HasTimeline())
		require.Contains(t, g.Records, "A")
		assert.WithinDuration(t, at, g.Records["A"], 0)
	})

	t.Run("aborted update writes nothing", func(t *testing.T) {
		id := prefix + "G-abort"
		require.NoError(t, st.PutGroup(ctx, model.Group{ID: id, Members: []string{"A"}}))

		boom := errors.New("boom")
		err := st.UpdateRecords(ctx, id, func(rs model.RecordSet) (model.RecordSet, error) {
			rs["A"] = at
			return nil, boom
		})
		assert.ErrorIs(t, err, boom)

		g, err := st.GetGroup(ctx, id)
		require.NoError(t, err)
		assert.Empty(t, g.Records)
	})

	t.Run("concurrent updates are not lost", func(t *testing.T) {
		id := prefix + "G-race"
		require.NoError(t, st.PutGroup(ctx, model.Group{ID: id}))

		var wg sync.WaitGroup
		for i := 0; i < writers; i++ {
			i := i
			wg.Add(1)
			go func() {
				defer wg.Done()
				member := fmt.Sprintf("user-%d", i)
				err := st.UpdateRecords(ctx, id, func(rs model.RecordSet) (model.RecordSet, error) {
					rs[member] = at.Add(time.Duration(i) * time.Minute)
					return rs, nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		g, err := st.GetGroup(ctx, id)
		require.NoError(t, err)
		assert.Len(t, g.Records, writers)
		for i := 0; i < writers; i++ {
			assert.WithinDuration(t, at.Add(time.Duration(i)*time.Minute), g.Records[fmt.Sprintf("user-%d", i)], 0)
		}
	})
}
