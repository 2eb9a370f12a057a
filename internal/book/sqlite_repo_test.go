package book

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestSQLite(t *testing.T, opts ...SQLiteOption) *SQLiteRepo {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), "sqlite::memory:", 5*time.Second, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepo_Contract(t *testing.T) {
	runRepositoryContract(t, func(t *testing.T) Repository {
		return openTestSQLite(t)
	})
}

// fixedClock returns the same instant until moved.
type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestSQLiteRepo_TiesOrderedByID(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: baseTime}
	svc := NewService(openTestSQLite(t, WithClock(clock.Now)), 2, nil)

	var want []int64
	for _, title := range []string{"A", "B", "C", "D", "E"} {
		b, err := svc.Create(ctx, owner, NewBook{Title: title, Author: "Same Instant"})
		require.NoError(t, err)
		want = append(want, b.ID)
	}

	var got []int64
	cursor := ""
	for {
		page, err := svc.List(ctx, owner, StatusUnread, cursor)
		require.NoError(t, err)
		for _, b := range page.Books {
			assert.True(t, b.CreatedAt.Equal(baseTime))
			got = append(got, b.ID)
		}
		if !page.HasMore {
			break
		}
		cursor = page.NextCursor
	}
	assert.Equal(t, want, got)
}

func TestSQLiteRepo_UpdatedAtAdvancesWhenClockStalls(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: baseTime}
	svc := NewService(openTestSQLite(t, WithClock(clock.Now)), 3, nil)

	b, err := svc.Create(ctx, owner, NewBook{Title: "Clockwork", Author: "Anon"})
	require.NoError(t, err)

	first, err := svc.Update(ctx, owner, b.ID, b.UpdatedAt, Patch{Title: strPtr("Clockwork 2")})
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(time.Microsecond), first.UpdatedAt)

	// A clock that went backwards still yields a newer token.
	clock.Set(baseTime.Add(-time.Hour))
	second, err := svc.Update(ctx, owner, b.ID, first.UpdatedAt, Patch{Title: strPtr("Clockwork 3")})
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(2*time.Microsecond), second.UpdatedAt)

	clock.Set(baseTime.Add(time.Minute))
	third, err := svc.Update(ctx, owner, b.ID, second.UpdatedAt, Patch{Title: strPtr("Clockwork 4")})
	require.NoError(t, err)
	assert.Equal(t, baseTime.Add(time.Minute), third.UpdatedAt)
}

func TestSQLiteRepo_TokenPrecision(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: baseTime.Add(999 * time.Nanosecond)}
	repo := openTestSQLite(t, WithClock(clock.Now))

	b, err := repo.Create(ctx, owner, NewBook{Title: "T", Author: "A", Status: StatusUnread})
	require.NoError(t, err)
	assert.Equal(t, baseTime, b.CreatedAt)
	assert.Equal(t, baseTime, b.UpdatedAt)

	got, err := repo.Get(ctx, owner, b.ID)
	require.NoError(t, err)
	assert.Equal(t, b, got)
}

func TestSQLiteRepo_RawErrors(t *testing.T) {
	ctx := context.Background()
	repo := openTestSQLite(t)

	_, err := repo.Get(ctx, owner, 404)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.UpdateIfUnchanged(ctx, owner, 404, baseTime, Patch{Title: strPtr("x")})
	assert.ErrorIs(t, err, ErrConflict)

	assert.ErrorIs(t, repo.DeleteIfUnchanged(ctx, owner, 404, baseTime), ErrConflict)

	_, err = repo.Create(ctx, owner, NewBook{Title: "T", Author: "A", Status: StatusUnread})
	require.NoError(t, err)
	_, err = repo.Create(ctx, owner, NewBook{Title: "T", Author: "A", Status: StatusRead})
	assert.ErrorIs(t, err, ErrDuplicate)

	assert.NoError(t, repo.Ping(ctx))
}

func TestOpen_SQLiteBackend(t *testing.T) {
	repo, closeRepo, err := Open(context.Background(), "sqlite", "sqlite::memory:", time.Second)
	require.NoError(t, err)
	defer closeRepo()
	assert.NoError(t, repo.Ping(context.Background()))

	_, _, err = Open(context.Background(), "mysql", "mysql://x", time.Second)
	assert.Error(t, err)
}

func TestSQLiteRepo_LaterInsertDoesNotShiftNextPage(t *testing.T) {
	ctx := context.Background()
	clock := &fixedClock{now: baseTime}
	svc := NewService(openTestSQLite(t, WithClock(clock.Now)), 3, nil)

	var original []int64
	for i := 0; i < 6; i++ {
		clock.Set(baseTime.Add(time.Duration(i) * time.Minute))
		b, err := svc.Create(ctx, owner, NewBook{Title: fmt.Sprintf("Shelf %d", i), Author: "Anon"})
		require.NoError(t, err)
		original = append(original, b.ID)
	}

	first, err := svc.List(ctx, owner, StatusUnread, "")
	require.NoError(t, err)

	clock.Set(baseTime.Add(time.Hour))
	late, err := svc.Create(ctx, owner, NewBook{Title: "Arrived late", Author: "Anon"})
	require.NoError(t, err)
	require.True(t, late.CreatedAt.Equal(baseTime.Add(time.Hour)))

	second, err := svc.List(ctx, owner, StatusUnread, first.NextCursor)
	require.NoError(t, err)
	require.Len(t, second.Books, 3)
	for i, b := range second.Books {
		assert.Equal(t, original[3+i], b.ID)
	}
	assert.True(t, second.HasMore)
	assert.Equal(t, 7, second.TotalBooks)
}
