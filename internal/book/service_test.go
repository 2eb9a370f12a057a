package book

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const owner = "user_1"

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func sampleBooks(n int) []Book {
	books := make([]Book, n)
	for i := range books {
		books[i] = Book{
			ID:        int64(i + 1),
			OwnerID:   owner,
			Title:     "Title",
			Author:    "Author",
			Status:    StatusUnread,
			CreatedAt: baseTime.Add(time.Duration(i) * time.Second),
			UpdatedAt: baseTime.Add(time.Duration(i) * time.Second),
		}
	}
	return books
}

func strPtr(s string) *string { return &s }

func TestService_List(t *testing.T) {
	ctx := context.Background()

	t.Run("first page with more", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := NewMockRepository(ctrl)
		svc := NewService(repo, 3, nil)
		books := sampleBooks(4)

		repo.EXPECT().Count(ctx, owner, StatusUnread).Return(4, nil)
		repo.EXPECT().ListPage(ctx, owner, StatusUnread, (*Cursor)(nil), 4).Return(books, nil)

		page, err := svc.List(ctx, owner, StatusUnread, "")
		require.NoError(t, err)
		assert.Equal(t, 4, page.TotalBooks)
		assert.Len(t, page.Books, 3)
		assert.True(t, page.HasMore)
		assert.Equal(t, EncodeCursor(CursorFor(books[2])), page.NextCursor)
	})

	t.Run("last page", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := NewMockRepository(ctrl)
		svc := NewService(repo, 3, nil)
		books := sampleBooks(4)
		cursor := EncodeCursor(CursorFor(books[2]))

		repo.EXPECT().Count(ctx, owner, StatusUnread).Return(4, nil)
		repo.EXPECT().ListPage(ctx, owner, StatusUnread, gomock.Not(gomock.Nil()), 4).
			DoAndReturn(func(_ context.Context, _ string, _ Status, after *Cursor, _ int) ([]Book, error) {
				assert.Equal(t, int64(3), after.ID)
				assert.True(t, after.CreatedAt.Equal(books[2].CreatedAt))
				return books[3:], nil
			})

		page, err := svc.List(ctx, owner, StatusUnread, cursor)
		require.NoError(t, err)
		assert.Len(t, page.Books, 1)
		assert.False(t, page.HasMore)
		assert.Empty(t, page.NextCursor)
	})

	t.Run("empty list is not nil", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := NewMockRepository(ctrl)
		svc := NewService(repo, 3, nil)

		repo.EXPECT().Count(ctx, owner, StatusRead).Return(0, nil)
		repo.EXPECT().ListPage(ctx, owner, StatusRead, gomock.Nil(), 4).Return(nil, nil)

		page, err := svc.List(ctx, owner, StatusRead, "")
		require.NoError(t, err)
		assert.NotNil(t, page.Books)
		assert.Empty(t, page.Books)
	})

	t.Run("invalid status never reaches storage", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc := NewService(NewMockRepository(ctrl), 3, nil)

		_, err := svc.List(ctx, owner, Status("DONE"), "")
		assert.ErrorIs(t, err, ErrInvalidStatus)
	})

	t.Run("invalid cursor never reaches storage", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc := NewService(NewMockRepository(ctrl), 3, nil)

		_, err := svc.List(ctx, owner, StatusUnread, "%%%")
		assert.ErrorIs(t, err, ErrInvalidCursor)
	})

	t.Run("count error", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := NewMockRepository(ctrl)
		svc := NewService(repo, 3, nil)
		boom := errors.New("boom")

		repo.EXPECT().Count(ctx, owner, StatusUnread).Return(0, boom)

		_, err := svc.List(ctx, owner, StatusUnread, "")
		assert.ErrorIs(t, err, boom)
	})
}

func TestNewService_PageSize(t *testing.T) {
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)

	assert.Equal(t, DefaultPageSize, NewService(repo, 0, nil).PageSize())
	assert.Equal(t, DefaultPageSize, NewService(repo, MaxPageSize+1, nil).PageSize())
	assert.Equal(t, 10, NewService(repo, 10, nil).PageSize())
}

func TestService_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("defaults and trims", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := NewMockRepository(ctrl)
		svc := NewService(repo, 3, nil)

		want := NewBook{Title: "Dune", Author: "Frank Herbert", Status: StatusUnread}
		repo.EXPECT().Create(ctx, owner, want).Return(Book{ID: 1, Title: "Dune"}, nil)

		b, err := svc.Create(ctx, owner, NewBook{Title: "  Dune ", Author: "Frank Herbert", Description: strPtr("")})
		require.NoError(t, err)
		assert.Equal(t, int64(1), b.ID)
	})

	t.Run("missing fields", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc := NewService(NewMockRepository(ctrl), 3, nil)

		_, err := svc.Create(ctx, owner, NewBook{Title: " "})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Len(t, verr.Fields, 2)
	})

	t.Run("too long description", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc := NewService(NewMockRepository(ctrl), 3, nil)

		long := strings.Repeat("x", maxDescriptionLen+1)
		_, err := svc.Create(ctx, owner, NewBook{Title: "a", Author: "b", Description: &long})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "description", verr.Fields[0].Field)
	})

	t.Run("duplicate", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := NewMockRepository(ctrl)
		svc := NewService(repo, 3, nil)

		repo.EXPECT().Create(ctx, owner, gomock.Any()).Return(Book{}, ErrDuplicate)

		_, err := svc.Create(ctx, owner, NewBook{Title: "a", Author: "b"})
		assert.ErrorIs(t, err, ErrDuplicate)
	})
}

func TestService_Update(t *testing.T) {
	ctx := context.Background()
	read := StatusRead

	t.Run("passes truncated token", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := NewMockRepository(ctrl)
		svc := NewService(repo, 3, nil)

		expected := baseTime.Add(123456789 * time.Nanosecond)
		updated := Book{ID: 1, Status: StatusRead, UpdatedAt: baseTime.Add(time.Second)}
		repo.EXPECT().
			UpdateIfUnchanged(ctx, owner, int64(1), expected.Truncate(time.Microsecond), Patch{Status: &read}).
			Return(updated, nil)

		b, err := svc.Update(ctx, owner, 1, expected, Patch{Status: &read})
		require.NoError(t, err)
		assert.Equal(t, updated, b)
	})

	t.Run("conflict", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := NewMockRepository(ctrl)
		svc := NewService(repo, 3, nil)

		repo.EXPECT().UpdateIfUnchanged(ctx, owner, int64(1), baseTime, gomock.Any()).Return(Book{}, ErrConflict)

		_, err := svc.Update(ctx, owner, 1, baseTime, Patch{Status: &read})
		assert.ErrorIs(t, err, ErrConflict)
	})

	t.Run("missing token", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc := NewService(NewMockRepository(ctrl), 3, nil)

		_, err := svc.Update(ctx, owner, 1, time.Time{}, Patch{Status: &read})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "updatedAt", verr.Fields[0].Field)
	})

	t.Run("empty patch", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc := NewService(NewMockRepository(ctrl), 3, nil)

		_, err := svc.Update(ctx, owner, 1, baseTime, Patch{})
		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("blank title", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc := NewService(NewMockRepository(ctrl), 3, nil)

		_, err := svc.Update(ctx, owner, 1, baseTime, Patch{Title: strPtr("   ")})
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Equal(t, "title", verr.Fields[0].Field)
	})

	t.Run("non-positive id conflicts", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc := NewService(NewMockRepository(ctrl), 3, nil)

		_, err := svc.Update(ctx, owner, 0, baseTime, Patch{Status: &read})
		assert.ErrorIs(t, err, ErrConflict)
	})
}

func TestService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("success", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := NewMockRepository(ctrl)
		svc := NewService(repo, 3, nil)

		repo.EXPECT().DeleteIfUnchanged(ctx, owner, int64(2), baseTime).Return(nil)
		assert.NoError(t, svc.Delete(ctx, owner, 2, baseTime))
	})

	t.Run("stale token", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		repo := NewMockRepository(ctrl)
		svc := NewService(repo, 3, nil)

		repo.EXPECT().DeleteIfUnchanged(ctx, owner, int64(2), baseTime).Return(ErrConflict)
		assert.ErrorIs(t, svc.Delete(ctx, owner, 2, baseTime), ErrConflict)
	})

	t.Run("missing token", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		svc := NewService(NewMockRepository(ctrl), 3, nil)

		var verr *ValidationError
		assert.ErrorAs(t, svc.Delete(ctx, owner, 2, time.Time{}), &verr)
	})
}

func TestService_Get(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	repo := NewMockRepository(ctrl)
	svc := NewService(repo, 3, nil)

	repo.EXPECT().Get(ctx, owner, int64(9)).Return(Book{}, ErrNotFound)

	_, err := svc.Get(ctx, owner, 9)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Get(ctx, owner, -1)
	assert.ErrorIs(t, err, ErrNotFound)
}
