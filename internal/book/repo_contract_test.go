package book

import (
	"context"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runRepositoryContract checks list and guarded-write behaviour against a real
// backend. Every subtest uses fresh owner IDs so backends may share state.
func runRepositoryContract(t *testing.T, newRepo func(t *testing.T) Repository) {
	ctx := context.Background()

	newOwner := func() string { return "user_" + uuid.NewString() }

	// Titles are numbered across every seed call so repeated seeding for one
	// owner never trips the title/author uniqueness rule.
	seq := 0
	seed := func(t *testing.T, svc *Service, ownerID string, n int, status Status) []Book {
		t.Helper()
		books := make([]Book, 0, n)
		for i := 0; i < n; i++ {
			seq++
			b, err := svc.Create(ctx, ownerID, NewBook{
				Title:  fmt.Sprintf("%s Book %03d", status, seq),
				Author: "Author",
				Status: status,
			})
			require.NoError(t, err)
			books = append(books, b)
		}
		return books
	}

	walk := func(t *testing.T, svc *Service, ownerID string, status Status) ([]int64, []Page) {
		t.Helper()
		var ids []int64
		var pages []Page
		cursor := ""
		for i := 0; ; i++ {
			require.Less(t, i, 100, "pagination did not terminate")
			page, err := svc.List(ctx, ownerID, status, cursor)
			require.NoError(t, err)
			pages = append(pages, page)
			for _, b := range page.Books {
				ids = append(ids, b.ID)
			}
			if !page.HasMore {
				assert.Empty(t, page.NextCursor)
				return ids, pages
			}
			require.NotEmpty(t, page.NextCursor)
			cursor = page.NextCursor
		}
	}

	t.Run("four records with page size three", func(t *testing.T) {
		svc := NewService(newRepo(t), 3, nil)
		ownerID := newOwner()
		books := seed(t, svc, ownerID, 4, StatusUnread)

		first, err := svc.List(ctx, ownerID, StatusUnread, "")
		require.NoError(t, err)
		assert.Equal(t, 4, first.TotalBooks)
		assert.True(t, first.HasMore)
		require.Len(t, first.Books, 3)
		assert.Equal(t, EncodeCursor(CursorFor(books[2])), first.NextCursor)

		second, err := svc.List(ctx, ownerID, StatusUnread, first.NextCursor)
		require.NoError(t, err)
		assert.Equal(t, 4, second.TotalBooks)
		assert.False(t, second.HasMore)
		assert.Empty(t, second.NextCursor)
		require.Len(t, second.Books, 1)
		assert.Equal(t, books[3].ID, second.Books[0].ID)
	})

	t.Run("pagination visits every matching record once", func(t *testing.T) {
		svc := NewService(newRepo(t), 3, nil)
		ownerID := newOwner()
		unread := seed(t, svc, ownerID, 10, StatusUnread)
		seed(t, svc, ownerID, 2, StatusRead)
		seed(t, svc, newOwner(), 3, StatusUnread)

		ids, pages := walk(t, svc, ownerID, StatusUnread)

		want := make([]int64, 0, len(unread))
		for _, b := range unread {
			want = append(want, b.ID)
		}
		if diff := cmp.Diff(want, ids); diff != "" {
			t.Fatalf("walked ids mismatch (-want +got):\n%s", diff)
		}
		assert.Len(t, pages, 4)
		for _, p := range pages {
			assert.Equal(t, 10, p.TotalBooks)
			for _, b := range p.Books {
				assert.Equal(t, ownerID, b.OwnerID)
				assert.Equal(t, StatusUnread, b.Status)
			}
		}
	})

	t.Run("unrelated inserts do not shift pages", func(t *testing.T) {
		svc := NewService(newRepo(t), 3, nil)
		ownerID := newOwner()
		original := seed(t, svc, ownerID, 6, StatusUnread)

		first, err := svc.List(ctx, ownerID, StatusUnread, "")
		require.NoError(t, err)
		require.True(t, first.HasMore)

		seed(t, svc, newOwner(), 4, StatusUnread)
		seed(t, svc, ownerID, 1, StatusRead)
		late := seed(t, svc, ownerID, 1, StatusUnread)[0]
		assert.False(t, late.CreatedAt.Before(original[5].CreatedAt))

		second, err := svc.List(ctx, ownerID, StatusUnread, first.NextCursor)
		require.NoError(t, err)
		assert.Equal(t, 7, second.TotalBooks)
		assert.True(t, second.HasMore, "the new book now follows the original six")

		var got []int64
		for _, b := range append(first.Books, second.Books...) {
			got = append(got, b.ID)
		}
		var want []int64
		for _, b := range original {
			want = append(want, b.ID)
		}
		assert.Equal(t, want, got)

		third, err := svc.List(ctx, ownerID, StatusUnread, second.NextCursor)
		require.NoError(t, err)
		require.Len(t, third.Books, 1)
		assert.Equal(t, late.ID, third.Books[0].ID)
		assert.False(t, third.HasMore)
	})

	t.Run("cursor past the last book yields an empty final page", func(t *testing.T) {
		svc := NewService(newRepo(t), 3, nil)
		ownerID := newOwner()
		books := seed(t, svc, ownerID, 3, StatusUnread)

		page, err := svc.List(ctx, ownerID, StatusUnread, EncodeCursor(CursorFor(books[2])))
		require.NoError(t, err)
		assert.Empty(t, page.Books)
		assert.False(t, page.HasMore)
		assert.Empty(t, page.NextCursor)
		assert.Equal(t, 3, page.TotalBooks)
	})

	t.Run("guarded update advances updatedAt", func(t *testing.T) {
		svc := NewService(newRepo(t), 3, nil)
		ownerID := newOwner()
		b := seed(t, svc, ownerID, 1, StatusUnread)[0]

		read := StatusRead
		updated, err := svc.Update(ctx, ownerID, b.ID, b.UpdatedAt, Patch{Status: &read, Description: strPtr("loved it")})
		require.NoError(t, err)
		assert.Equal(t, StatusRead, updated.Status)
		require.NotNil(t, updated.Description)
		assert.Equal(t, "loved it", *updated.Description)
		assert.True(t, updated.UpdatedAt.After(b.UpdatedAt), "updatedAt %s not after %s", updated.UpdatedAt, b.UpdatedAt)
		assert.True(t, updated.CreatedAt.Equal(b.CreatedAt))

		// The returned token is immediately usable for the next edit.
		again, err := svc.Update(ctx, ownerID, b.ID, updated.UpdatedAt, Patch{Description: strPtr("")})
		require.NoError(t, err)
		assert.Nil(t, again.Description)
		assert.True(t, again.UpdatedAt.After(updated.UpdatedAt))
	})

	t.Run("stale token conflicts and keeps first write", func(t *testing.T) {
		svc := NewService(newRepo(t), 3, nil)
		ownerID := newOwner()
		b := seed(t, svc, ownerID, 1, StatusUnread)[0]

		_, err := svc.Update(ctx, ownerID, b.ID, b.UpdatedAt, Patch{Title: strPtr("First")})
		require.NoError(t, err)

		_, err = svc.Update(ctx, ownerID, b.ID, b.UpdatedAt, Patch{Title: strPtr("Second")})
		assert.ErrorIs(t, err, ErrConflict)

		current, err := svc.Get(ctx, ownerID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "First", current.Title)
	})

	t.Run("other owners cannot see or change a book", func(t *testing.T) {
		svc := NewService(newRepo(t), 3, nil)
		ownerID := newOwner()
		intruder := newOwner()
		b := seed(t, svc, ownerID, 1, StatusUnread)[0]

		_, err := svc.Get(ctx, intruder, b.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		_, err = svc.Update(ctx, intruder, b.ID, b.UpdatedAt, Patch{Title: strPtr("Mine now")})
		assert.ErrorIs(t, err, ErrConflict)

		assert.ErrorIs(t, svc.Delete(ctx, intruder, b.ID, b.UpdatedAt), ErrConflict)

		current, err := svc.Get(ctx, ownerID, b.ID)
		require.NoError(t, err)
		assert.Equal(t, b.Title, current.Title)
	})

	t.Run("guarded delete", func(t *testing.T) {
		svc := NewService(newRepo(t), 3, nil)
		ownerID := newOwner()
		b := seed(t, svc, ownerID, 1, StatusUnread)[0]

		updated, err := svc.Update(ctx, ownerID, b.ID, b.UpdatedAt, Patch{Author: strPtr("Editor")})
		require.NoError(t, err)

		assert.ErrorIs(t, svc.Delete(ctx, ownerID, b.ID, b.UpdatedAt), ErrConflict)
		_, err = svc.Get(ctx, ownerID, b.ID)
		require.NoError(t, err)

		require.NoError(t, svc.Delete(ctx, ownerID, b.ID, updated.UpdatedAt))
		_, err = svc.Get(ctx, ownerID, b.ID)
		assert.ErrorIs(t, err, ErrNotFound)

		assert.ErrorIs(t, svc.Delete(ctx, ownerID, b.ID, updated.UpdatedAt), ErrConflict)
	})

	t.Run("title and author are unique per owner", func(t *testing.T) {
		svc := NewService(newRepo(t), 3, nil)
		ownerID := newOwner()
		first, err := svc.Create(ctx, ownerID, NewBook{Title: "Dune", Author: "Frank Herbert"})
		require.NoError(t, err)

		_, err = svc.Create(ctx, ownerID, NewBook{Title: "Dune", Author: "Frank Herbert", Status: StatusRead})
		assert.ErrorIs(t, err, ErrDuplicate)

		page, err := svc.List(ctx, ownerID, StatusUnread, "")
		require.NoError(t, err)
		assert.Equal(t, 1, page.TotalBooks)
		read, err := svc.List(ctx, ownerID, StatusRead, "")
		require.NoError(t, err)
		assert.Equal(t, 0, read.TotalBooks)

		_, err = svc.Create(ctx, newOwner(), NewBook{Title: "Dune", Author: "Frank Herbert"})
		assert.NoError(t, err)

		other, err := svc.Create(ctx, ownerID, NewBook{Title: "Dune Messiah", Author: "Frank Herbert"})
		require.NoError(t, err)
		_, err = svc.Update(ctx, ownerID, other.ID, other.UpdatedAt, Patch{Title: strPtr("Dune")})
		assert.ErrorIs(t, err, ErrDuplicate)

		unchanged, err := svc.Get(ctx, ownerID, first.ID)
		require.NoError(t, err)
		assert.Equal(t, "Dune", unchanged.Title)
	})

	t.Run("distinct cover urls", func(t *testing.T) {
		svc := NewService(newRepo(t), 3, nil)
		ownerID := newOwner()
		cover := "https://covers.example.com/" + uuid.NewString()
		_, err := svc.Create(ctx, ownerID, NewBook{Title: "A", Author: "X", CoverImageURL: &cover})
		require.NoError(t, err)
		_, err = svc.Create(ctx, newOwner(), NewBook{Title: "B", Author: "Y", CoverImageURL: &cover})
		require.NoError(t, err)

		urls, err := svc.CoverURLs(ctx)
		require.NoError(t, err)
		count := 0
		for _, u := range urls {
			if u == cover {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})
}
