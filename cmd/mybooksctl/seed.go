package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"

	"mybooks/internal/book"
	"mybooks/internal/config"
	"mybooks/internal/logging"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var seedWords = []string{
	"Adventure", "Mystery", "Journey", "Discovery", "Secrets", "Dreams", "Hope",
	"Love", "War", "Peace", "Science", "Nature", "Technology", "History", "Future",
	"Past", "Present", "Reality", "Imagination", "Wisdom", "Life", "Death",
	"Light", "Darkness", "World", "Universe", "Time", "Space", "Mind", "Soul",
}

var seedAuthors = []string{
	"Ursula K. Le Guin", "Octavia E. Butler", "Italo Calvino", "Toni Morrison",
	"Jorge Luis Borges", "Kazuo Ishiguro", "Chimamanda Ngozi Adichie", "Stanisław Lem",
}

func newSeedCmd(loadConfig func() (config.Config, error)) *cobra.Command {
	var (
		userID   string
		count    int
		readFrac float64
	)

	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Create sample books for one user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if count <= 0 {
				return errors.New("--count must be positive")
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.ValidateStore(); err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel)
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			backend, err := cfg.Backend()
			if err != nil {
				return err
			}
			repo, closeRepo, err := book.Open(cmd.Context(), backend, cfg.DatabaseDSN, cfg.DBTimeout)
			if err != nil {
				return err
			}
			defer closeRepo()

			svc := book.NewService(repo, cfg.PageSize, logger)
			created, err := seedBooks(cmd.Context(), svc, userID, count, readFrac, cmd.OutOrStdout())
			logger.Info("seed finished", zap.String("user_id", userID), zap.Int("created", created))
			return err
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owner of the generated books")
	cmd.Flags().IntVar(&count, "count", 20, "number of books to create")
	cmd.Flags().Float64Var(&readFrac, "read", 0.3, "fraction of books marked READ")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

// seedBooks creates count books for ownerID. Title collisions are skipped.
func seedBooks(ctx context.Context, svc *book.Service, ownerID string, count int, readFrac float64, out io.Writer) (int, error) {
	created := 0
	for i := 0; i < count; i++ {
		status := book.StatusUnread
		if rand.Float64() < readFrac {
			status = book.StatusRead
		}
		desc := fmt.Sprintf("A book about %s.", randomWord())
		in := book.NewBook{
			Title:       fmt.Sprintf("%s and %s, Vol. %d", randomWord(), randomWord(), i+1),
			Author:      seedAuthors[rand.IntN(len(seedAuthors))],
			Description: &desc,
			Status:      status,
		}
		if _, err := svc.Create(ctx, ownerID, in); err != nil {
			if errors.Is(err, book.ErrDuplicate) {
				continue
			}
			return created, fmt.Errorf("seed book %d: %w", i+1, err)
		}
		created++
	}
	fmt.Fprintf(out, "created %d books for %s\n", created, ownerID)
	return created, nil
}

func randomWord() string {
	return seedWords[rand.IntN(len(seedWords))]
}
