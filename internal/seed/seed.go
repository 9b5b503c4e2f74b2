package seed

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"playforge/internal/database"
	"playforge/internal/middleware"
	"playforge/internal/models"

	"gorm.io/gorm"
)

// Preset describes how much data a seeding run creates.
type Preset struct {
	Name            string
	Users           int
	GamesPerUser    int
	LikesPerGame    int
	CommentsPerGame int
	FollowsPerUser  int
	Conversations   int
	StartingCoins   int64
}

// Presets are the named seeding profiles.
var Presets = map[string]Preset{
	"minimal": {
		Name:            "minimal",
		Users:           4,
		GamesPerUser:    1,
		LikesPerGame:    2,
		CommentsPerGame: 1,
		FollowsPerUser:  2,
		Conversations:   1,
		StartingCoins:   100,
	},
	"demo": {
		Name:            "demo",
		Users:           40,
		GamesPerUser:    3,
		LikesPerGame:    12,
		CommentsPerGame: 4,
		FollowsPerUser:  8,
		Conversations:   15,
		StartingCoins:   250,
	},
}

// PresetNames lists the available presets in a stable order.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Summary counts what a seeding run created.
type Summary struct {
	Users         int `json:"users"`
	Games         int `json:"games"`
	Likes         int `json:"likes"`
	Comments      int `json:"comments"`
	Follows       int `json:"follows"`
	Conversations int `json:"conversations"`
}

// Seeder applies presets to a database.
type Seeder struct {
	db      *gorm.DB
	factory *Factory
}

func NewSeeder(db *gorm.DB, opts Options) (*Seeder, error) {
	f, err := NewFactory(db, opts)
	if err != nil {
		return nil, err
	}
	return &Seeder{db: db, factory: f}, nil
}

// Factory exposes the underlying factory for ad-hoc data.
func (s *Seeder) Factory() *Factory { return s.factory }

// ApplyPreset seeds the named preset.
func (s *Seeder) ApplyPreset(ctx context.Context, name string) (*Summary, error) {
	p, ok := Presets[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("unknown seed preset %q (available: %s)", name, strings.Join(PresetNames(), ", "))
	}
	return s.Seed(ctx, p)
}

// Seed creates users, their games, and the social graph between them.
func (s *Seeder) Seed(ctx context.Context, p Preset) (*Summary, error) {
	f := s.factory
	sum := &Summary{}
	log := middleware.Logger.With(slog.String("preset", p.Name))
	log.InfoContext(ctx, "seeding started", slog.Int("users", p.Users))

	users := make([]*models.User, 0, p.Users)
	for i := 0; i < p.Users; i++ {
		u, err := f.CreateUser(func(u *models.User) { u.Coins = p.StartingCoins })
		if err != nil {
			return sum, fmt.Errorf("create user: %w", err)
		}
		users = append(users, u)
	}
	sum.Users = len(users)
	if len(users) == 0 {
		return sum, nil
	}

	games := make([]*models.Game, 0, len(users)*p.GamesPerUser)
	for _, u := range users {
		for j := 0; j < p.GamesPerUser; j++ {
			games = append(games, f.BuildGame(u))
		}
	}
	if err := f.CreateGamesBatch(games, 100); err != nil {
		return sum, fmt.Errorf("create games: %w", err)
	}
	sum.Games = len(games)

	for _, g := range games {
		for _, u := range s.pick(users, p.LikesPerGame, g.UserID) {
			if err := f.CreateLike(u, g); err != nil {
				return sum, fmt.Errorf("create like: %w", err)
			}
			sum.Likes++
		}
		for _, u := range s.pick(users, p.CommentsPerGame, 0) {
			if _, err := f.CreateComment(u, g); err != nil {
				return sum, fmt.Errorf("create comment: %w", err)
			}
			sum.Comments++
		}
	}

	for _, u := range users {
		for _, other := range s.pick(users, p.FollowsPerUser, u.ID) {
			if err := f.CreateFollow(u, other); err != nil {
				return sum, fmt.Errorf("create follow: %w", err)
			}
			sum.Follows++
		}
	}

	for i := 0; i < p.Conversations && len(users) > 1; i++ {
		pair := s.pick(users, 2, 0)
		if len(pair) < 2 {
			break
		}
		if _, err := f.CreateConversation(pair[0], pair[1], f.fake.Number(2, 8)); err != nil {
			return sum, fmt.Errorf("create conversation: %w", err)
		}
		sum.Conversations++
	}

	log.InfoContext(ctx, "seeding finished",
		slog.Int("games", sum.Games),
		slog.Int("likes", sum.Likes),
		slog.Int("comments", sum.Comments),
		slog.Int("follows", sum.Follows))
	return sum, nil
}

// pick returns up to n distinct users, skipping exclude.
func (s *Seeder) pick(users []*models.User, n int, exclude uint) []*models.User {
	if n <= 0 {
		return nil
	}
	idx := make([]int, len(users))
	for i := range idx {
		idx[i] = i
	}
	s.factory.fake.ShuffleInts(idx)

	out := make([]*models.User, 0, n)
	for _, i := range idx {
		if users[i].ID == exclude {
			continue
		}
		out = append(out, users[i])
		if len(out) == n {
			break
		}
	}
	return out
}

// ClearAll deletes every row the application owns. Postgres tables are
// truncated; other dialects fall back to per-table deletes.
func (s *Seeder) ClearAll(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	persistent := database.PersistentModels()

	tables := make([]string, 0, len(persistent))
	for _, m := range persistent {
		stmt := &gorm.Statement{DB: db}
		if err := stmt.Parse(m); err != nil {
			return err
		}
		tables = append(tables, stmt.Schema.Table)
	}

	if db.Dialector.Name() == "postgres" {
		return db.Exec("TRUNCATE TABLE " + strings.Join(tables, ", ") + " RESTART IDENTITY CASCADE").Error
	}
	for i := len(tables) - 1; i >= 0; i-- {
		if err := db.Exec("DELETE FROM " + tables[i]).Error; err != nil {
			return fmt.Errorf("clear %s: %w", tables[i], err)
		}
	}
	return nil
}
