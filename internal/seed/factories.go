// Package seed provides helpers to create demo data for development and
// tests. Nothing here runs in production.
package seed

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"playforge/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultPassword is the password of every seeded user.
const DefaultPassword = "password123"

var usernameCleaner = regexp.MustCompile(`[^a-z0-9_]`)

// Options tune the factory.
type Options struct {
	// SkipBcrypt stores a cheap hash; seeded users still log in with
	// DefaultPassword.
	SkipBcrypt bool
	// MaxDays spreads created_at over the last N days.
	MaxDays int
	// Seed makes the generated content reproducible. Zero uses the clock.
	Seed int64
}

// Factory builds domain entities and persists them.
type Factory struct {
	db   *gorm.DB
	opts Options
	fake *gofakeit.Faker

	passwordHash string
}

// NewFactory creates a Factory bound to db.
func NewFactory(db *gorm.DB, opts Options) (*Factory, error) {
	if opts.MaxDays <= 0 {
		opts.MaxDays = 90
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	cost := bcrypt.DefaultCost
	if opts.SkipBcrypt {
		cost = bcrypt.MinCost
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(DefaultPassword), cost)
	if err != nil {
		return nil, err
	}

	return &Factory{db: db, opts: opts, fake: gofakeit.New(seed), passwordHash: string(hash)}, nil
}

func (f *Factory) pastTime() time.Time {
	mins := f.fake.Number(0, f.opts.MaxDays*24*60)
	return time.Now().Add(-time.Duration(mins) * time.Minute)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func (f *Factory) username() string {
	name := usernameCleaner.ReplaceAllString(strings.ToLower(f.fake.Username()), "")
	if len(name) > 20 {
		name = name[:20]
	}
	if len(name) < 3 {
		name = "player"
	}
	return fmt.Sprintf("%s_%d", name, f.fake.Number(100, 99999))
}

// CreateUser constructs and persists a sample user. Overrides run before
// the insert.
func (f *Factory) CreateUser(overrides ...func(*models.User)) (*models.User, error) {
	username := f.username()
	user := &models.User{
		Username:    username,
		Email:       username + "@example.com",
		Password:    f.passwordHash,
		DisplayName: f.fake.FirstName() + " " + f.fake.LastName(),
		Bio:         f.fake.Sentence(10),
		AvatarURL:   fmt.Sprintf("https://api.dicebear.com/7.x/pixel-art/svg?seed=%s", username),
		CreatedAt:   f.pastTime(),
	}
	for _, override := range overrides {
		override(user)
	}
	if err := f.db.Create(user).Error; err != nil {
		return nil, err
	}
	return user, nil
}

// BuildGame constructs a published game for owner without saving it.
func (f *Factory) BuildGame(owner *models.User, overrides ...func(*models.Game)) *models.Game {
	tpl := gameTemplates[f.fake.Number(0, len(gameTemplates)-1)]
	title := capitalize(f.fake.Adjective()) + " " + capitalize(f.fake.Noun()) + " " + capitalize(tpl.name)
	created := f.pastTime()

	game := &models.Game{
		UserID:      owner.ID,
		Title:       title,
		Description: f.fake.Sentence(12),
		Prompt:      fmt.Sprintf("Make a %s game about a %s", tpl.name, f.fake.Noun()),
		Code:        tpl.render(title, f.fake.HexColor(), f.fake.HexColor()),
		Status:      models.GameStatusPublished,
		PlayCount:   int64(f.fake.Number(0, 500)),
		Tags:        models.JoinTags(append([]string{tpl.name}, tpl.tags...)),
		PublishedAt: &created,
		CreatedAt:   created,
	}
	for _, override := range overrides {
		override(game)
	}
	if game.Status != models.GameStatusPublished {
		game.PublishedAt = nil
	}
	return game
}

// CreateGame builds and persists a game for owner.
func (f *Factory) CreateGame(owner *models.User, overrides ...func(*models.Game)) (*models.Game, error) {
	game := f.BuildGame(owner, overrides...)
	if err := f.db.Omit("User").Create(game).Error; err != nil {
		return nil, err
	}
	return game, nil
}

// CreateGamesBatch persists games in batches.
func (f *Factory) CreateGamesBatch(games []*models.Game, batchSize int) error {
	if len(games) == 0 {
		return nil
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return f.db.Omit("User").CreateInBatches(games, batchSize).Error
}

// CreateComment persists a comment by user on game.
func (f *Factory) CreateComment(user *models.User, game *models.Game, overrides ...func(*models.Comment)) (*models.Comment, error) {
	comment := &models.Comment{
		GameID:    game.ID,
		UserID:    user.ID,
		Content:   f.fake.Sentence(f.fake.Number(3, 14)),
		CreatedAt: f.pastTime(),
	}
	for _, override := range overrides {
		override(comment)
	}
	if err := f.db.Omit("User").Create(comment).Error; err != nil {
		return nil, err
	}
	return comment, nil
}

// CreateLike records user liking game. Repeats are ignored.
func (f *Factory) CreateLike(user *models.User, game *models.Game) error {
	return f.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.GameLike{UserID: user.ID, GameID: game.ID}).Error
}

// CreateFollow records follower following followee. Repeats and self
// follows are ignored.
func (f *Factory) CreateFollow(follower, followee *models.User) error {
	if follower.ID == followee.ID {
		return nil
	}
	return f.db.Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models.Follow{FollowerID: follower.ID, FolloweeID: followee.ID}).Error
}

// CreateConversation opens a thread between a and b with a few messages.
func (f *Factory) CreateConversation(a, b *models.User, messages int) (*models.Conversation, error) {
	low, high := models.OrderedPair(a.ID, b.ID)
	conv := &models.Conversation{UserLowID: low, UserHighID: high}
	if err := f.db.Where(models.Conversation{UserLowID: low, UserHighID: high}).FirstOrCreate(conv).Error; err != nil {
		return nil, err
	}

	at := f.pastTime()
	for i := 0; i < messages; i++ {
		sender := a
		if i%2 == 1 {
			sender = b
		}
		at = at.Add(time.Duration(f.fake.Number(1, 90)) * time.Minute)
		msg := &models.Message{
			ConversationID: conv.ID,
			SenderID:       sender.ID,
			Content:        f.fake.Sentence(f.fake.Number(2, 12)),
			CreatedAt:      at,
		}
		if err := f.db.Omit("Sender").Create(msg).Error; err != nil {
			return nil, err
		}
		conv.LastMessageAt = &msg.CreatedAt
	}
	if conv.LastMessageAt != nil {
		if err := f.db.Model(conv).Update("last_message_at", conv.LastMessageAt).Error; err != nil {
			return nil, err
		}
	}
	return conv, nil
}
