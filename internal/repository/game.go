package repository

import (
	"context"
	"strings"
	"time"

	"playforge/internal/cache"
	"playforge/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Feed sort orders.
const (
	SortNew       = "new"
	SortHot       = "hot"
	SortTop       = "top"
	SortFollowing = "following"
)

// FeedQuery selects a page of published games.
type FeedQuery struct {
	Sort     string
	Tag      string
	ViewerID uint
	Limit    int
	Offset   int
}

// GameRepository defines persistence operations for games and likes.
type GameRepository interface {
	Create(ctx context.Context, game *models.Game) error
	GetByID(ctx context.Context, id uint, viewerID uint) (*models.Game, error)
	Update(ctx context.Context, game *models.Game) error
	SetStatus(ctx context.Context, id uint, status models.GameStatus) error
	Delete(ctx context.Context, id uint) error
	Feed(ctx context.Context, q FeedQuery) ([]*models.Game, error)
	ListByUser(ctx context.Context, userID uint, includeDrafts bool, viewerID uint, limit, offset int) ([]*models.Game, error)
	Search(ctx context.Context, query string, viewerID uint, limit, offset int) ([]*models.Game, error)
	// Like returns true when a new like row was written.
	Like(ctx context.Context, userID, gameID uint) (bool, error)
	// Unlike returns true when a like row was removed.
	Unlike(ctx context.Context, userID, gameID uint) (bool, error)
	IncrementPlayCount(ctx context.Context, gameID uint) error
	CountPublished(ctx context.Context, userID uint) (int64, error)
	CountLikesReceived(ctx context.Context, userID uint) (int64, error)
	SumPlaysReceived(ctx context.Context, userID uint) (int64, error)
}

type gameRepository struct {
	db *gorm.DB
}

// NewGameRepository creates a new game repository
func NewGameRepository(db *gorm.DB) GameRepository {
	return &gameRepository{db: db}
}

const (
	likesCountExpr    = "(SELECT COUNT(*) FROM game_likes WHERE game_likes.game_id = games.id)"
	commentsCountExpr = "(SELECT COUNT(*) FROM comments WHERE comments.game_id = games.id AND comments.deleted_at IS NULL)"

	// Feed rows skip code and prompt, which can be hundreds of KiB each.
	gameListColumns = "games.id, games.user_id, games.title, games.description, games.thumbnail_url, " +
		"games.thumbnail_hash, games.status, games.remix_of_id, games.play_count, games.tags, " +
		"games.published_at, games.created_at, games.updated_at"
)

// withDetails adds subqueries to fetch counts and liked status in a single query.
func withDetails(db *gorm.DB, columns string, viewerID uint) *gorm.DB {
	selectQuery := columns + ", " +
		commentsCountExpr + " AS comments_count, " +
		likesCountExpr + " AS likes_count"

	if viewerID != 0 {
		return db.Select(selectQuery+", EXISTS(SELECT 1 FROM game_likes WHERE game_likes.game_id = games.id AND game_likes.user_id = ?) AS liked", viewerID)
	}
	return db.Select(selectQuery + ", false AS liked")
}

func (r *gameRepository) Create(ctx context.Context, game *models.Game) error {
	if err := r.db.WithContext(ctx).Omit("User").Create(game).Error; err != nil {
		return models.NewInternalError(err)
	}
	return nil
}

func (r *gameRepository) GetByID(ctx context.Context, id uint, viewerID uint) (*models.Game, error) {
	var game models.Game
	load := func() error {
		err := withDetails(readDB(r.db).WithContext(ctx).Model(&models.Game{}), "games.*", viewerID).
			Preload("User").
			Where("games.id = ?", id).
			First(&game).Error
		return notFoundOr(err, "Game", id)
	}

	var err error
	if viewerID == 0 {
		err = cache.Aside(ctx, cache.GameKey(id), &game, cache.GameTTL, load)
	} else {
		err = load()
	}
	if err != nil {
		return nil, err
	}
	return &game, nil
}

// Update writes editable content fields.
func (r *gameRepository) Update(ctx context.Context, game *models.Game) error {
	err := r.db.WithContext(ctx).Model(&models.Game{}).Where("id = ?", game.ID).
		Updates(map[string]interface{}{
			"title":          game.Title,
			"description":    game.Description,
			"code":           game.Code,
			"tags":           game.Tags,
			"thumbnail_url":  game.ThumbnailURL,
			"thumbnail_hash": game.ThumbnailHash,
		}).Error
	if err != nil {
		return models.NewInternalError(err)
	}
	cache.InvalidateGame(ctx, game.ID)
	return nil
}

// SetStatus moves a game between draft, published and archived. The first
// publish stamps published_at.
func (r *gameRepository) SetStatus(ctx context.Context, id uint, status models.GameStatus) error {
	updates := map[string]interface{}{"status": status}
	if status == models.GameStatusPublished {
		updates["published_at"] = gorm.Expr("COALESCE(published_at, ?)", time.Now().UTC())
	}
	res := r.db.WithContext(ctx).Model(&models.Game{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return models.NewInternalError(res.Error)
	}
	if res.RowsAffected == 0 {
		return models.NewNotFoundError("Game", id)
	}
	cache.InvalidateGame(ctx, id)
	cache.InvalidateFeeds(ctx)
	return nil
}

func (r *gameRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.Game{}, id).Error; err != nil {
		return models.NewInternalError(err)
	}
	cache.InvalidateGame(ctx, id)
	cache.InvalidateFeeds(ctx)
	return nil
}

// applySort appends the ORDER BY (and optional WHERE) clause for the requested sort.
// PostgreSQL does not resolve output aliases inside ORDER BY expressions, so
// the hot score repeats the count subqueries.
func (r *gameRepository) applySort(db *gorm.DB, sort string) *gorm.DB {
	switch sort {
	case SortHot:
		if r.db.Name() == "postgres" {
			return db.Order(gorm.Expr(
				"(" + likesCountExpr + " + " + commentsCountExpr + " * 2.0 + games.play_count * 0.1) / " +
					"POWER(EXTRACT(EPOCH FROM (NOW() - games.published_at)) / 3600.0 + 2, 1.5) DESC, games.id DESC",
			))
		}
		return db.Order("likes_count + comments_count * 2 DESC").Order("games.published_at DESC")
	case SortTop:
		return db.Order("likes_count DESC").Order("games.play_count DESC").Order("games.id DESC")
	default:
		return db.Order("games.published_at DESC").Order("games.id DESC")
	}
}

func (r *gameRepository) Feed(ctx context.Context, q FeedQuery) ([]*models.Game, error) {
	limit, offset := clampPage(q.Limit, q.Offset)

	base := withDetails(readDB(r.db).WithContext(ctx).Model(&models.Game{}), gameListColumns, q.ViewerID).
		Preload("User").
		Where("games.status = ?", models.GameStatusPublished)

	if q.Sort == SortFollowing {
		if q.ViewerID == 0 {
			return []*models.Game{}, nil
		}
		base = base.Where("games.user_id IN (SELECT followee_id FROM follows WHERE follower_id = ?)", q.ViewerID)
	}
	if tag := strings.ToLower(strings.TrimSpace(q.Tag)); tag != "" {
		base = base.Where("(',' || games.tags || ',') LIKE ?", "%,"+tag+",%")
	}

	var games []*models.Game
	err := r.applySort(base, q.Sort).
		Limit(limit).
		Offset(offset).
		Find(&games).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return games, nil
}

func (r *gameRepository) ListByUser(ctx context.Context, userID uint, includeDrafts bool, viewerID uint, limit, offset int) ([]*models.Game, error) {
	limit, offset = clampPage(limit, offset)

	q := withDetails(readDB(r.db).WithContext(ctx).Model(&models.Game{}), gameListColumns, viewerID).
		Preload("User").
		Where("games.user_id = ?", userID)
	if !includeDrafts {
		q = q.Where("games.status = ?", models.GameStatusPublished)
	}

	var games []*models.Game
	err := q.Order("games.created_at DESC").Limit(limit).Offset(offset).Find(&games).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return games, nil
}

func (r *gameRepository) Search(ctx context.Context, query string, viewerID uint, limit, offset int) ([]*models.Game, error) {
	limit, offset = clampPage(limit, offset)
	like := "%" + strings.ToLower(strings.TrimSpace(query)) + "%"

	var games []*models.Game
	err := withDetails(readDB(r.db).WithContext(ctx).Model(&models.Game{}), gameListColumns, viewerID).
		Preload("User").
		Where("games.status = ?", models.GameStatusPublished).
		Where("LOWER(games.title) LIKE ? OR LOWER(games.description) LIKE ? OR LOWER(games.tags) LIKE ?", like, like, like).
		Order("games.published_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&games).Error
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return games, nil
}

func (r *gameRepository) Like(ctx context.Context, userID, gameID uint) (bool, error) {
	like := models.GameLike{UserID: userID, GameID: gameID}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&like)
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	cache.InvalidateGame(ctx, gameID)
	return res.RowsAffected > 0, nil
}

func (r *gameRepository) Unlike(ctx context.Context, userID, gameID uint) (bool, error) {
	res := r.db.WithContext(ctx).Where("user_id = ? AND game_id = ?", userID, gameID).Delete(&models.GameLike{})
	if res.Error != nil {
		return false, models.NewInternalError(res.Error)
	}
	cache.InvalidateGame(ctx, gameID)
	return res.RowsAffected > 0, nil
}

func (r *gameRepository) IncrementPlayCount(ctx context.Context, gameID uint) error {
	err := r.db.WithContext(ctx).Model(&models.Game{}).Where("id = ?", gameID).
		UpdateColumn("play_count", gorm.Expr("play_count + 1")).Error
	return internal(err)
}

func (r *gameRepository) CountPublished(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Game{}).
		Where("user_id = ? AND status = ?", userID, models.GameStatusPublished).
		Count(&n).Error
	return n, internal(err)
}

func (r *gameRepository) CountLikesReceived(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.GameLike{}).
		Joins("JOIN games ON games.id = game_likes.game_id AND games.deleted_at IS NULL").
		Where("games.user_id = ?", userID).
		Count(&n).Error
	return n, internal(err)
}

func (r *gameRepository) SumPlaysReceived(ctx context.Context, userID uint) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&models.Game{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(play_count), 0)").
		Scan(&n).Error
	return n, internal(err)
}
