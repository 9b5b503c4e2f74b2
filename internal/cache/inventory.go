package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

const (
	UserKeyPrefix      = "user:%d"
	GameKeyPrefix      = "game:%d"
	FeedKeyPrefix      = "feed:%s:%d"
	GIFSearchKeyPrefix = "gifs:%s:%d"
	PlayKeyPrefix      = "play:%d:%s"
	feedPattern        = "feed:*"
)

const (
	UserTTL = 5 * time.Minute
	GameTTL = 10 * time.Minute
	FeedTTL = 30 * time.Second
	GIFTTL  = 10 * time.Minute
	PlayTTL = time.Hour
)

func UserKey(userID uint) string {
	return fmt.Sprintf(UserKeyPrefix, userID)
}

func GameKey(gameID uint) string {
	return fmt.Sprintf(GameKeyPrefix, gameID)
}

// FeedKey identifies one anonymous feed page.
func FeedKey(sort string, limit int) string {
	return fmt.Sprintf(FeedKeyPrefix, sort, limit)
}

// GIFSearchKey hashes the query so arbitrary user input never lands in a key.
func GIFSearchKey(query string, limit int) string {
	sum := sha1.Sum([]byte(strings.ToLower(strings.TrimSpace(query))))
	return fmt.Sprintf(GIFSearchKeyPrefix, hex.EncodeToString(sum[:8]), limit)
}

// PlayKey marks that viewer already counted a play of gameID. viewer is
// "u<id>" for signed in users and "ip<addr>" otherwise.
func PlayKey(gameID uint, viewer string) string {
	return fmt.Sprintf(PlayKeyPrefix, gameID, viewer)
}

func Invalidate(ctx context.Context, key string) {
	if client != nil {
		client.Del(ctx, key)
	}
}

func InvalidateUser(ctx context.Context, userID uint) {
	Invalidate(ctx, UserKey(userID))
}

func InvalidateGame(ctx context.Context, gameID uint) {
	Invalidate(ctx, GameKey(gameID))
}

// InvalidateFeeds drops every cached feed page.
func InvalidateFeeds(ctx context.Context) {
	if client == nil {
		return
	}
	iter := client.Scan(ctx, 0, feedPattern, 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if len(keys) > 0 {
		client.Del(ctx, keys...)
	}
}
