package database

import "playforge/internal/models"

// PersistentModels returns the authoritative set of schema-managed GORM models.
func PersistentModels() []interface{} {
	return []interface{}{
		&models.User{},
		&models.Game{},
		&models.GameLike{},
		&models.Comment{},
		&models.Follow{},
		&models.Conversation{},
		&models.Message{},
		&models.MatchSession{},
		&models.MatchQueueEntry{},
		&models.Notification{},
		&models.PushSubscription{},
		&models.CoinPurchase{},
		&models.CoinLedgerEntry{},
		&models.UserAchievement{},
		&models.GenerationJob{},
		&models.Image{},
		&models.ImageVariant{},
	}
}
