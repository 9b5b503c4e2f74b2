package models

import "time"

// JobStatus is the state of an asynchronous generation job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// GenerationKindGame is the only job kind today.
const GenerationKindGame = "game"

// GenerationJob is a prompt waiting to become a game.
type GenerationJob struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	UserID         uint       `gorm:"not null;uniqueIndex:idx_generation_jobs_user_key" json:"user_id"`
	Kind           string     `gorm:"size:16;not null;default:'game'" json:"kind"`
	Prompt         string     `gorm:"type:text;not null" json:"prompt"`
	RemixOfID      *uint      `json:"remix_of_id,omitempty"`
	Status         JobStatus  `gorm:"type:varchar(20);not null;default:'queued';index" json:"status"`
	Attempts       int        `gorm:"not null;default:0" json:"attempts"`
	ResultGameID   *uint      `json:"result_game_id,omitempty"`
	Error          string     `gorm:"type:text" json:"error,omitempty"`
	CostCoins      int64      `gorm:"not null;default:0" json:"cost_coins"`
	Refunded       bool       `gorm:"not null;default:false" json:"refunded"`
	IdempotencyKey string     `gorm:"size:64;not null;uniqueIndex:idx_generation_jobs_user_key" json:"idempotency_key"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	FinishedAt     *time.Time `json:"finished_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Terminal reports whether the job will not change again.
func (j *GenerationJob) Terminal() bool {
	return j.Status == JobSucceeded || j.Status == JobFailed
}
