package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"playforge/internal/ai"
	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/observability"
	"playforge/internal/repository"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"gorm.io/gorm"
)

const (
	maxGenerationAttempts = 3
	maxIdempotencyKeyLen  = 64
	generationStaleAfter  = 15 * time.Minute
)

// GameGenerator produces game code and cover art from a prompt.
type GameGenerator interface {
	GenerateGame(ctx context.Context, prompt string) (*ai.GameDraft, error)
	GenerateImage(ctx context.Context, prompt string) ([]byte, error)
	ImageEnabled() bool
}

// GenerationService turns prompts into draft games through a persistent job
// queue worked by one goroutine per process.
type GenerationService struct {
	jobs       repository.GenerationRepository
	games      *GameService
	images     *ImageService
	generator  GameGenerator
	notifier   Notifier
	cost       int64
	workerOnce sync.Once
}

type RequestGameInput struct {
	UserID         uint
	Prompt         string
	RemixOfID      *uint
	IdempotencyKey string
}

func NewGenerationService(
	jobs repository.GenerationRepository,
	games *GameService,
	images *ImageService,
	generator GameGenerator,
	notifier Notifier,
	cost int64,
) *GenerationService {
	return &GenerationService{
		jobs:      jobs,
		games:     games,
		images:    images,
		generator: generator,
		notifier:  notifier,
		cost:      cost,
	}
}

// RequestGame debits the generation cost and queues a job. Repeating a
// request with the same idempotency key returns the original job without a
// second debit.
func (s *GenerationService) RequestGame(ctx context.Context, in RequestGameInput) (*models.GenerationJob, bool, error) {
	prompt := strings.TrimSpace(in.Prompt)
	if prompt == "" {
		return nil, false, models.NewValidationError("Prompt is required")
	}
	if len([]rune(prompt)) > maxPromptLen {
		return nil, false, models.NewValidationError(fmt.Sprintf("Prompt too long (max %d characters)", maxPromptLen))
	}
	key := strings.TrimSpace(in.IdempotencyKey)
	if key == "" {
		key = uuid.NewString()
	}
	if len(key) > maxIdempotencyKeyLen {
		return nil, false, models.NewValidationError(fmt.Sprintf("Idempotency key too long (max %d characters)", maxIdempotencyKeyLen))
	}
	if in.RemixOfID != nil {
		if _, err := s.games.GetGame(ctx, *in.RemixOfID, in.UserID); err != nil {
			return nil, false, err
		}
	}

	job, created, err := s.jobs.Enqueue(ctx, &models.GenerationJob{
		UserID:         in.UserID,
		Kind:           models.GenerationKindGame,
		Prompt:         prompt,
		RemixOfID:      in.RemixOfID,
		CostCoins:      s.cost,
		IdempotencyKey: key,
	})
	if err != nil {
		return nil, false, err
	}
	if created {
		observability.GenerationJobsTotal.WithLabelValues(string(models.JobQueued)).Inc()
		middleware.Logger.InfoContext(ctx, "generation job queued",
			slog.Uint64("job_id", uint64(job.ID)),
			slog.Uint64("user_id", uint64(in.UserID)),
			slog.Int64("cost", job.CostCoins))
	}
	return job, created, nil
}

// GetJob returns a job to its owner.
func (s *GenerationService) GetJob(ctx context.Context, userID, jobID uint) (*models.GenerationJob, error) {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.UserID != userID {
		return nil, models.NewNotFoundError("Generation job", jobID)
	}
	return job, nil
}

// StartWorker launches the job loop once per process.
func (s *GenerationService) StartWorker(ctx context.Context) {
	s.workerOnce.Do(func() {
		go s.workerLoop(ctx)
	})
}

func (s *GenerationService) workerLoop(ctx context.Context) {
	const idleSleep = time.Second

	s.SweepStale(ctx)
	lastSweep := time.Now()

	for {
		if ctx.Err() != nil {
			return
		}
		if time.Since(lastSweep) >= time.Minute {
			s.SweepStale(ctx)
			lastSweep = time.Now()
		}
		if !s.ProcessNext(ctx) {
			if !sleepContext(ctx, idleSleep) {
				return
			}
		}
	}
}

var errJobTimedOut = errors.New("generation timed out")

// SweepStale requeues jobs stuck in processing and fails, with a refund,
// those that already used every attempt.
func (s *GenerationService) SweepStale(ctx context.Context) {
	n, err := s.jobs.RequeueStaleProcessing(ctx, generationStaleAfter, maxGenerationAttempts)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "stale generation requeue failed", slog.String("error", err.Error()))
		return
	}
	if n > 0 {
		middleware.Logger.InfoContext(ctx, "requeued stale generation jobs", slog.Int64("count", n))
	}

	ids, err := s.jobs.StaleExhausted(ctx, generationStaleAfter, maxGenerationAttempts)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "stale generation scan failed", slog.String("error", err.Error()))
		return
	}
	for _, id := range ids {
		job, err := s.jobs.GetByID(ctx, id)
		if err != nil {
			continue
		}
		s.handleFailure(ctx, job, errJobTimedOut)
	}
}

// ProcessNext claims and runs one queued job. It reports whether a job was
// claimed.
func (s *GenerationService) ProcessNext(ctx context.Context) bool {
	job, err := s.jobs.ClaimNextQueued(ctx)
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) && !isNotFound(err) {
			middleware.Logger.WarnContext(ctx, "generation claim failed", slog.String("error", err.Error()))
		}
		return false
	}

	jobCtx, op := observability.StartOperation(ctx, "generation",
		slog.Uint64("job_id", uint64(job.ID)), slog.Int("attempt", job.Attempts))
	jobCtx, span := observability.StartSpan(jobCtx, "generation", "process",
		attribute.Int64("job.id", int64(job.ID)), attribute.Int("job.attempt", job.Attempts))

	game, err := s.run(jobCtx, job)
	observability.EndSpan(span, err)
	if err != nil {
		op.Fail(err)
		s.handleFailure(jobCtx, job, err)
		return true
	}

	if err := s.jobs.MarkSucceeded(jobCtx, job.ID, game.ID); err != nil {
		op.Fail(err, slog.String("stage", "mark_succeeded"))
		return true
	}
	observability.GenerationJobsTotal.WithLabelValues(string(models.JobSucceeded)).Inc()
	op.Done(slog.Uint64("game_id", uint64(game.ID)))

	notify(jobCtx, s.notifier, NotifyInput{
		UserID:   job.UserID,
		Type:     models.NotificationGameReady,
		EntityID: game.ID,
		Body:     fmt.Sprintf("%q is ready to play", game.Title),
		Data:     map[string]string{"job_id": fmt.Sprint(job.ID)},
	})
	return true
}

func (s *GenerationService) run(ctx context.Context, job *models.GenerationJob) (*models.Game, error) {
	if s.generator == nil {
		return nil, models.NewUpstreamError("LLM", ai.ErrNotConfigured)
	}

	prompt := job.Prompt
	if job.RemixOfID != nil {
		src, err := s.games.GetGame(ctx, *job.RemixOfID, job.UserID)
		if err != nil {
			return nil, err
		}
		prompt = remixPrompt(src, job.Prompt)
	}

	draft, err := s.generator.GenerateGame(ctx, prompt)
	if err != nil {
		return nil, err
	}
	if len(draft.HTML) > maxCodeBytes {
		return nil, errors.New("generated game exceeds size limit")
	}

	title := strings.TrimSpace(draft.Title)
	if title == "" {
		title = truncate(job.Prompt, 60)
	}
	in := CreateGameInput{
		UserID:      job.UserID,
		Title:       truncate(title, maxTitleLen),
		Description: truncate(draft.Description, maxDescriptionLen),
		Prompt:      job.Prompt,
		Code:        draft.HTML,
		RemixOfID:   job.RemixOfID,
	}
	if img := s.thumbnail(ctx, job.UserID, in.Title, in.Description); img != nil {
		in.ThumbnailURL = s.images.MasterURL(img.Hash)
		in.ThumbnailHash = img.Hash
	}
	return s.games.CreateGame(ctx, in)
}

// thumbnail is best effort; a game without cover art is still a game.
func (s *GenerationService) thumbnail(ctx context.Context, userID uint, title, description string) *models.Image {
	if s.images == nil || !s.generator.ImageEnabled() {
		return nil
	}
	data, err := s.generator.GenerateImage(ctx, fmt.Sprintf(
		"Colourful cover art for a browser game called %q. %s No text or logos.", title, description))
	if err != nil {
		middleware.Logger.WarnContext(ctx, "thumbnail generation failed", slog.String("error", err.Error()))
		return nil
	}
	img, err := s.images.StoreGenerated(ctx, userID, data)
	if err != nil {
		middleware.Logger.WarnContext(ctx, "thumbnail store failed", slog.String("error", err.Error()))
		return nil
	}
	return img
}

func (s *GenerationService) handleFailure(ctx context.Context, job *models.GenerationJob, cause error) {
	if job.Attempts < maxGenerationAttempts {
		if err := s.jobs.Retry(ctx, job.ID, cause.Error()); err != nil {
			middleware.Logger.ErrorContext(ctx, "failed to requeue generation job",
				slog.Uint64("job_id", uint64(job.ID)), slog.String("error", err.Error()))
		}
		observability.GenerationJobsTotal.WithLabelValues("retried").Inc()
		return
	}

	refunded, err := s.jobs.Fail(ctx, job.ID, cause.Error())
	if err != nil {
		middleware.Logger.ErrorContext(ctx, "failed to mark generation job failed",
			slog.Uint64("job_id", uint64(job.ID)), slog.String("error", err.Error()))
		return
	}
	observability.GenerationJobsTotal.WithLabelValues(string(models.JobFailed)).Inc()
	middleware.Logger.WarnContext(ctx, "generation job failed",
		slog.Uint64("job_id", uint64(job.ID)),
		slog.Bool("refunded", refunded),
		slog.String("error", cause.Error()))

	body := "Your game could not be generated"
	if refunded {
		body += fmt.Sprintf("; %d coins were refunded", job.CostCoins)
	}
	notify(ctx, s.notifier, NotifyInput{
		UserID:   job.UserID,
		Type:     models.NotificationGameFailed,
		EntityID: job.ID,
		Body:     body,
		Data:     map[string]string{"job_id": fmt.Sprint(job.ID)},
	})
}

func remixPrompt(src *models.Game, request string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rework the game %q.\n", src.Title)
	if src.Description != "" {
		fmt.Fprintf(&b, "Original description: %s\n", src.Description)
	}
	fmt.Fprintf(&b, "Requested changes: %s\n", request)
	if src.Code != "" && len(src.Code) <= maxCodeBytes/4 {
		b.WriteString("Original source:\n```html\n")
		b.WriteString(src.Code)
		b.WriteString("\n```\n")
	}
	return b.String()
}
