package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"playforge/internal/media"
	"playforge/internal/middleware"
	"playforge/internal/models"
	"playforge/internal/repository"
	"playforge/internal/storage"

	"gorm.io/gorm"
)

const (
	DefaultImageMaxUploadSizeMB = 10
	maxImageAttempts            = 3
	imageStaleAfter             = 15 * time.Minute
)

// mediaKeyPattern matches every key ImageService writes:
// <sha256>/master.<ext> and <sha256>/<px>.<ext>.
var mediaKeyPattern = regexp.MustCompile(`^[0-9a-f]{64}/(master|[0-9]{3,4})\.(jpg|webp)$`)

type UploadImageInput struct {
	UserID      uint
	Filename    string
	ContentType string
	Content     []byte
}

// ImageView is an image with client-facing URLs.
type ImageView struct {
	*models.Image
	URL         string            `json:"url"`
	VariantURLs map[string]string `json:"variant_urls,omitempty"`
}

// ImageService stores thumbnails and avatars in the media bucket. Uploads
// get their master synchronously; the size ladder is rendered by a
// background worker.
type ImageService struct {
	repo       repository.ImageRepository
	bucket     *storage.Bucket
	maxBytes   int64
	workerOnce sync.Once
}

func NewImageService(repo repository.ImageRepository, bucket *storage.Bucket, maxUploadSizeMB int) *ImageService {
	if maxUploadSizeMB <= 0 {
		maxUploadSizeMB = DefaultImageMaxUploadSizeMB
	}
	return &ImageService{
		repo:     repo,
		bucket:   bucket,
		maxBytes: int64(maxUploadSizeMB) << 20,
	}
}

// Upload validates a user upload and stores its master.
func (s *ImageService) Upload(ctx context.Context, in UploadImageInput) (*models.Image, error) {
	switch {
	case in.UserID == 0:
		return nil, models.NewValidationError("Invalid user")
	case len(in.Content) == 0:
		return nil, models.NewValidationError("No file uploaded")
	case int64(len(in.Content)) > s.maxBytes:
		return nil, models.NewValidationError(fmt.Sprintf("File too large (max %dMB)", s.maxBytes>>20))
	}

	decoded, _, err := media.Decode(in.Content, in.ContentType)
	switch {
	case errors.Is(err, media.ErrTypeMismatch):
		return nil, models.NewValidationError("Image content type mismatch")
	case errors.Is(err, media.ErrUnsupported):
		return nil, models.NewValidationError("Unsupported image format")
	case err != nil:
		return nil, models.NewValidationError("Invalid image file")
	}
	return s.store(ctx, in.UserID, in.Filename, decoded)
}

// StoreGenerated runs AI-produced image bytes through the same pipeline.
func (s *ImageService) StoreGenerated(ctx context.Context, userID uint, data []byte) (*models.Image, error) {
	decoded, format, err := media.Decode(data, "")
	if err != nil {
		return nil, fmt.Errorf("generated image: %w", err)
	}
	return s.store(ctx, userID, "generated."+format, decoded)
}

func (s *ImageService) store(ctx context.Context, userID uint, filename string, decoded image.Image) (*models.Image, error) {
	if s.bucket == nil || s.repo == nil {
		return nil, models.NewInternalError(errors.New("image storage not configured"))
	}

	master, aspect := media.Master(decoded)
	masterJPG, err := media.JPEG.Encode(master)
	if err != nil {
		return nil, models.NewInternalError(err)
	}

	// The same picture uploaded twice by one user maps to one record.
	hash := imageHash(userID, masterJPG)
	if existing, err := s.repo.GetByHashWithVariants(ctx, hash); err == nil {
		return existing, nil
	} else if !isMissing(err) {
		return nil, models.NewInternalError(err)
	}

	masterWebP, err := media.WebP.Encode(master)
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	jpgKey, webpKey := masterKey(hash, media.JPEG.Ext), masterKey(hash, media.WebP.Ext)
	if err := s.bucket.Put(ctx, jpgKey, masterJPG, media.JPEG.ContentType); err != nil {
		return nil, models.NewInternalError(err)
	}
	if err := s.bucket.Put(ctx, webpKey, masterWebP, media.WebP.ContentType); err != nil {
		_ = s.bucket.Delete(ctx, jpgKey)
		return nil, models.NewInternalError(err)
	}

	mb := master.Bounds()
	stored, _, err := s.repo.Create(ctx, &models.Image{
		Hash:             hash,
		UserID:           userID,
		OriginalFilename: truncate(filename, 255),
		MimeType:         media.JPEG.ContentType,
		SizeBytes:        int64(len(masterJPG)),
		Width:            mb.Dx(),
		Height:           mb.Dy(),
		MasterKey:        jpgKey,
		CropMode:         aspect.Name,
		Status:           models.ImageStatusQueued,
	})
	if err != nil {
		return nil, models.NewInternalError(err)
	}
	return stored, nil
}

// Resolve returns an image by hash and stamps its last access.
func (s *ImageService) Resolve(ctx context.Context, hash string) (*models.Image, error) {
	if !isValidImageHash(hash) {
		return nil, models.NewValidationError("Invalid image hash")
	}
	img, err := s.repo.GetByHashWithVariants(ctx, hash)
	if err != nil {
		if isMissing(err) {
			return nil, models.NewNotFoundError("Image", hash)
		}
		return nil, models.NewInternalError(err)
	}
	if err := s.repo.UpdateLastAccessed(ctx, img.ID); err != nil {
		middleware.Logger.DebugContext(ctx, "image access stamp failed", slog.String("error", err.Error()))
	} else {
		now := time.Now().UTC()
		img.LastAccessedAt = &now
	}
	return img, nil
}

// View decorates img with bucket URLs.
func (s *ImageService) View(img *models.Image) *ImageView {
	return &ImageView{
		Image:       img,
		URL:         s.MasterURL(img.Hash),
		VariantURLs: s.BuildVariantsMap(img.Hash, img.Variants),
	}
}

// Object reads a media object for the /media passthrough. Only keys this
// service writes are served.
func (s *ImageService) Object(ctx context.Context, key string) ([]byte, string, error) {
	key = strings.TrimPrefix(key, "/")
	if !mediaKeyPattern.MatchString(key) {
		return nil, "", models.NewNotFoundError("Media", key)
	}
	return s.bucket.Get(ctx, key)
}

func (s *ImageService) MasterURL(hash string) string {
	return s.bucket.PublicURL(masterKey(hash, media.JPEG.Ext))
}

// BuildVariantsMap keys variant URLs by "<px>_<ext>", e.g. "320_webp".
func (s *ImageService) BuildVariantsMap(hash string, variants []models.ImageVariant) map[string]string {
	m := make(map[string]string, len(variants))
	for _, v := range variants {
		m[strconv.Itoa(v.SizePx)+"_"+v.Format] = s.bucket.PublicURL(variantKey(hash, v.SizePx, v.Format))
	}
	return m
}

func masterKey(hash, ext string) string {
	return hash + "/master." + ext
}

func variantKey(hash string, px int, ext string) string {
	return hash + "/" + strconv.Itoa(px) + "." + ext
}

func isValidImageHash(hash string) bool {
	if hash == "" || len(hash) > 128 {
		return false
	}
	return strings.Trim(hash, "0123456789abcdef") == ""
}

func imageHash(userID uint, content []byte) string {
	h := sha256.New()
	_, _ = fmt.Fprintf(h, "%d:", userID)
	h.Write(content)
	return hex.EncodeToString(h.Sum(nil))
}

func isMissing(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound) || isNotFound(err)
}

// StartBackgroundWorker renders variants until ctx is cancelled. Calling it
// more than once has no further effect.
func (s *ImageService) StartBackgroundWorker(ctx context.Context) {
	if s.repo == nil || s.bucket == nil {
		return
	}
	s.workerOnce.Do(func() {
		go s.workerLoop(ctx)
	})
}

func (s *ImageService) workerLoop(ctx context.Context) {
	const idleSleep = 750 * time.Millisecond

	var lastRequeue time.Time
	for ctx.Err() == nil {
		if time.Since(lastRequeue) >= time.Minute {
			if n, err := s.repo.RequeueStaleProcessing(ctx, imageStaleAfter, maxImageAttempts); err == nil && n > 0 {
				middleware.Logger.InfoContext(ctx, "requeued stale image jobs", slog.Int64("count", n))
			}
			lastRequeue = time.Now()
		}
		if !s.ProcessNext(ctx) && !sleepContext(ctx, idleSleep) {
			return
		}
	}
}

// ProcessNext renders variants for one queued image. It reports whether an
// image was claimed.
func (s *ImageService) ProcessNext(ctx context.Context) bool {
	img, err := s.repo.ClaimNextQueued(ctx)
	if err != nil {
		if !isMissing(err) {
			middleware.Logger.WarnContext(ctx, "image claim failed", slog.String("error", err.Error()))
		}
		return false
	}

	if err := s.renderVariants(ctx, img); err != nil {
		requeue := img.ProcessingAttempts < maxImageAttempts
		middleware.Logger.WarnContext(ctx, "image variant rendering failed",
			slog.Uint64("image_id", uint64(img.ID)),
			slog.Int("attempt", img.ProcessingAttempts),
			slog.Bool("requeue", requeue),
			slog.String("error", err.Error()))
		if ferr := s.repo.MarkFailed(ctx, img.ID, err.Error(), requeue); ferr != nil {
			middleware.Logger.ErrorContext(ctx, "failed to mark image failed",
				slog.Uint64("image_id", uint64(img.ID)), slog.String("error", ferr.Error()))
		}
	}
	return true
}

func (s *ImageService) renderVariants(ctx context.Context, img *models.Image) error {
	data, _, err := s.bucket.Get(ctx, img.MasterKey)
	if err != nil {
		return err
	}
	master, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return err
	}

	for _, size := range media.Ladder {
		if !size.Fits(master.Bounds()) {
			continue
		}
		rendered := media.Fit(master, size.Px)
		rb := rendered.Bounds()
		for _, f := range media.Formats {
			out, err := f.Encode(rendered)
			if err != nil {
				return fmt.Errorf("encode %d.%s: %w", size.Px, f.Ext, err)
			}
			key := variantKey(img.Hash, size.Px, f.Ext)
			if err := s.bucket.Put(ctx, key, out, f.ContentType); err != nil {
				return err
			}
			if err := s.repo.UpsertVariant(ctx, &models.ImageVariant{
				ImageID:  img.ID,
				SizeName: size.Name,
				SizePx:   size.Px,
				Format:   f.Ext,
				Key:      key,
				Width:    rb.Dx(),
				Height:   rb.Dy(),
				Bytes:    int64(len(out)),
			}); err != nil {
				return err
			}
		}
	}
	return s.repo.MarkReady(ctx, img.ID)
}
