// Package image は画像のアップロード、一覧、閲覧、変更、削除を提供する。
// 閲覧・変更・削除の可否はすべてaccessパッケージの判定を経由する。
package image

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/picshub/internal/access"
	"github.com/hitoshi/picshub/internal/metrics"
	"github.com/hitoshi/picshub/internal/model"
	"github.com/hitoshi/picshub/internal/repository"
	"github.com/hitoshi/picshub/internal/security"
	"github.com/hitoshi/picshub/internal/storage"
)

// DefaultMaxSize はアップロードサイズ上限の既定値（1MiB）。
const DefaultMaxSize = 1 << 20

// 許可する拡張子とContent-Type。
var allowedExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// Outcome は変更・削除操作の結果。
// 権限がない場合はエラーではなくOutcomeRefusedを返す。
type Outcome int

const (
	// OutcomeApplied は操作が反映されたことを表す。
	OutcomeApplied Outcome = iota
	// OutcomeRefused は権限がないため何もしなかったことを表す。
	OutcomeRefused
)

// UploadInput はアップロード要求。
type UploadInput struct {
	OwnerID          model.UserID
	OriginalFilename string
	Data             []byte
	Caption          string
	Visibility       string
}

// UpdateInput はキャプションと公開範囲の変更要求。
// nilのフィールドは変更しない。
type UpdateInput struct {
	Caption    *string
	Visibility *string
}

// Service は画像に関するビジネスロジックを提供する。
type Service struct {
	images    repository.ImageRepository
	store     storage.Storage
	sanitizer security.ContentSanitizerService
	metrics   metrics.MetricsCollector
	maxSize   int64
	now       func() time.Time
}

// NewService はServiceを生成する。maxSizeが0以下の場合はDefaultMaxSizeを使う。
func NewService(
	images repository.ImageRepository,
	store storage.Storage,
	sanitizer security.ContentSanitizerService,
	mc metrics.MetricsCollector,
	maxSize int64,
) *Service {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	if mc == nil {
		mc = metrics.Nop{}
	}
	return &Service{
		images:    images,
		store:     store,
		sanitizer: sanitizer,
		metrics:   mc,
		maxSize:   maxSize,
		now:       time.Now,
	}
}

// MaxSize はアップロードサイズの上限（バイト）を返す。
func (s *Service) MaxSize() int64 {
	return s.maxSize
}

// Upload はファイルを検証して保存し、画像レコードを作成する。
// 公開範囲の指定がない場合はpublicになる。
func (s *Service) Upload(ctx context.Context, in UploadInput) (*model.Image, error) {
	if in.OwnerID.IsZero() {
		return nil, model.NewUserNotFoundError()
	}

	ext := strings.ToLower(filepath.Ext(in.OriginalFilename))
	contentType, ok := allowedExtensions[ext]
	if !ok {
		s.metrics.RecordUpload(metrics.OutcomeRefused)
		return nil, model.NewInvalidUploadError("対応していないファイル形式です")
	}
	if len(in.Data) == 0 {
		s.metrics.RecordUpload(metrics.OutcomeRefused)
		return nil, model.NewInvalidUploadError("ファイルが空です")
	}
	if int64(len(in.Data)) > s.maxSize {
		s.metrics.RecordUpload(metrics.OutcomeRefused)
		return nil, model.NewInvalidUploadError("ファイルサイズが上限を超えています")
	}
	visibility, ok := model.ParseVisibility(in.Visibility)
	if !ok {
		s.metrics.RecordUpload(metrics.OutcomeRefused)
		return nil, invalidVisibilityError()
	}

	now := s.now()
	name := storedName(now, ext)
	ref, err := s.store.Save(ctx, name, in.Data, contentType)
	if err != nil {
		s.metrics.RecordUpload(metrics.OutcomeFailure)
		return nil, fmt.Errorf("failed to store image file: %w", err)
	}

	img := &model.Image{
		ID:         model.ImageID(uuid.NewString()),
		OwnerID:    in.OwnerID,
		Filename:   name,
		Path:       ref,
		Caption:    s.sanitizer.Sanitize(in.Caption),
		Visibility: visibility,
		CreatedAt:  now,
	}
	if err := s.images.Create(ctx, img); err != nil {
		if delErr := s.store.Delete(ctx, ref); delErr != nil {
			slog.Warn("保存済みファイルの削除に失敗しました",
				slog.String("path", ref),
				slog.String("error", delErr.Error()),
			)
		}
		s.metrics.RecordUpload(metrics.OutcomeFailure)
		return nil, fmt.Errorf("failed to create image: %w", err)
	}

	s.metrics.RecordUpload(metrics.OutcomeSuccess)
	slog.Info("画像をアップロードしました",
		slog.String("image_id", img.ID.String()),
		slog.String("user_id", in.OwnerID.String()),
		slog.String("visibility", string(visibility)),
	)
	return img, nil
}

// ListPublic は公開画像を新しい順に所有者情報付きで返す。
func (s *Service) ListPublic(ctx context.Context) ([]model.ImageWithOwner, error) {
	imgs, err := s.images.ListPublic(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list public images: %w", err)
	}
	return imgs, nil
}

// Dashboard はログインユーザー自身の画像を非公開も含めて返す。
func (s *Service) Dashboard(ctx context.Context, requester model.UserID) ([]*model.Image, error) {
	if requester.IsZero() {
		return nil, model.NewUserNotFoundError()
	}
	imgs, err := s.images.ListByOwner(ctx, requester)
	if err != nil {
		return nil, fmt.Errorf("failed to list images by owner: %w", err)
	}
	return imgs, nil
}

// ListPublicByOwner は指定ユーザーの公開画像のみを返す。
func (s *Service) ListPublicByOwner(ctx context.Context, ownerID model.UserID) ([]*model.Image, error) {
	imgs, err := s.images.ListPublicByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list public images by owner: %w", err)
	}
	return imgs, nil
}

// Get は閲覧可能な画像を返す。
// 存在しない画像と閲覧権限のない画像はどちらもIMAGE_NOT_FOUNDになる。
func (s *Service) Get(ctx context.Context, requester model.UserID, id model.ImageID) (*model.Image, error) {
	img, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanRead(requester, img) {
		return nil, model.NewImageNotFoundError(id.String())
	}
	return img, nil
}

// Open は閲覧可能な画像のファイル本文を返す。呼び出し元がCloseすること。
func (s *Service) Open(ctx context.Context, requester model.UserID, id model.ImageID) (*model.Image, io.ReadCloser, error) {
	img, err := s.Get(ctx, requester, id)
	if err != nil {
		return nil, nil, err
	}
	rc, err := s.store.Open(ctx, img.Path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil, model.NewImageNotFoundError(id.String())
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open image file: %w", err)
	}
	return img, rc, nil
}

// Update はキャプションと公開範囲のうち指定されたものだけを変更する。
// 公開範囲は明示的に指定された場合にのみ変わる。
// 所有者以外の要求や存在しない画像に対しては何もせずOutcomeRefusedを返す。
func (s *Service) Update(ctx context.Context, requester model.UserID, id model.ImageID, in UpdateInput) (Outcome, error) {
	var visibility model.Visibility
	if in.Visibility != nil {
		v, ok := parseUpdateVisibility(*in.Visibility)
		if !ok {
			return OutcomeRefused, invalidVisibilityError()
		}
		visibility = v
	}

	img, err := s.lookup(ctx, id)
	if err != nil {
		return OutcomeRefused, err
	}
	if !access.CanMutate(requester, img) {
		s.logRefusal("update", requester, id)
		return OutcomeRefused, nil
	}

	if in.Caption != nil {
		img.Caption = s.sanitizer.Sanitize(*in.Caption)
	}
	if in.Visibility != nil {
		img.Visibility = visibility
	}
	if err := s.images.Update(ctx, img); err != nil {
		return OutcomeRefused, fmt.Errorf("failed to update image: %w", err)
	}

	slog.Info("画像を更新しました",
		slog.String("image_id", id.String()),
		slog.String("visibility", string(img.Visibility)),
	)
	return OutcomeApplied, nil
}

// Delete は画像レコードとファイルを削除する。
// 所有者以外の要求や存在しない画像に対しては何もせずOutcomeRefusedを返す。
func (s *Service) Delete(ctx context.Context, requester model.UserID, id model.ImageID) (Outcome, error) {
	img, err := s.lookup(ctx, id)
	if err != nil {
		return OutcomeRefused, err
	}
	if !access.CanDelete(requester, img) {
		s.logRefusal("delete", requester, id)
		return OutcomeRefused, nil
	}

	if err := s.images.Delete(ctx, id); err != nil {
		return OutcomeRefused, fmt.Errorf("failed to delete image: %w", err)
	}
	// レコード削除後のファイル削除失敗は孤立ファイルが残るだけなので記録のみ
	if err := s.store.Delete(ctx, img.Path); err != nil {
		slog.Warn("画像ファイルの削除に失敗しました",
			slog.String("image_id", id.String()),
			slog.String("error", err.Error()),
		)
	}

	slog.Info("画像を削除しました", slog.String("image_id", id.String()))
	return OutcomeApplied, nil
}

// find は画像を取得する。存在しない場合はIMAGE_NOT_FOUNDを返す。
func (s *Service) find(ctx context.Context, id model.ImageID) (*model.Image, error) {
	img, err := s.lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if img == nil {
		return nil, model.NewImageNotFoundError(id.String())
	}
	return img, nil
}

// lookup は画像を取得する。IDが不正な形式または存在しない場合はnilを返す。
func (s *Service) lookup(ctx context.Context, id model.ImageID) (*model.Image, error) {
	if _, err := uuid.Parse(string(id)); err != nil {
		return nil, nil
	}
	img, err := s.images.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find image: %w", err)
	}
	return img, nil
}

func (s *Service) logRefusal(op string, requester model.UserID, id model.ImageID) {
	slog.Warn("権限のない画像操作を拒否しました",
		slog.String("operation", op),
		slog.String("user_id", requester.String()),
		slog.String("image_id", id.String()),
	)
}

func storedName(now time.Time, ext string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d-%s%s", now.UnixMilli(), suffix, ext)
}

// parseUpdateVisibility は変更時の公開範囲を解釈する。
// アップロード時と異なり空文字列は既定値にせず不正とする。
func parseUpdateVisibility(v string) (model.Visibility, bool) {
	if strings.TrimSpace(v) == "" {
		return "", false
	}
	return model.ParseVisibility(v)
}

func invalidVisibilityError() *model.APIError {
	return model.NewValidationError([]string{"公開範囲は public または private を指定してください。"})
}
