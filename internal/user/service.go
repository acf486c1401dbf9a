// Package user はプロフィールの参照・更新と公開プロフィールを提供する。
package user

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // JPEGアバターのデコード
	"image/png"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/hitoshi/picshub/internal/model"
	"github.com/hitoshi/picshub/internal/repository"
	"github.com/hitoshi/picshub/internal/security"
)

// DefaultMaxAvatarSize はアバター画像のサイズ上限の既定値（1MiB）。
const DefaultMaxAvatarSize = 1 << 20

// MaxAvatarPixels はデコードを許可するアバターの総ピクセル数の上限。
// ヘッダーで巨大な寸法を宣言する小さなファイルによるメモリ確保を防ぐ。
const MaxAvatarPixels = 4096 * 4096

// PublicImageLister は指定ユーザーの公開画像一覧を返すインターフェース。
// image.Serviceが実装する。
type PublicImageLister interface {
	ListPublicByOwner(ctx context.Context, ownerID model.UserID) ([]*model.Image, error)
}

// ProfileUpdate はプロフィール更新要求。
// Interestが空の場合とAvatarがnilの場合は既存の値を維持する。
type ProfileUpdate struct {
	Name     string
	Interest string
	Avatar   []byte
}

// PublicProfile は他ユーザーに見せるプロフィールと公開画像。
type PublicProfile struct {
	User   *model.User
	Images []*model.Image
}

// Service はプロフィールのサービス層。
type Service struct {
	userRepo      repository.UserRepository
	images        PublicImageLister
	sanitizer     security.ContentSanitizerService
	maxAvatarSize int
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	images PublicImageLister,
	sanitizer security.ContentSanitizerService,
) *Service {
	return &Service{
		userRepo:      userRepo,
		images:        images,
		sanitizer:     sanitizer,
		maxAvatarSize: DefaultMaxAvatarSize,
	}
}

// GetProfile はユーザーのスナップショットを返す。
func (s *Service) GetProfile(ctx context.Context, id model.UserID) (*model.User, error) {
	u, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return u.Snapshot(), nil
}

// UpdateProfile はユーザーをIDで読み込み、変更を適用して永続化し、新しいスナップショットを返す。
// セッションに紐づいたオブジェクトを直接書き換えることはない。
func (s *Service) UpdateProfile(ctx context.Context, id model.UserID, in ProfileUpdate) (*model.User, error) {
	name := s.sanitizer.Sanitize(in.Name)
	if strings.TrimSpace(name) == "" {
		return nil, model.NewValidationError([]string{"名前を入力してください。"})
	}

	var avatar []byte
	if in.Avatar != nil {
		normalized, err := s.normalizeAvatar(in.Avatar)
		if err != nil {
			return nil, err
		}
		avatar = normalized
	}

	u, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	u.Name = name
	if strings.TrimSpace(in.Interest) != "" {
		u.Interest = s.sanitizer.Sanitize(in.Interest)
	}
	if avatar != nil {
		u.Avatar = avatar
	}
	if err := s.userRepo.UpdateProfile(ctx, u); err != nil {
		return nil, fmt.Errorf("プロフィールの更新に失敗しました: %w", err)
	}

	slog.Info("プロフィールを更新しました",
		slog.String("user_id", id.String()),
		slog.Bool("avatar_updated", avatar != nil),
	)

	// 永続化後の状態を読み直して返す
	return s.GetProfile(ctx, id)
}

// PublicProfile は指定ユーザーのプロフィールと公開画像のみを返す。
// メールアドレスとパスワードハッシュは含めない。
func (s *Service) PublicProfile(ctx context.Context, id model.UserID) (*PublicProfile, error) {
	u, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	imgs, err := s.images.ListPublicByOwner(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("公開画像の取得に失敗しました: %w", err)
	}

	snap := u.Snapshot()
	snap.Email = ""
	snap.PasswordHash = ""
	return &PublicProfile{User: snap, Images: imgs}, nil
}

func (s *Service) load(ctx context.Context, id model.UserID) (*model.User, error) {
	if id.IsZero() {
		return nil, model.NewUserNotFoundError()
	}
	// users.idはUUID列のため、形式の異なるIDは問い合わせずに未登録として扱う
	if _, err := uuid.Parse(string(id)); err != nil {
		return nil, model.NewUserNotFoundError()
	}
	u, err := s.userRepo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}

// normalizeAvatar はJPEGまたはPNGのアバターをデコードし、PNGに再エンコードする。
func (s *Service) normalizeAvatar(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, model.NewInvalidUploadError("ファイルが空です")
	}
	if len(data) > s.maxAvatarSize {
		return nil, model.NewInvalidUploadError("ファイルサイズが上限を超えています")
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, model.NewInvalidUploadError("画像として読み込めません")
	}
	if format != "jpeg" && format != "png" {
		return nil, model.NewInvalidUploadError("対応していないファイル形式です")
	}
	if cfg.Width <= 0 || cfg.Height <= 0 || int64(cfg.Width)*int64(cfg.Height) > MaxAvatarPixels {
		return nil, model.NewInvalidUploadError("画像の寸法が大きすぎます")
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, model.NewInvalidUploadError("画像として読み込めません")
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("アバターのエンコードに失敗しました: %w", err)
	}
	return buf.Bytes(), nil
}
