package handler

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/picshub/internal/middleware"
	"github.com/hitoshi/picshub/internal/model"
	"github.com/hitoshi/picshub/internal/user"
)

// avatarFormLimit はプロフィール更新フォーム全体の上限。
const avatarFormLimit = user.DefaultMaxAvatarSize + multipartOverhead

// UserServiceInterface はユーザーハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	GetProfile(ctx context.Context, id model.UserID) (*model.User, error)
	UpdateProfile(ctx context.Context, id model.UserID, in user.ProfileUpdate) (*model.User, error)
	PublicProfile(ctx context.Context, id model.UserID) (*user.PublicProfile, error)
}

var _ UserServiceInterface = (*user.Service)(nil)

// UserHandler はプロフィールのHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type publicProfileResponse struct {
	User   userResponse    `json:"user"`
	Images []imageResponse `json:"images"`
}

// Profile はログインユーザー自身のプロフィールを返す。
// GET /api/users/me
func (h *UserHandler) Profile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	u, err := h.service.GetProfile(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// UpdateProfile は名前・関心事・アバターを更新する。
// アバターを送信しなかった場合は既存のアバターを維持する。
// PUT /api/users/me（multipart: name, interest, avatar）
func (h *UserHandler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, avatarFormLimit)
	if err := r.ParseMultipartForm(avatarFormLimit); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidUploadError("ファイルサイズが上限を超えています"))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidUploadError("フォームを読み込めません"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	in := user.ProfileUpdate{
		Name:     r.FormValue("name"),
		Interest: r.FormValue("interest"),
	}

	file, _, err := r.FormFile("avatar")
	switch {
	case errors.Is(err, http.ErrMissingFile):
	case err != nil:
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidUploadError("アバターを読み込めません"))
		return
	default:
		defer file.Close()
		in.Avatar, err = io.ReadAll(io.LimitReader(file, user.DefaultMaxAvatarSize+1))
		if err != nil {
			writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidUploadError("アバターを読み込めません"))
			return
		}
	}

	u, err := h.service.UpdateProfile(r.Context(), userID, in)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(u))
}

// PublicProfile は指定ユーザーの公開プロフィールと公開画像を返す。
// GET /api/users/{id}/profile
func (h *UserHandler) PublicProfile(w http.ResponseWriter, r *http.Request) {
	p, err := h.service.PublicProfile(r.Context(), model.UserID(chi.URLParam(r, "id")))
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := toUserResponse(p.User)
	resp.Email = ""
	writeJSON(w, http.StatusOK, publicProfileResponse{
		User:   resp,
		Images: toImageResponses(p.Images),
	})
}
