package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/picshub/internal/middleware"
	"github.com/hitoshi/picshub/internal/model"
)

// userResponse はユーザー情報のAPIレスポンス。
type userResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Username   string `json:"username"`
	Email      string `json:"email,omitempty"`
	IsVerified bool   `json:"is_verified"`
	Interest   string `json:"interest,omitempty"`
	Avatar     string `json:"avatar,omitempty"` // data URL
}

// ownerResponse は画像一覧に含める所有者情報。
type ownerResponse struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Avatar   string `json:"avatar,omitempty"`
}

// imageResponse は画像情報のAPIレスポンス。
type imageResponse struct {
	ID         string         `json:"id"`
	OwnerID    string         `json:"owner_id,omitempty"`
	Filename   string         `json:"filename"`
	Caption    string         `json:"caption"`
	Visibility string         `json:"visibility"`
	URL        string         `json:"url"`
	CreatedAt  time.Time      `json:"created_at"`
	Owner      *ownerResponse `json:"owner,omitempty"`
}

func toUserResponse(u *model.User) userResponse {
	return userResponse{
		ID:         u.ID.String(),
		Name:       u.Name,
		Username:   u.Username,
		Email:      u.Email,
		IsVerified: u.IsVerified,
		Interest:   u.Interest,
		Avatar:     avatarDataURL(u.Avatar),
	}
}

func toImageResponse(img *model.Image) imageResponse {
	return imageResponse{
		ID:         img.ID.String(),
		OwnerID:    img.OwnerID.String(),
		Filename:   img.Filename,
		Caption:    img.Caption,
		Visibility: string(img.Visibility),
		URL:        "/api/images/" + img.ID.String() + "/file",
		CreatedAt:  img.CreatedAt,
	}
}

func toImageResponses(imgs []*model.Image) []imageResponse {
	out := make([]imageResponse, 0, len(imgs))
	for _, img := range imgs {
		out = append(out, toImageResponse(img))
	}
	return out
}

func toFeedResponses(imgs []model.ImageWithOwner) []imageResponse {
	out := make([]imageResponse, 0, len(imgs))
	for i := range imgs {
		resp := toImageResponse(&imgs[i].Image)
		if o := imgs[i].Owner; o != nil {
			resp.Owner = &ownerResponse{
				ID:       o.ID.String(),
				Name:     o.Name,
				Username: o.Username,
				Avatar:   avatarDataURL(o.Avatar),
			}
		}
		out = append(out, resp)
	}
	return out
}

// avatarDataURL はPNGに正規化済みのアバターをdata URLにする。
func avatarDataURL(avatar []byte) string {
	if len(avatar) == 0 {
		return ""
	}
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString(avatar)
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// decodeJSON はリクエストボディをJSONとして読み込む。失敗時は400を書き込んでfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, &model.APIError{
			Code:     "INVALID_REQUEST",
			Message:  "リクエストボディの解析に失敗しました。",
			Category: "validation",
			Action:   "正しいJSON形式でリクエストしてください。",
		})
		return false
	}
	return true
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// writeUnauthorized は未認証エラーを書き込む。
func writeUnauthorized(w http.ResponseWriter) {
	writeAPIErrorResponse(w, http.StatusUnauthorized, &model.APIError{
		Code:     "UNAUTHORIZED",
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	})
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		statusCode := mapAPIErrorToHTTPStatus(apiErr)
		writeAPIErrorResponse(w, statusCode, apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeValidationFailed, model.ErrCodeInvalidUpload:
		return http.StatusBadRequest
	case model.ErrCodeUnknownIdentifier, model.ErrCodeBadCredential:
		return http.StatusUnauthorized
	case model.ErrCodeUnverifiedAccount:
		return http.StatusForbidden
	case model.ErrCodeDuplicateEmail, model.ErrCodeDuplicateUsername:
		return http.StatusConflict
	case model.ErrCodeInvalidOrUsedToken:
		return http.StatusGone
	case model.ErrCodeEmailNotRegistered, model.ErrCodeOrphanedToken,
		model.ErrCodeImageNotFound, model.ErrCodeUserNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
