package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/picshub/internal/image"
	"github.com/hitoshi/picshub/internal/middleware"
	"github.com/hitoshi/picshub/internal/model"
)

// DashboardPath は権限のない変更・削除要求のリダイレクト先。
const DashboardPath = "/api/users/me/dashboard"

// multipartOverhead はmultipartのヘッダーやテキストフィールド分の余裕。
const multipartOverhead = 64 << 10

// ImageServiceInterface は画像ハンドラーが必要とするサービスインターフェース。
// image.Serviceが実装する。
type ImageServiceInterface interface {
	Upload(ctx context.Context, in image.UploadInput) (*model.Image, error)
	ListPublic(ctx context.Context) ([]model.ImageWithOwner, error)
	Dashboard(ctx context.Context, requester model.UserID) ([]*model.Image, error)
	Get(ctx context.Context, requester model.UserID, id model.ImageID) (*model.Image, error)
	Open(ctx context.Context, requester model.UserID, id model.ImageID) (*model.Image, io.ReadCloser, error)
	Update(ctx context.Context, requester model.UserID, id model.ImageID, in image.UpdateInput) (image.Outcome, error)
	Delete(ctx context.Context, requester model.UserID, id model.ImageID) (image.Outcome, error)
	MaxSize() int64
}

var _ ImageServiceInterface = (*image.Service)(nil)

// ImageHandler は画像のHTTPハンドラー。
type ImageHandler struct {
	service ImageServiceInterface
}

// NewImageHandler はImageHandlerを生成する。
func NewImageHandler(service ImageServiceInterface) *ImageHandler {
	return &ImageHandler{service: service}
}

// updateImageRequest は送信されたフィールドだけを変更する。
type updateImageRequest struct {
	Caption    *string `json:"caption"`
	Visibility *string `json:"visibility"`
}

// Upload はmultipartで送信された画像を保存する。
// POST /api/images（フィールド: image, caption, visibility）
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	maxSize := h.service.MaxSize()
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartOverhead)
	if err := r.ParseMultipartForm(maxSize + multipartOverhead); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeAPIErrorResponse(w, http.StatusRequestEntityTooLarge, model.NewInvalidUploadError("ファイルサイズが上限を超えています"))
			return
		}
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidUploadError("フォームを読み込めません"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidUploadError("ファイルが選択されていません"))
		return
	}
	defer file.Close()

	// 上限を1バイト超えて読み、サイズ超過はサービス層で判定する
	data, err := io.ReadAll(io.LimitReader(file, maxSize+1))
	if err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidUploadError("ファイルを読み込めません"))
		return
	}

	img, err := h.service.Upload(r.Context(), image.UploadInput{
		OwnerID:          userID,
		OriginalFilename: header.Filename,
		Data:             data,
		Caption:          r.FormValue("caption"),
		Visibility:       r.FormValue("visibility"),
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	w.Header().Set("Location", "/api/images/"+img.ID.String())
	writeJSON(w, http.StatusCreated, toImageResponse(img))
}

// ListPublic は公開画像の一覧を新しい順に返す。
// GET /api/images
func (h *ImageHandler) ListPublic(w http.ResponseWriter, r *http.Request) {
	imgs, err := h.service.ListPublic(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toFeedResponses(imgs))
}

// Dashboard はログインユーザー自身の画像を非公開も含めて返す。
// GET /api/users/me/dashboard
func (h *ImageHandler) Dashboard(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	imgs, err := h.service.Dashboard(r.Context(), userID)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toImageResponses(imgs))
}

// Get は画像情報を返す。閲覧権限がない場合は404になる。
// GET /api/images/{id}
func (h *ImageHandler) Get(w http.ResponseWriter, r *http.Request) {
	img, err := h.service.Get(r.Context(), middleware.RequesterFromContext(r.Context()), imageIDParam(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toImageResponse(img))
}

// Download は画像ファイルを返す。閲覧権限がない場合は404になる。
// GET /api/images/{id}/file
func (h *ImageHandler) Download(w http.ResponseWriter, r *http.Request) {
	img, rc, err := h.service.Open(r.Context(), middleware.RequesterFromContext(r.Context()), imageIDParam(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension(filepath.Ext(img.Filename))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	disposition := "inline"
	if r.URL.Query().Get("download") != "" {
		disposition = "attachment"
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType(disposition, map[string]string{"filename": img.Filename}))
	if !img.IsPublic() {
		w.Header().Set("Cache-Control", "private, no-store")
	}

	if n, err := io.Copy(w, rc); err != nil {
		slog.Warn("画像の送信が中断されました",
			slog.String("image_id", img.ID.String()),
			slog.Int64("written", n),
			slog.String("error", err.Error()),
		)
	}
}

// Update はキャプションと公開範囲を変更する。
// 所有者以外の要求は変更せずダッシュボードへ303でリダイレクトする。
// PUT /api/images/{id}
func (h *ImageHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	var req updateImageRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id := imageIDParam(r)
	outcome, err := h.service.Update(r.Context(), userID, id, image.UpdateInput{
		Caption:    req.Caption,
		Visibility: req.Visibility,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if outcome == image.OutcomeRefused {
		http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
		return
	}

	img, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toImageResponse(img))
}

// Delete は画像を削除する。
// 所有者以外の要求は削除せずダッシュボードへ303でリダイレクトする。
// DELETE /api/images/{id}
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	userID, err := middleware.UserIDFromContext(r.Context())
	if err != nil {
		writeUnauthorized(w)
		return
	}

	outcome, err := h.service.Delete(r.Context(), userID, imageIDParam(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	if outcome == image.OutcomeRefused {
		http.Redirect(w, r, DashboardPath, http.StatusSeeOther)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func imageIDParam(r *http.Request) model.ImageID {
	return model.ImageID(chi.URLParam(r, "id"))
}
