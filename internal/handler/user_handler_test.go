package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/picshub/internal/model"
	"github.com/hitoshi/picshub/internal/user"
)

// --- モック定義 ---

// mockUserService はUserServiceInterfaceのモック実装。
type mockUserService struct {
	getProfileFn    func(ctx context.Context, id model.UserID) (*model.User, error)
	updateProfileFn func(ctx context.Context, id model.UserID, in user.ProfileUpdate) (*model.User, error)
	publicProfileFn func(ctx context.Context, id model.UserID) (*user.PublicProfile, error)
}

func (m *mockUserService) GetProfile(ctx context.Context, id model.UserID) (*model.User, error) {
	if m.getProfileFn != nil {
		return m.getProfileFn(ctx, id)
	}
	return &model.User{ID: id}, nil
}

func (m *mockUserService) UpdateProfile(ctx context.Context, id model.UserID, in user.ProfileUpdate) (*model.User, error) {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, id, in)
	}
	return &model.User{ID: id, Name: in.Name, Interest: in.Interest}, nil
}

func (m *mockUserService) PublicProfile(ctx context.Context, id model.UserID) (*user.PublicProfile, error) {
	if m.publicProfileFn != nil {
		return m.publicProfileFn(ctx, id)
	}
	return nil, model.NewUserNotFoundError()
}

// --- GET /api/users/me ---

func TestUserHandler_Profile_Success(t *testing.T) {
	svc := &mockUserService{
		getProfileFn: func(ctx context.Context, id model.UserID) (*model.User, error) {
			return &model.User{ID: id, Name: "Alice", Email: "alice@example.com", Avatar: []byte{1, 2, 3}}, nil
		},
	}
	h := NewUserHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/users/me", nil), "user-123")
	w := httptest.NewRecorder()

	h.Profile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body userResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.ID != "user-123" || body.Email != "alice@example.com" {
		t.Errorf("body = %+v", body)
	}
	if !strings.HasPrefix(body.Avatar, "data:image/png;base64,") {
		t.Errorf("avatar = %q, want data URL", body.Avatar)
	}
}

func TestUserHandler_Profile_NoUserID_ReturnsUnauthorized(t *testing.T) {
	h := NewUserHandler(&mockUserService{})

	req := httptest.NewRequest(http.MethodGet, "/api/users/me", nil)
	// ユーザーIDを注入しない
	w := httptest.NewRecorder()

	h.Profile(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

func TestUserHandler_Profile_UserNotFound(t *testing.T) {
	svc := &mockUserService{
		getProfileFn: func(ctx context.Context, id model.UserID) (*model.User, error) {
			return nil, model.NewUserNotFoundError()
		},
	}
	h := NewUserHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/api/users/me", nil), "user-deleted")
	w := httptest.NewRecorder()

	h.Profile(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// --- PUT /api/users/me ---

func TestUserHandler_UpdateProfile_WithoutAvatar_KeepsNil(t *testing.T) {
	var captured user.ProfileUpdate
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, id model.UserID, in user.ProfileUpdate) (*model.User, error) {
			captured = in
			return &model.User{ID: id, Name: in.Name, Interest: in.Interest}, nil
		},
	}
	h := NewUserHandler(svc)

	body, contentType := multipartBody(t, "avatar", "", nil, map[string]string{
		"name":     "Alice B",
		"interest": "写真",
	})
	req := httptest.NewRequest(http.MethodPut, "/api/users/me", body)
	req.Header.Set("Content-Type", contentType)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body=%s)", w.Code, http.StatusOK, w.Body.String())
	}
	if captured.Name != "Alice B" || captured.Interest != "写真" {
		t.Errorf("captured = %+v", captured)
	}
	if captured.Avatar != nil {
		t.Errorf("avatar = %v, want nil", captured.Avatar)
	}
}

func TestUserHandler_UpdateProfile_WithAvatar_PassesBytes(t *testing.T) {
	var captured user.ProfileUpdate
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, id model.UserID, in user.ProfileUpdate) (*model.User, error) {
			captured = in
			return &model.User{ID: id, Name: in.Name, Avatar: in.Avatar}, nil
		},
	}
	h := NewUserHandler(svc)

	body, contentType := multipartBody(t, "avatar", "me.png", []byte("avatar-bytes"), map[string]string{"name": "Alice"})
	req := httptest.NewRequest(http.MethodPut, "/api/users/me", body)
	req.Header.Set("Content-Type", contentType)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if string(captured.Avatar) != "avatar-bytes" {
		t.Errorf("avatar = %q", captured.Avatar)
	}
}

func TestUserHandler_UpdateProfile_ValidationError_Returns400(t *testing.T) {
	svc := &mockUserService{
		updateProfileFn: func(ctx context.Context, id model.UserID, in user.ProfileUpdate) (*model.User, error) {
			return nil, model.NewValidationError([]string{"名前を入力してください。"})
		},
	}
	h := NewUserHandler(svc)

	body, contentType := multipartBody(t, "avatar", "", nil, map[string]string{"name": "   "})
	req := httptest.NewRequest(http.MethodPut, "/api/users/me", body)
	req.Header.Set("Content-Type", contentType)
	req = withUserID(req, "user-1")
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestUserHandler_UpdateProfile_NotMultipart_Returns400(t *testing.T) {
	h := NewUserHandler(&mockUserService{})

	req := withUserID(jsonRequest(http.MethodPut, "/api/users/me", `{"name":"x"}`), "user-1")
	w := httptest.NewRecorder()

	h.UpdateProfile(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

// --- GET /api/users/{id}/profile ---

func TestUserHandler_PublicProfile_HidesEmail(t *testing.T) {
	svc := &mockUserService{
		publicProfileFn: func(ctx context.Context, id model.UserID) (*user.PublicProfile, error) {
			return &user.PublicProfile{
				User: &model.User{ID: id, Name: "Bob", Username: "bob", Email: "bob@example.com"},
				Images: []*model.Image{
					{ID: "img-1", OwnerID: id, Visibility: model.VisibilityPublic},
				},
			}, nil
		},
	}
	h := NewUserHandler(svc)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/users/user-bob/profile", nil), "id", "user-bob")
	w := httptest.NewRecorder()

	h.PublicProfile(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if strings.Contains(w.Body.String(), "bob@example.com") {
		t.Error("public profile must not expose email")
	}
	var body publicProfileResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.User.Username != "bob" || len(body.Images) != 1 {
		t.Errorf("body = %+v", body)
	}
}

func TestUserHandler_PublicProfile_NotFound(t *testing.T) {
	h := NewUserHandler(&mockUserService{})

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/api/users/nobody/profile", nil), "id", "nobody")
	w := httptest.NewRecorder()

	h.PublicProfile(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNotFound)
	}
}
