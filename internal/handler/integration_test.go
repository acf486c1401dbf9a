package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/picshub/internal/auth"
	"github.com/hitoshi/picshub/internal/image"
	"github.com/hitoshi/picshub/internal/middleware"
	"github.com/hitoshi/picshub/internal/model"
)

// --- 統合テスト用のステートフルモック ---

// integrationState は統合テスト用の共有状態を保持する。
type integrationState struct {
	mu       sync.Mutex
	seq      int
	sessions map[string]*model.Session
	users    map[model.UserID]*model.User
	tokens   map[string]model.UserID // 確認トークン -> ユーザーID
	images   map[model.ImageID]*model.Image
	files    map[model.ImageID][]byte
}

func newIntegrationState() *integrationState {
	return &integrationState{
		sessions: make(map[string]*model.Session),
		users:    make(map[model.UserID]*model.User),
		tokens:   make(map[string]model.UserID),
		images:   make(map[model.ImageID]*model.Image),
		files:    make(map[model.ImageID][]byte),
	}
}

func (s *integrationState) next(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s-%d", prefix, s.seq)
}

func (s *integrationState) findByIdentifier(identifier string) *model.User {
	for _, u := range s.users {
		if u.Email == identifier || u.Username == identifier {
			return u
		}
	}
	return nil
}

// --- 統合テスト用ルーター構築ヘルパー ---

func createIntegrationRouter(state *integrationState) http.Handler {
	authSvc := &mockAuthService{
		registerFn: func(ctx context.Context, in auth.RegistrationInput) (*model.User, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			if state.findByIdentifier(in.Email) != nil {
				return nil, model.NewDuplicateEmailError()
			}
			u := &model.User{
				ID:           model.UserID(state.next("user")),
				Name:         in.Name,
				Username:     in.Username,
				Email:        in.Email,
				PasswordHash: "hash:" + in.Password,
			}
			state.users[u.ID] = u
			state.tokens["confirm-"+u.Username] = u.ID
			return u, nil
		},
		confirmFn: func(ctx context.Context, secret string) (auth.ConfirmResult, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			userID, ok := state.tokens[secret]
			if !ok {
				return 0, model.NewInvalidOrUsedTokenError()
			}
			delete(state.tokens, secret)
			u := state.users[userID]
			if u.IsVerified {
				return auth.ConfirmAlreadyVerified, nil
			}
			u.IsVerified = true
			return auth.ConfirmVerified, nil
		},
		loginFn: func(ctx context.Context, identifier, password string) (*model.Session, *model.User, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			u := state.findByIdentifier(identifier)
			if u == nil {
				return nil, nil, model.NewUnknownIdentifierError(strings.Contains(identifier, "@"))
			}
			if u.PasswordHash != "hash:"+password {
				return nil, nil, model.NewBadCredentialError()
			}
			if !u.IsVerified {
				return nil, nil, model.NewUnverifiedAccountError()
			}
			sess := &model.Session{
				ID:        state.next("session"),
				UserID:    u.ID,
				ExpiresAt: time.Now().Add(24 * time.Hour),
			}
			state.sessions[sess.ID] = sess
			return sess, u, nil
		},
		logoutFn: func(ctx context.Context, sessionID string) error {
			state.mu.Lock()
			defer state.mu.Unlock()
			delete(state.sessions, sessionID)
			return nil
		},
		getCurrentUserFn: func(ctx context.Context, userID model.UserID) (*model.User, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			u, ok := state.users[userID]
			if !ok {
				return nil, model.NewUserNotFoundError()
			}
			return u, nil
		},
	}

	visible := func(img *model.Image, requester model.UserID) bool {
		return img.IsPublic() || img.OwnerID == requester
	}

	imageSvc := &mockImageService{
		uploadFn: func(ctx context.Context, in image.UploadInput) (*model.Image, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			vis, ok := model.ParseVisibility(in.Visibility)
			if !ok {
				return nil, model.NewValidationError([]string{"公開範囲が不正です。"})
			}
			img := &model.Image{
				ID:         model.ImageID(state.next("img")),
				OwnerID:    in.OwnerID,
				Filename:   "1700000000000-abcdef012345.png",
				Caption:    in.Caption,
				Visibility: vis,
				CreatedAt:  time.Now(),
			}
			state.images[img.ID] = img
			state.files[img.ID] = in.Data
			return img, nil
		},
		getFn: func(ctx context.Context, requester model.UserID, id model.ImageID) (*model.Image, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			img, ok := state.images[id]
			if !ok || !visible(img, requester) {
				return nil, model.NewImageNotFoundError(id.String())
			}
			return img, nil
		},
		openFn: func(ctx context.Context, requester model.UserID, id model.ImageID) (*model.Image, io.ReadCloser, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			img, ok := state.images[id]
			if !ok || !visible(img, requester) {
				return nil, nil, model.NewImageNotFoundError(id.String())
			}
			return img, io.NopCloser(bytes.NewReader(state.files[id])), nil
		},
		deleteFn: func(ctx context.Context, requester model.UserID, id model.ImageID) (image.Outcome, error) {
			state.mu.Lock()
			defer state.mu.Unlock()
			img, ok := state.images[id]
			if !ok {
				return image.OutcomeRefused, model.NewImageNotFoundError(id.String())
			}
			if img.OwnerID != requester {
				return image.OutcomeRefused, nil
			}
			delete(state.images, id)
			delete(state.files, id)
			return image.OutcomeApplied, nil
		},
	}

	return NewRouter(&RouterDeps{
		SessionFinder:     &mockSessionFinderForRouter{sessions: state.sessions},
		CORSAllowedOrigin: "http://localhost:3000",
		CSRFConfig:        middleware.CSRFConfig{},
		RateLimiter:       middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig()),
		AuthService:       authSvc,
		AuthConfig:        AuthHandlerConfig{BaseURL: "http://localhost:3000", SessionMaxAge: 86400},
		ImageService:      imageSvc,
		UserService:       &mockUserService{},
	})
}

// client はCookieを保持してリクエストを送るテスト用クライアント。
type client struct {
	t       *testing.T
	router  http.Handler
	session string
}

func (c *client) do(method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	c.t.Helper()
	req := withCSRF(httptest.NewRequest(method, path, body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.session != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: c.session})
	}
	w := httptest.NewRecorder()
	c.router.ServeHTTP(w, req)
	return w
}

func (c *client) postJSON(path, body string) *httptest.ResponseRecorder {
	return c.do(http.MethodPost, path, "application/json", strings.NewReader(body))
}

func (c *client) login(identifier, password string) {
	c.t.Helper()
	w := c.postJSON("/auth/login", fmt.Sprintf(`{"identifier":%q,"password":%q}`, identifier, password))
	if w.Code != http.StatusOK {
		c.t.Fatalf("login(%s) status = %d, body=%s", identifier, w.Code, w.Body.String())
	}
	cookie := findCookie(w.Result(), "session_id")
	if cookie == nil {
		c.t.Fatal("login did not set session cookie")
	}
	c.session = cookie.Value
}

func (c *client) register(name, username, email, password string) {
	c.t.Helper()
	w := c.postJSON("/auth/register", fmt.Sprintf(
		`{"name":%q,"username":%q,"email":%q,"password":%q,"password_confirm":%q}`,
		name, username, email, password, password))
	if w.Code != http.StatusCreated {
		c.t.Fatalf("register(%s) status = %d, body=%s", username, w.Code, w.Body.String())
	}
}

// TestIntegration_RegisterConfirmLoginLogout はアカウント登録からログアウトまでの流れを検証する。
func TestIntegration_RegisterConfirmLoginLogout(t *testing.T) {
	state := newIntegrationState()
	c := &client{t: t, router: createIntegrationRouter(state)}

	c.register("Alice", "alice", "alice@example.com", "secret1")

	// 確認前のログインは403
	w := c.postJSON("/auth/login", `{"identifier":"alice","password":"secret1"}`)
	if w.Code != http.StatusForbidden {
		t.Fatalf("login before confirm status = %d, want %d", w.Code, http.StatusForbidden)
	}

	// 確認リンクを開く
	w = c.do(http.MethodGet, "/auth/confirmation/confirm-alice", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("confirm status = %d, want %d", w.Code, http.StatusOK)
	}

	// 同じリンクは二度使えない
	w = c.do(http.MethodGet, "/auth/confirmation/confirm-alice", "", nil)
	if w.Code != http.StatusGone {
		t.Errorf("second confirm status = %d, want %d", w.Code, http.StatusGone)
	}

	c.login("alice@example.com", "secret1")

	w = c.do(http.MethodGet, "/auth/me", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("GET /auth/me status = %d, want %d", w.Code, http.StatusOK)
	}

	w = c.do(http.MethodPost, "/auth/logout", "", nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("logout status = %d, want %d", w.Code, http.StatusNoContent)
	}

	// ログアウト後はセッションが無効
	w = c.do(http.MethodGet, "/auth/me", "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("GET /auth/me after logout status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// TestIntegration_ImageOwnership は所有者以外が非公開画像を閲覧・削除できないことを検証する。
func TestIntegration_ImageOwnership(t *testing.T) {
	state := newIntegrationState()
	router := createIntegrationRouter(state)

	owner := &client{t: t, router: router}
	owner.register("Alice", "alice", "alice@example.com", "secret1")
	owner.do(http.MethodGet, "/auth/confirmation/confirm-alice", "", nil)
	owner.login("alice", "secret1")

	stranger := &client{t: t, router: router}
	stranger.register("Bob", "bob", "bob@example.com", "secret2")
	stranger.do(http.MethodGet, "/auth/confirmation/confirm-bob", "", nil)
	stranger.login("bob", "secret2")

	anonymous := &client{t: t, router: router}

	// 非公開画像をアップロード
	body, contentType := multipartBody(t, "image", "secret.png", []byte("PRIVATE"), map[string]string{
		"caption":    "内緒",
		"visibility": "private",
	})
	w := owner.do(http.MethodPost, "/api/images", contentType, body)
	if w.Code != http.StatusCreated {
		t.Fatalf("upload status = %d, body=%s", w.Code, w.Body.String())
	}
	var uploaded imageResponse
	json.NewDecoder(w.Body).Decode(&uploaded)
	path := "/api/images/" + uploaded.ID

	// 所有者は閲覧できる
	if w := owner.do(http.MethodGet, path+"/file", "", nil); w.Code != http.StatusOK || w.Body.String() != "PRIVATE" {
		t.Errorf("owner download status = %d body = %q", w.Code, w.Body.String())
	}

	// 他人と匿名ユーザーには存在しないものとして扱う
	if w := stranger.do(http.MethodGet, path, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("stranger GET status = %d, want %d", w.Code, http.StatusNotFound)
	}
	if w := anonymous.do(http.MethodGet, path+"/file", "", nil); w.Code != http.StatusNotFound {
		t.Errorf("anonymous download status = %d, want %d", w.Code, http.StatusNotFound)
	}

	// 他人の削除はリダイレクトされ、画像は残る
	w = stranger.do(http.MethodDelete, path, "", nil)
	if w.Code != http.StatusSeeOther {
		t.Errorf("stranger DELETE status = %d, want %d", w.Code, http.StatusSeeOther)
	}
	if _, ok := state.images[model.ImageID(uploaded.ID)]; !ok {
		t.Fatal("image must survive a refused delete")
	}

	// 所有者の削除は成功する
	if w := owner.do(http.MethodDelete, path, "", nil); w.Code != http.StatusNoContent {
		t.Errorf("owner DELETE status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if w := owner.do(http.MethodGet, path, "", nil); w.Code != http.StatusNotFound {
		t.Errorf("GET after delete status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

// TestIntegration_ProtectedEndpoints_RequireAuth は認証必須エンドポイントが未認証で401を返すことを検証する。
func TestIntegration_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := createIntegrationRouter(newIntegrationState())
	anonymous := &client{t: t, router: router}

	for _, tt := range []struct {
		method string
		path   string
	}{
		{http.MethodGet, "/auth/me"},
		{http.MethodPost, "/api/images"},
		{http.MethodGet, "/api/users/me/dashboard"},
	} {
		if w := anonymous.do(tt.method, tt.path, "", nil); w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s status = %d, want %d", tt.method, tt.path, w.Code, http.StatusUnauthorized)
		}
	}
}
