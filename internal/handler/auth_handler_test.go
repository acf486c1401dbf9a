package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/picshub/internal/auth"
	"github.com/hitoshi/picshub/internal/model"
)

// --- モック定義 ---

type mockAuthService struct {
	registerFn              func(ctx context.Context, in auth.RegistrationInput) (*model.User, error)
	confirmFn               func(ctx context.Context, secret string) (auth.ConfirmResult, error)
	resendVerificationFn    func(ctx context.Context, email string) (auth.ResendResult, error)
	requestPasswordResetFn  func(ctx context.Context, email string) error
	checkResetTokenFn       func(ctx context.Context, secret string) error
	completePasswordResetFn func(ctx context.Context, secret, newPassword, confirm string) error
	loginFn                 func(ctx context.Context, identifier, password string) (*model.Session, *model.User, error)
	logoutFn                func(ctx context.Context, sessionID string) error
	getCurrentUserFn        func(ctx context.Context, userID model.UserID) (*model.User, error)
}

func (m *mockAuthService) Register(ctx context.Context, in auth.RegistrationInput) (*model.User, error) {
	if m.registerFn != nil {
		return m.registerFn(ctx, in)
	}
	return &model.User{ID: "user-new", Name: in.Name, Username: in.Username, Email: in.Email}, nil
}

func (m *mockAuthService) Confirm(ctx context.Context, secret string) (auth.ConfirmResult, error) {
	if m.confirmFn != nil {
		return m.confirmFn(ctx, secret)
	}
	return auth.ConfirmVerified, nil
}

func (m *mockAuthService) ResendVerification(ctx context.Context, email string) (auth.ResendResult, error) {
	if m.resendVerificationFn != nil {
		return m.resendVerificationFn(ctx, email)
	}
	return auth.ResendSent, nil
}

func (m *mockAuthService) RequestPasswordReset(ctx context.Context, email string) error {
	if m.requestPasswordResetFn != nil {
		return m.requestPasswordResetFn(ctx, email)
	}
	return nil
}

func (m *mockAuthService) CheckResetToken(ctx context.Context, secret string) error {
	if m.checkResetTokenFn != nil {
		return m.checkResetTokenFn(ctx, secret)
	}
	return nil
}

func (m *mockAuthService) CompletePasswordReset(ctx context.Context, secret, newPassword, confirm string) error {
	if m.completePasswordResetFn != nil {
		return m.completePasswordResetFn(ctx, secret, newPassword, confirm)
	}
	return nil
}

func (m *mockAuthService) Login(ctx context.Context, identifier, password string) (*model.Session, *model.User, error) {
	if m.loginFn != nil {
		return m.loginFn(ctx, identifier, password)
	}
	return nil, nil, model.NewBadCredentialError()
}

func (m *mockAuthService) Logout(ctx context.Context, sessionID string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, sessionID)
	}
	return nil
}

func (m *mockAuthService) GetCurrentUser(ctx context.Context, userID model.UserID) (*model.User, error) {
	if m.getCurrentUserFn != nil {
		return m.getCurrentUserFn(ctx, userID)
	}
	return nil, model.NewUserNotFoundError()
}

func newTestAuthHandler(svc AuthServiceInterface) *AuthHandler {
	return NewAuthHandler(svc, AuthHandlerConfig{
		BaseURL:       "http://localhost:3000",
		CookieDomain:  "",
		CookieSecure:  false,
		SessionMaxAge: 86400,
	})
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// --- POST /auth/register ---

func TestAuthHandler_Register_Success_Returns201(t *testing.T) {
	var captured auth.RegistrationInput
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, in auth.RegistrationInput) (*model.User, error) {
			captured = in
			return &model.User{ID: "user-1", Name: in.Name, Username: in.Username, Email: in.Email, PasswordHash: "$2a$hash"}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := jsonRequest(http.MethodPost, "/auth/register",
		`{"name":"Alice","username":"alice","email":"alice@example.com","password":"secret1","password_confirm":"secret1"}`)
	w := httptest.NewRecorder()

	h.Register(w, req)

	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusCreated)
	}
	if captured.PasswordConfirm != "secret1" || captured.Email != "alice@example.com" {
		t.Errorf("input not passed through: %+v", captured)
	}
	if strings.Contains(w.Body.String(), "$2a$hash") {
		t.Error("response must not contain password hash")
	}

	var body userResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.ID != "user-1" || body.IsVerified {
		t.Errorf("body = %+v", body)
	}
}

func TestAuthHandler_Register_ValidationError_Returns400WithDetails(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, in auth.RegistrationInput) (*model.User, error) {
			return nil, model.NewValidationError([]string{"名前を入力してください。", "パスワードが一致しません。"})
		},
	}
	h := newTestAuthHandler(svc)

	req := jsonRequest(http.MethodPost, "/auth/register", `{"username":"alice"}`)
	w := httptest.NewRecorder()

	h.Register(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	body := decodeErrorBody(t, w)
	if len(body.Details) != 2 {
		t.Errorf("details = %v, want 2 entries", body.Details)
	}
}

func TestAuthHandler_Register_DuplicateEmail_Returns409(t *testing.T) {
	svc := &mockAuthService{
		registerFn: func(ctx context.Context, in auth.RegistrationInput) (*model.User, error) {
			return nil, model.NewDuplicateEmailError()
		},
	}
	h := newTestAuthHandler(svc)

	req := jsonRequest(http.MethodPost, "/auth/register", `{"email":"taken@example.com"}`)
	w := httptest.NewRecorder()

	h.Register(w, req)

	if w.Code != http.StatusConflict {
		t.Errorf("status = %d, want %d", w.Code, http.StatusConflict)
	}
}

func TestAuthHandler_Register_InvalidJSON_Returns400(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	req := jsonRequest(http.MethodPost, "/auth/register", `{not json`)
	w := httptest.NewRecorder()

	h.Register(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
	if body := decodeErrorBody(t, w); body.Code != "INVALID_REQUEST" {
		t.Errorf("code = %q, want INVALID_REQUEST", body.Code)
	}
}

// --- POST /auth/login ---

func TestAuthHandler_Login_Success_SetsHttpOnlyCookie(t *testing.T) {
	expires := time.Now().Add(24 * time.Hour)
	svc := &mockAuthService{
		loginFn: func(ctx context.Context, identifier, password string) (*model.Session, *model.User, error) {
			if identifier != "alice" || password != "secret1" {
				t.Errorf("login args = (%q, %q)", identifier, password)
			}
			return &model.Session{ID: "session-abc", UserID: "user-1", ExpiresAt: expires},
				&model.User{ID: "user-1", Username: "alice", IsVerified: true}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := jsonRequest(http.MethodPost, "/auth/login", `{"identifier":"alice","password":"secret1"}`)
	w := httptest.NewRecorder()

	h.Login(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	cookie := findCookie(resp, "session_id")
	if cookie == nil {
		t.Fatal("expected session_id cookie")
	}
	if cookie.Value != "session-abc" {
		t.Errorf("cookie value = %q, want %q", cookie.Value, "session-abc")
	}
	if !cookie.HttpOnly {
		t.Error("session cookie must be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
}

func TestAuthHandler_Login_Failures(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"未登録のメールアドレス", model.NewUnknownIdentifierError(true), http.StatusUnauthorized, model.ErrCodeUnknownIdentifier},
		{"パスワード不一致", model.NewBadCredentialError(), http.StatusUnauthorized, model.ErrCodeBadCredential},
		{"未確認アカウント", model.NewUnverifiedAccountError(), http.StatusForbidden, model.ErrCodeUnverifiedAccount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				loginFn: func(ctx context.Context, identifier, password string) (*model.Session, *model.User, error) {
					return nil, nil, tt.err
				},
			}
			h := newTestAuthHandler(svc)

			req := jsonRequest(http.MethodPost, "/auth/login", `{"identifier":"a@example.com","password":"x"}`)
			w := httptest.NewRecorder()

			h.Login(w, req)

			resp := w.Result()
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if findCookie(resp, "session_id") != nil {
				t.Error("failed login must not set session cookie")
			}
			if body := decodeErrorBody(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

// --- POST /auth/logout ---

func TestAuthHandler_Logout_ClearsCookie(t *testing.T) {
	var loggedOut string
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			loggedOut = sessionID
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "session-xyz"})
	w := httptest.NewRecorder()

	h.Logout(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("status = %d, want %d", resp.StatusCode, http.StatusNoContent)
	}
	if loggedOut != "session-xyz" {
		t.Errorf("Logout called with %q, want %q", loggedOut, "session-xyz")
	}
	cookie := findCookie(resp, "session_id")
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("expected expired session cookie, got %+v", cookie)
	}
}

func TestAuthHandler_Logout_WithoutCookie_StillSucceeds(t *testing.T) {
	called := false
	svc := &mockAuthService{
		logoutFn: func(ctx context.Context, sessionID string) error {
			called = true
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Logout(w, httptest.NewRequest(http.MethodPost, "/auth/logout", nil))

	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want %d", w.Code, http.StatusNoContent)
	}
	if called {
		t.Error("Logout should not be called without a session cookie")
	}
}

// --- GET /auth/me ---

func TestAuthHandler_Me_ReturnsCurrentUser(t *testing.T) {
	svc := &mockAuthService{
		getCurrentUserFn: func(ctx context.Context, userID model.UserID) (*model.User, error) {
			return &model.User{ID: userID, Username: "alice", Email: "alice@example.com", IsVerified: true}, nil
		},
	}
	h := newTestAuthHandler(svc)

	req := withUserID(httptest.NewRequest(http.MethodGet, "/auth/me", nil), "user-1")
	w := httptest.NewRecorder()

	h.Me(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	var body userResponse
	json.NewDecoder(w.Body).Decode(&body)
	if body.ID != "user-1" || body.Email != "alice@example.com" {
		t.Errorf("body = %+v", body)
	}
}

func TestAuthHandler_Me_NoUser_Returns401(t *testing.T) {
	h := newTestAuthHandler(&mockAuthService{})

	w := httptest.NewRecorder()
	h.Me(w, httptest.NewRequest(http.MethodGet, "/auth/me", nil))

	if w.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", w.Code, http.StatusUnauthorized)
	}
}

// --- GET /auth/confirmation/{token} ---

func TestAuthHandler_Confirm(t *testing.T) {
	tests := []struct {
		name       string
		result     auth.ConfirmResult
		err        error
		wantStatus int
		wantState  string
	}{
		{"確認成功", auth.ConfirmVerified, nil, http.StatusOK, "verified"},
		{"確認済み", auth.ConfirmAlreadyVerified, nil, http.StatusOK, "already_verified"},
		{"無効なトークン", 0, model.NewInvalidOrUsedTokenError(), http.StatusGone, ""},
		{"ユーザー不在", 0, model.NewOrphanedTokenError(), http.StatusNotFound, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotSecret string
			svc := &mockAuthService{
				confirmFn: func(ctx context.Context, secret string) (auth.ConfirmResult, error) {
					gotSecret = secret
					return tt.result, tt.err
				},
			}
			h := newTestAuthHandler(svc)

			req := withURLParam(httptest.NewRequest(http.MethodGet, "/auth/confirmation/abc123", nil), "token", "abc123")
			w := httptest.NewRecorder()

			h.Confirm(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if gotSecret != "abc123" {
				t.Errorf("secret = %q, want %q", gotSecret, "abc123")
			}
			if tt.wantState != "" {
				var body statusResponse
				json.NewDecoder(w.Body).Decode(&body)
				if body.Status != tt.wantState {
					t.Errorf("status field = %q, want %q", body.Status, tt.wantState)
				}
			}
		})
	}
}

// --- POST /auth/resend ---

func TestAuthHandler_Resend(t *testing.T) {
	tests := []struct {
		name       string
		result     auth.ResendResult
		err        error
		wantStatus int
	}{
		{"送信", auth.ResendSent, nil, http.StatusAccepted},
		{"確認済み", auth.ResendAlreadyVerified, nil, http.StatusOK},
		{"未登録", 0, model.NewEmailNotRegisteredError(), http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				resendVerificationFn: func(ctx context.Context, email string) (auth.ResendResult, error) {
					return tt.result, tt.err
				},
			}
			h := newTestAuthHandler(svc)

			w := httptest.NewRecorder()
			h.Resend(w, jsonRequest(http.MethodPost, "/auth/resend", `{"email":"alice@example.com"}`))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
		})
	}
}

// --- パスワード再設定 ---

func TestAuthHandler_Forgot_Accepted(t *testing.T) {
	var gotEmail string
	svc := &mockAuthService{
		requestPasswordResetFn: func(ctx context.Context, email string) error {
			gotEmail = email
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	w := httptest.NewRecorder()
	h.Forgot(w, jsonRequest(http.MethodPost, "/auth/forgot", `{"email":"alice@example.com"}`))

	if w.Code != http.StatusAccepted {
		t.Errorf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if gotEmail != "alice@example.com" {
		t.Errorf("email = %q", gotEmail)
	}
}

func TestAuthHandler_CheckReset_InvalidToken_Returns410(t *testing.T) {
	svc := &mockAuthService{
		checkResetTokenFn: func(ctx context.Context, secret string) error {
			return model.NewInvalidOrUsedTokenError()
		},
	}
	h := newTestAuthHandler(svc)

	req := withURLParam(httptest.NewRequest(http.MethodGet, "/auth/reset/used", nil), "token", "used")
	w := httptest.NewRecorder()

	h.CheckReset(w, req)

	if w.Code != http.StatusGone {
		t.Errorf("status = %d, want %d", w.Code, http.StatusGone)
	}
}

func TestAuthHandler_Reset_PassesTokenAndPasswords(t *testing.T) {
	var gotSecret, gotPassword, gotConfirm string
	svc := &mockAuthService{
		completePasswordResetFn: func(ctx context.Context, secret, newPassword, confirm string) error {
			gotSecret, gotPassword, gotConfirm = secret, newPassword, confirm
			return nil
		},
	}
	h := newTestAuthHandler(svc)

	req := withURLParam(
		jsonRequest(http.MethodPost, "/auth/reset/tok", `{"password":"newpass","password_confirm":"newpass"}`),
		"token", "tok",
	)
	w := httptest.NewRecorder()

	h.Reset(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if gotSecret != "tok" || gotPassword != "newpass" || gotConfirm != "newpass" {
		t.Errorf("args = (%q, %q, %q)", gotSecret, gotPassword, gotConfirm)
	}
}

func TestAuthHandler_Reset_Mismatch_Returns400(t *testing.T) {
	svc := &mockAuthService{
		completePasswordResetFn: func(ctx context.Context, secret, newPassword, confirm string) error {
			return model.NewValidationError([]string{"パスワードが一致しません。"})
		},
	}
	h := newTestAuthHandler(svc)

	req := withURLParam(
		jsonRequest(http.MethodPost, "/auth/reset/tok", `{"password":"a","password_confirm":"b"}`),
		"token", "tok",
	)
	w := httptest.NewRecorder()

	h.Reset(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}
