package auth

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/picshub/internal/model"
	"github.com/hitoshi/picshub/internal/notify"
	"github.com/hitoshi/picshub/internal/password"
	"github.com/hitoshi/picshub/internal/repository"
	"github.com/hitoshi/picshub/internal/security"
	"github.com/hitoshi/picshub/internal/token"
)

// --- モック定義 ---

// memUserRepo はミューテックスで保護されたインメモリのUserRepository。
type memUserRepo struct {
	mu       sync.Mutex
	users    map[model.UserID]*model.User
	findErr  error
	createFn func(ctx context.Context, user *model.User) error
}

func newMemUserRepo() *memUserRepo {
	return &memUserRepo{users: make(map[model.UserID]*model.User)}
}

func (m *memUserRepo) put(u *model.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u.Snapshot()
}

func (m *memUserRepo) get(id model.UserID) *model.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.users[id].Snapshot()
}

func (m *memUserRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.users)
}

func (m *memUserRepo) FindByID(_ context.Context, id model.UserID) (*model.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	return m.get(id), nil
}

func (m *memUserRepo) FindByEmail(_ context.Context, email string) (*model.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return u.Snapshot(), nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) FindByUsername(_ context.Context, username string) (*model.User, error) {
	if m.findErr != nil {
		return nil, m.findErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			return u.Snapshot(), nil
		}
	}
	return nil, nil
}

func (m *memUserRepo) Create(ctx context.Context, user *model.User) error {
	if m.createFn != nil {
		if err := m.createFn(ctx, user); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == user.Email {
			return repository.ErrDuplicateEmail
		}
		if u.Username == user.Username {
			return repository.ErrDuplicateUsername
		}
	}
	m.users[user.ID] = user.Snapshot()
	return nil
}

func (m *memUserRepo) UpdateProfile(_ context.Context, user *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[user.ID] = user.Snapshot()
	return nil
}

func (m *memUserRepo) UpdatePassword(_ context.Context, id model.UserID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.PasswordHash = hash
	}
	return nil
}

func (m *memUserRepo) MarkVerified(_ context.Context, id model.UserID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[id]; ok {
		u.IsVerified = true
	}
	return nil
}

// memTokenRepo はミューテックスで保護されたインメモリのTokenRepository。
// Consumeは検索と削除を1つのロック区間で行う。
type memTokenRepo struct {
	mu     sync.Mutex
	tokens map[string]*model.Token
}

func newMemTokenRepo() *memTokenRepo {
	return &memTokenRepo{tokens: make(map[string]*model.Token)}
}

func (m *memTokenRepo) Create(_ context.Context, t *model.Token) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tokens[t.Secret]; ok {
		return repository.ErrDuplicateSecret
	}
	c := *t
	m.tokens[t.Secret] = &c
	return nil
}

func (m *memTokenRepo) FindBySecret(_ context.Context, secret string) (*model.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[secret]
	if !ok || t.Expired(time.Now()) {
		return nil, nil
	}
	c := *t
	return &c, nil
}

func (m *memTokenRepo) Consume(_ context.Context, secret string, purpose model.TokenPurpose) (*model.Token, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[secret]
	if !ok || t.Purpose != purpose || t.Expired(time.Now()) {
		return nil, nil
	}
	delete(m.tokens, secret)
	return t, nil
}

// secretsFor は指定ユーザー・用途の有効なトークンのシークレットを返す。
func (m *memTokenRepo) secretsFor(userID model.UserID, purpose model.TokenPurpose) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for s, t := range m.tokens {
		if t.UserID == userID && t.Purpose == purpose {
			out = append(out, s)
		}
	}
	return out
}

func (m *memTokenRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tokens)
}

type mockSessionRepo struct {
	mu               sync.Mutex
	sessions         map[string]*model.Session
	createFn         func(ctx context.Context, session *model.Session) error
	deleteByUserIDFn func(ctx context.Context, userID model.UserID) error
}

func newMockSessionRepo() *mockSessionRepo {
	return &mockSessionRepo{sessions: make(map[string]*model.Session)}
}

func (m *mockSessionRepo) Create(ctx context.Context, session *model.Session) error {
	if m.createFn != nil {
		return m.createFn(ctx, session)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = session
	return nil
}

func (m *mockSessionRepo) FindByID(_ context.Context, id string) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[id], nil
}

func (m *mockSessionRepo) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *mockSessionRepo) DeleteByUserID(ctx context.Context, userID model.UserID) error {
	if m.deleteByUserIDFn != nil {
		return m.deleteByUserIDFn(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *mockSessionRepo) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// recordingNotifier は送信依頼されたメッセージを記録するNotifier。
type recordingNotifier struct {
	mu   sync.Mutex
	msgs []notify.Message
	err  error
}

func (n *recordingNotifier) Send(_ context.Context, msg notify.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.msgs = append(n.msgs, msg)
	return n.err
}

func (n *recordingNotifier) sent() []notify.Message {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notify.Message(nil), n.msgs...)
}

// --- compile-time interface checks ---
var _ repository.UserRepository = (*memUserRepo)(nil)
var _ repository.TokenRepository = (*memTokenRepo)(nil)
var _ repository.SessionRepository = (*mockSessionRepo)(nil)
var _ notify.Notifier = (*recordingNotifier)(nil)

// testEnv はテスト用に組み立てたServiceと依存関係。
type testEnv struct {
	svc      *Service
	users    *memUserRepo
	tokens   *memTokenRepo
	sessions *mockSessionRepo
	notifier *recordingNotifier
	hasher   *password.BcryptHasher
}

func newTestEnv() *testEnv {
	env := &testEnv{
		users:    newMemUserRepo(),
		tokens:   newMemTokenRepo(),
		sessions: newMockSessionRepo(),
		notifier: &recordingNotifier{},
		hasher:   password.NewBcryptHasher(password.MinCost),
	}
	env.svc = NewService(Deps{
		Users:     env.users,
		Sessions:  env.sessions,
		Hasher:    env.hasher,
		Tokens:    token.NewIssuer(env.tokens, time.Hour),
		Notifier:  env.notifier,
		Composer:  notify.NewComposer("http://localhost:8080", "noreply@picshub.test"),
		Sanitizer: security.NewContentSanitizer(),
	}, ServiceConfig{SessionMaxAge: 3600})
	return env
}

// addUser はパスワードをハッシュ化したユーザーを登録する。
func (e *testEnv) addUser(id, username, email, plain string, verified bool) *model.User {
	hash, err := e.hasher.Hash(plain)
	if err != nil {
		panic(err)
	}
	u := &model.User{
		ID:           model.UserID(id),
		Name:         "Test " + username,
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		IsVerified:   verified,
	}
	e.users.put(u)
	return u
}

func annInput() RegistrationInput {
	return RegistrationInput{
		Name:            "Ann",
		Username:        "annwrites",
		Email:           "a@x.com",
		Password:        "secret1",
		PasswordConfirm: "secret1",
	}
}
