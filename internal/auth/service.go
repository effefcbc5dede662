// Package auth はユーザー登録、パスワード認証、セッショントークンの発行と検証を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/crypto/bcrypt"

	"github.com/hitoshi/notemodules/internal/model"
	"github.com/hitoshi/notemodules/internal/repository"
)

// 登録時の入力制約
const (
	MinUsernameLength = 3
	MaxUsernameLength = 64
	MaxEmailLength    = 255
	MinPasswordLength = 6

	// MaxPasswordBytes はbcryptが扱えるパスワードの最大バイト数。
	MaxPasswordBytes = 72

	// BcryptCost はパスワードハッシュのコスト。
	BcryptCost = 10
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// dummyHash はユーザーが存在しない場合の比較に使う。存在有無で応答時間が変わらないようにする。
const dummyHash = "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"

// AuthStatus は認証結果の種別。
type AuthStatus int

const (
	// AuthOK は認証成功。
	AuthOK AuthStatus = iota
	// AuthUserNotFound はユーザー名に一致するユーザーが存在しない。
	AuthUserNotFound
	// AuthInvalidCredentials はパスワードが一致しない。
	AuthInvalidCredentials
)

// String はログ出力用の名前を返す。
func (s AuthStatus) String() string {
	switch s {
	case AuthOK:
		return "ok"
	case AuthUserNotFound:
		return "user_not_found"
	case AuthInvalidCredentials:
		return "invalid_credentials"
	default:
		return "unknown"
	}
}

// AuthResult はAuthenticateの結果。StatusがAuthOKの場合のみIdentityが設定される。
type AuthResult struct {
	Status   AuthStatus
	Identity *model.Identity
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	users  repository.UserRepository
	tokens *TokenManager
	cost   int
	now    func() time.Time
}

// NewService はServiceを生成する。
func NewService(users repository.UserRepository, tokens *TokenManager) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		cost:   BcryptCost,
		now:    time.Now,
	}
}

// Register は入力を検証し、ユーザーを作成する。
// ユーザー名とメールアドレスの重複は事前に確認するが、
// 同時登録で事前確認をすり抜けた場合もストレージの一意制約違反をConflictとして返す。
func (s *Service) Register(ctx context.Context, username, email, password string) (*model.User, error) {
	if err := validateRegistration(username, email, password); err != nil {
		return nil, err
	}

	existing, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by username: %w", err)
	}
	if existing != nil {
		return nil, model.NewConflictError("このユーザー名は既に使用されています")
	}

	existing, err = s.users.FindByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	if existing != nil {
		return nil, model.NewConflictError("このメールアドレスは既に登録されています")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := s.now().UTC()
	user := &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.users.Create(ctx, user); err != nil {
		var dup *repository.DuplicateKeyError
		if errors.As(err, &dup) {
			if dup.Field == "email" {
				return nil, model.NewConflictError("このメールアドレスは既に登録されています")
			}
			return nil, model.NewConflictError("このユーザー名は既に使用されています")
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	slog.Info("user registered",
		slog.String("user_id", user.ID),
		slog.String("username", user.Username),
	)

	user.PasswordHash = ""
	return user, nil
}

func validateRegistration(username, email, password string) error {
	if username == "" || email == "" || password == "" {
		return model.NewValidationError("ユーザー名、メールアドレス、パスワードは必須です")
	}
	if hasUnstorableChars(username) || hasUnstorableChars(email) {
		return model.NewValidationError("ユーザー名またはメールアドレスに使用できない文字が含まれています")
	}
	if n := utf8.RuneCountInString(username); n < MinUsernameLength || n > MaxUsernameLength {
		return model.NewValidationError(fmt.Sprintf("ユーザー名は%d文字以上%d文字以内で入力してください", MinUsernameLength, MaxUsernameLength))
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewValidationError(fmt.Sprintf("パスワードは%d文字以上で入力してください", MinPasswordLength))
	}
	if len(password) > MaxPasswordBytes {
		return model.NewValidationError(fmt.Sprintf("パスワードは%dバイト以内で入力してください", MaxPasswordBytes))
	}
	if utf8.RuneCountInString(email) > MaxEmailLength {
		return model.NewValidationError(fmt.Sprintf("メールアドレスは%d文字以内で入力してください", MaxEmailLength))
	}
	if !emailPattern.MatchString(email) {
		return model.NewValidationError("メールアドレスの形式が正しくありません")
	}
	return nil
}

// hasUnstorableChars はNUL文字または不正なUTF-8を含むかを返す。
func hasUnstorableChars(s string) bool {
	return strings.IndexByte(s, 0) >= 0 || !utf8.ValidString(s)
}

// Authenticate はユーザー名とパスワードを照合する。
// 認証の成否はAuthResult.Statusで返し、errorはストレージ障害などにのみ使う。
func (s *Service) Authenticate(ctx context.Context, username, password string) (AuthResult, error) {
	// 保存できない文字を含むユーザー名は登録され得ない
	if hasUnstorableChars(username) {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return AuthResult{Status: AuthUserNotFound}, nil
	}

	user, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return AuthResult{}, fmt.Errorf("failed to find user by username: %w", err)
	}

	if user == nil {
		_ = bcrypt.CompareHashAndPassword([]byte(dummyHash), []byte(password))
		return AuthResult{Status: AuthUserNotFound}, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return AuthResult{Status: AuthInvalidCredentials}, nil
	}

	return AuthResult{
		Status: AuthOK,
		Identity: &model.Identity{
			ID:    user.ID,
			Name:  user.Username,
			Email: user.Email,
		},
	}, nil
}

// CurrentUser はユーザーIDからセッションのユーザー情報を取得する。
func (s *Service) CurrentUser(ctx context.Context, userID string) (*model.Identity, error) {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}
	return &model.Identity{ID: user.ID, Name: user.Username, Email: user.Email}, nil
}

// IssueToken はユーザーIDに対するセッショントークンを発行する。
func (s *Service) IssueToken(userID string) (string, time.Time, error) {
	return s.tokens.Issue(userID)
}
