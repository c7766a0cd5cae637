package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/securecookie"
	"github.com/zhenyuanlu/haybeat/internal"
	"github.com/zhenyuanlu/haybeat/internal/storage"
	"golang.org/x/crypto/bcrypt"
)

const sessionCookieName = "haybeat_session"

const (
	MsgNoAccount         = "No account found with this email."
	MsgIncorrectPassword = "Incorrect password."
)

type SessionEventKind string

const (
	SessionSignedIn  SessionEventKind = "signed_in"
	SessionSignedOut SessionEventKind = "signed_out"
)

type SessionEvent struct {
	Kind   SessionEventKind
	UserID string
}

type Session struct {
	Token     string        `json:"token"`
	User      internal.User `json:"user"`
	ExpiresAt time.Time     `json:"expires_at"`
}

type SignUpRequest struct {
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=6"`
	ConfirmPassword string `json:"confirm_password" validate:"required,eqfield=Password"`
	DisplayName     string `json:"display_name" validate:"omitempty,max=80"`
}

type SignInRequest struct {
	Email    string `json:"email" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type sessionData struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Email     string `json:"email"`
	Name      string `json:"name"`
	IssuedAt  int64  `json:"issued_at"`
}

// PasswordService is the email and password authentication service. Session
// tokens are signed with SESSION_SECRET; signed-out session ids are kept
// until they would have expired anyway. The revocation list is per process:
// a restart or another instance accepts a signed-out token until it expires.
type PasswordService struct {
	users    storage.UserRepository
	codec    *securecookie.SecureCookie
	ttl      time.Duration
	validate *validator.Validate
	logger   internal.Logger
	now      func() time.Time

	mu        sync.Mutex
	revoked   map[string]time.Time
	listeners []func(SessionEvent)
}

func NewPasswordService(users storage.UserRepository, secret string, ttl time.Duration, logger internal.Logger) *PasswordService {
	codec := securecookie.New([]byte(secret), nil)
	codec.SetSerializer(securecookie.JSONEncoder{})
	codec.MaxAge(int(ttl.Seconds()))
	return &PasswordService{
		users:    users,
		codec:    codec,
		ttl:      ttl,
		validate: validator.New(),
		logger:   logger,
		now:      time.Now,
		revoked:  make(map[string]time.Time),
	}
}

// OnSessionChange registers a listener for sign-in and sign-out events.
func (s *PasswordService) OnSessionChange(listener func(SessionEvent)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, listener)
}

func (s *PasswordService) emit(ev SessionEvent) {
	s.mu.Lock()
	listeners := append([]func(SessionEvent){}, s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(ev)
	}
}

func signUpError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", internal.ErrValidation, err)
	}
	fe := verrs[0]
	var msg string
	switch fe.Field() {
	case "Email":
		msg = "Please enter a valid email."
		if fe.Tag() == "required" {
			msg = "Please enter your email."
		}
	case "Password":
		msg = "Password must be at least 6 characters."
		if fe.Tag() == "required" {
			msg = "Please enter a password."
		}
	case "ConfirmPassword":
		msg = "Passwords do not match."
		if fe.Tag() == "required" {
			msg = "Please confirm password."
		}
	default:
		msg = fe.Error()
	}
	return fmt.Errorf("%w: %s", internal.ErrValidation, msg)
}

// SignUp creates the account and its profile, then signs the user in.
func (s *PasswordService) SignUp(ctx context.Context, req SignUpRequest) (*Session, error) {
	req.Email = strings.TrimSpace(req.Email)
	if err := s.validate.Struct(req); err != nil {
		return nil, signUpError(err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("hashing password: %w", err)
	}
	account := &internal.Account{
		UserID:       uuid.NewString(),
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.users.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, internal.ErrConflict) {
			return nil, fmt.Errorf("%w: This email is already registered.", internal.ErrConflict)
		}
		return nil, err
	}

	displayName := strings.TrimSpace(req.DisplayName)
	if displayName == "" {
		displayName = EmailLocalPart(req.Email)
	}
	profile := &internal.UserProfile{
		ID:               account.UserID,
		DisplayName:      displayName,
		Email:            req.Email,
		MembershipStatus: internal.MembershipFree,
	}
	if err := s.users.SaveProfile(ctx, profile); err != nil {
		s.logger.Warnf("auth: account %s created but profile save failed: %v", account.UserID, err)
	}
	s.logger.Infof("auth: new account %s", account.UserID)
	return s.issue(internal.User{ID: account.UserID, Name: displayName, Email: req.Email})
}

func (s *PasswordService) SignIn(ctx context.Context, req SignInRequest) (*Session, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: email and password are required", internal.ErrValidation)
	}
	account, err := s.users.GetAccountByEmail(ctx, strings.TrimSpace(req.Email))
	if err != nil {
		if errors.Is(err, internal.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", internal.ErrNotAuthenticated, MsgNoAccount)
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)); err != nil {
		return nil, fmt.Errorf("%w: %s", internal.ErrNotAuthenticated, MsgIncorrectPassword)
	}

	name := EmailLocalPart(account.Email)
	if profile, err := s.users.GetProfile(ctx, account.UserID); err == nil && profile.DisplayName != "" {
		name = profile.DisplayName
	}
	return s.issue(internal.User{ID: account.UserID, Name: name, Email: account.Email})
}

func (s *PasswordService) issue(user internal.User) (*Session, error) {
	issued := s.now()
	data := sessionData{
		UserID:    user.ID,
		SessionID: uuid.NewString(),
		Email:     user.Email,
		Name:      user.Name,
		IssuedAt:  issued.Unix(),
	}
	token, err := s.codec.Encode(sessionCookieName, data)
	if err != nil {
		return nil, fmt.Errorf("encoding session: %w", err)
	}
	s.emit(SessionEvent{Kind: SessionSignedIn, UserID: user.ID})
	return &Session{Token: token, User: user, ExpiresAt: issued.Add(s.ttl)}, nil
}

func (s *PasswordService) decode(token string) (*sessionData, error) {
	var data sessionData
	if err := s.codec.Decode(sessionCookieName, token, &data); err != nil {
		return nil, fmt.Errorf("%w: invalid session token", internal.ErrNotAuthenticated)
	}
	if s.now().After(time.Unix(data.IssuedAt, 0).Add(s.ttl)) {
		return nil, fmt.Errorf("%w: session expired", internal.ErrNotAuthenticated)
	}
	s.mu.Lock()
	_, revoked := s.revoked[data.SessionID]
	s.mu.Unlock()
	if revoked {
		return nil, fmt.Errorf("%w: session signed out", internal.ErrNotAuthenticated)
	}
	return &data, nil
}

func (s *PasswordService) ValidateToken(ctx context.Context, token string) (*internal.User, error) {
	data, err := s.decode(token)
	if err != nil {
		return nil, err
	}
	return &internal.User{ID: data.UserID, Name: data.Name, Email: data.Email}, nil
}

// SignOut revokes the session behind token.
func (s *PasswordService) SignOut(ctx context.Context, token string) error {
	data, err := s.decode(token)
	if err != nil {
		return err
	}
	now := s.now()
	s.mu.Lock()
	s.revoked[data.SessionID] = time.Unix(data.IssuedAt, 0).Add(s.ttl)
	for id, expiry := range s.revoked {
		if now.After(expiry) {
			delete(s.revoked, id)
		}
	}
	s.mu.Unlock()
	s.emit(SessionEvent{Kind: SessionSignedOut, UserID: data.UserID})
	return nil
}

// EmailLocalPart returns the part of email before '@'.
func EmailLocalPart(email string) string {
	if i := strings.Index(email, "@"); i >= 0 {
		return email[:i]
	}
	return email
}

var _ Provider = (*PasswordService)(nil)
var _ Provider = (*StaticProvider)(nil)
var _ Provider = (*RemoteProvider)(nil)
