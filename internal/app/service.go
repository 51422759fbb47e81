package app

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lufeisan/tornadoforum/internal/auth"
	"github.com/lufeisan/tornadoforum/internal/authpw"
	"github.com/lufeisan/tornadoforum/internal/config"
	"github.com/lufeisan/tornadoforum/internal/email"
	"github.com/lufeisan/tornadoforum/internal/media"
	"github.com/lufeisan/tornadoforum/internal/search"
	"github.com/lufeisan/tornadoforum/internal/store"
	"github.com/lufeisan/tornadoforum/internal/util"
)

// ErrUnknownPrincipal means a credential decoded cleanly but its subject
// no longer exists. Distinct from codec failures so the gate can answer
// with its own rejection code.
var ErrUnknownPrincipal = errors.New("unknown principal")

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	NickName     string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error
	GetUserByID(context.Context, string) (store.User, error)
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	InsertGroup(context.Context, store.Group) error
	GetGroup(context.Context, string) (store.Group, error)
	ListGroups(context.Context, store.GroupFilter) ([]store.Group, error)

	InsertMembership(context.Context, store.GroupMember) error
	GetMembership(context.Context, string, string) (store.GroupMember, error)
	GetMembershipByID(context.Context, string) (store.GroupMember, error)
	ListMembers(context.Context, string, string) ([]store.GroupMember, error)
	DecideMembership(context.Context, string, string) (bool, error)

	InsertPost(context.Context, store.Post) error
	GetPost(context.Context, string) (store.Post, error)
	ListPosts(context.Context, string, store.PostFilter) ([]store.Post, error)

	GetComment(context.Context, string) (store.Comment, error)
	InsertComment(context.Context, store.Comment) error
	InsertReply(context.Context, store.Comment) error
	ListTopLevelComments(context.Context, string) ([]store.Comment, error)
	ListReplies(context.Context, string) ([]store.Comment, error)
	InsertLike(context.Context, store.CommentLike) error
	HasLiked(context.Context, string, string) (bool, error)
}

// refreshStore holds refresh sessions. Redis when configured, the
// Postgres store otherwise; both expose the same three methods.
type refreshStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshStore
	search   *search.Service
	media    media.Store
	authPW   *authpw.Service
	email    *email.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, sessions refreshStore, searchSvc *search.Service, mediaStore media.Store, authPW *authpw.Service, emailSvc *email.Service) *Service {
	if sessions == nil {
		sessions = dataStore
	}
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		sessions: sessions,
		search:   searchSvc,
		media:    mediaStore,
		authPW:   authPW,
		email:    emailSvc,
	}
}

func (s *Service) AuthPasswordService() *authpw.Service { return s.authPW }

func (s *Service) EmailService() *email.Service { return s.email }

func (s *Service) SiteURL() string { return s.cfg.SiteURL }

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// SessionForUser issues a fresh access/refresh token pair after a
// successful password sign-in.
func (s *Service) SessionForUser(ctx context.Context, user store.User) (Session, error) {
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.TokenTTL)

	token, err := auth.IssueToken([]byte(s.cfg.SecretKey), auth.Claims{
		Sub:  user.ID,
		Name: user.NickName,
		Iat:  now.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		NickName:     user.NickName,
		ExpiresAt:    expiresAt,
	}, nil
}

// SessionFromToken is the gate every protected route goes through: decode
// the credential, check it was not revoked, resolve the principal. Each
// failure mode keeps its own error so callers can answer precisely.
func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.SecretKey), token, s.cfg.TokenTTL, s.cfg.TokenLeeway)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, auth.HashToken(token))
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrExpiredToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, ErrUnknownPrincipal
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		NickName:  user.NickName,
		ExpiresAt: time.Unix(claims.Iat, 0).Add(s.cfg.TokenTTL),
	}, nil
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	// The refresh record may carry only the bare identity; re-read the
	// user so the new session reflects the current nick name.
	if fresh, err := s.store.GetUserByID(ctx, user.ID); err == nil {
		user = fresh
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.Token != "" {
		_ = s.store.RevokeAccessToken(ctx, auth.HashToken(session.Token), session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}
