package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"soundproof/core/neynar"
	"soundproof/logger"
	"soundproof/model"
)

var (
	// ErrUserNotFound means the Farcaster identity could not be resolved.
	ErrUserNotFound = errors.New("farcaster user not found")
	// ErrWalletNotVerified means the wallet is not among the user's verified addresses.
	ErrWalletNotVerified = errors.New("wallet is not verified for this farcaster user")
	// ErrIdentityRequired means neither a username nor a fid was given.
	ErrIdentityRequired = errors.New("username or fid is required")
)

// Resolver looks Farcaster users up.
type Resolver interface {
	GetUserByFID(ctx context.Context, fid int64) (*neynar.User, error)
	GetUserByUsername(ctx context.Context, username string) (*neynar.User, error)
}

// UserStore records signed-in users.
type UserStore interface {
	CreateOrUpdate(ctx context.Context, fid int64, wallet string) (*model.User, error)
}

// SignInRequest identifies the user by username or fid.
type SignInRequest struct {
	Username      string `json:"username,omitempty"`
	FID           int64  `json:"fid,omitempty"`
	WalletAddress string `json:"walletAddress"`
}

// SignInResult is returned to the client.
type SignInResult struct {
	Token string       `json:"token"`
	User  *neynar.User `json:"user"`
}

// Service signs users in with a Farcaster identity plus a verified wallet.
type Service struct {
	resolver Resolver
	users    UserStore
	tokens   *TokenIssuer
}

// NewService creates an auth service. users may be nil.
func NewService(resolver Resolver, users UserStore, tokens *TokenIssuer) *Service {
	return &Service{resolver: resolver, users: users, tokens: tokens}
}

// Tokens exposes the issuer for middleware.
func (s *Service) Tokens() *TokenIssuer {
	return s.tokens
}

// SignIn resolves the user, checks the wallet and issues a token.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (*SignInResult, error) {
	wallet, err := ChecksumAddress(req.WalletAddress)
	if err != nil {
		return nil, err
	}

	var user *neynar.User
	switch {
	case req.FID > 0:
		user, err = s.resolver.GetUserByFID(ctx, req.FID)
	case strings.TrimSpace(req.Username) != "":
		user, err = s.resolver.GetUserByUsername(ctx, req.Username)
	default:
		return nil, ErrIdentityRequired
	}
	if err != nil {
		if errors.Is(err, neynar.ErrUserNotFound) {
			return nil, fmt.Errorf("%w: %v", ErrUserNotFound, err)
		}
		return nil, fmt.Errorf("failed to resolve farcaster user: %w", err)
	}

	if !AddressVerified(wallet, user.Verifications) {
		logger.Warn("sign-in with unverified wallet",
			logger.Int64("fid", user.FID),
			logger.String("wallet", wallet))
		return nil, fmt.Errorf("%w: %s is not verified with @%s", ErrWalletNotVerified, wallet, user.Username)
	}

	if s.users != nil {
		if _, err := s.users.CreateOrUpdate(ctx, user.FID, wallet); err != nil {
			return nil, fmt.Errorf("failed to record user: %w", err)
		}
	}

	token, err := s.tokens.GenerateToken(user.FID, user.Username, wallet)
	if err != nil {
		return nil, err
	}
	logger.Info("user signed in", logger.Int64("fid", user.FID), logger.String("username", user.Username))
	return &SignInResult{Token: token, User: user}, nil
}
