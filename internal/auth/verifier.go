package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"collab-service/internal/collab"
	"collab-service/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// UserResolver turns the token's user id into an account row. Satisfied by
// repository.UserRepository.
type UserResolver interface {
	FindByID(ctx context.Context, id uint) (*models.User, error)
}

// TokenVerifier resolves a bearer token into an identity at connection
// handshake time. Verification is synchronous: a connection that fails
// here never reaches the hub and no state is created for it.
type TokenVerifier struct {
	secret string
	users  UserResolver
}

func NewTokenVerifier(secret string, users UserResolver) *TokenVerifier {
	return &TokenVerifier{
		secret: secret,
		users:  users,
	}
}

// Verify validates the token signature and claims, then resolves the user
// row behind it. Any failure collapses into ErrInvalidToken so callers
// reject uniformly without leaking which check failed.
func (v *TokenVerifier) Verify(ctx context.Context, tokenString string) (*collab.Identity, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")
	if tokenString == "" {
		return nil, ErrInvalidToken
	}

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secret), nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, ErrInvalidToken
	}

	userID, ok := claims["user_id"].(float64)
	if !ok {
		return nil, ErrInvalidToken
	}

	user, err := v.users.FindByID(ctx, uint(userID))
	if err != nil {
		return nil, ErrInvalidToken
	}

	return &collab.Identity{
		ID:    strconv.FormatUint(uint64(user.ID), 10),
		Name:  user.Username,
		Email: user.Email,
	}, nil
}
