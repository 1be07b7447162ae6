package auth

import (
	"context"
	"testing"
	"time"

	"collab-service/internal/models"
	"collab-service/internal/repository"

	"github.com/golang-jwt/jwt/v5"
	"gorm.io/gorm"
)

const testSecret = "test-secret"

type stubResolver struct {
	users map[uint]*models.User
}

func (s *stubResolver) FindByID(_ context.Context, id uint) (*models.User, error) {
	if user, ok := s.users[id]; ok {
		return user, nil
	}
	return nil, repository.ErrUserNotFound
}

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func testVerifier() *TokenVerifier {
	resolver := &stubResolver{users: map[uint]*models.User{
		42: {Model: gorm.Model{ID: 42}, Username: "alice", Email: "alice@example.com"},
	}}
	return NewTokenVerifier(testSecret, resolver)
}

func TestVerify(t *testing.T) {
	ctx := context.Background()

	t.Run("ValidToken", func(t *testing.T) {
		v := testVerifier()
		token := signedToken(t, testSecret, jwt.MapClaims{
			"user_id": 42,
			"email":   "alice@example.com",
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		identity, err := v.Verify(ctx, token)
		if err != nil {
			t.Fatalf("expected valid token, got %v", err)
		}
		if identity.ID != "42" || identity.Name != "alice" || identity.Email != "alice@example.com" {
			t.Errorf("unexpected identity: %+v", identity)
		}
	})

	t.Run("BearerPrefixIsStripped", func(t *testing.T) {
		v := testVerifier()
		token := signedToken(t, testSecret, jwt.MapClaims{
			"user_id": 42,
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		if _, err := v.Verify(ctx, "Bearer "+token); err != nil {
			t.Errorf("expected bearer-prefixed token accepted, got %v", err)
		}
	})

	t.Run("RejectsBadSignature", func(t *testing.T) {
		v := testVerifier()
		token := signedToken(t, "other-secret", jwt.MapClaims{
			"user_id": 42,
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		if _, err := v.Verify(ctx, token); err != ErrInvalidToken {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("RejectsExpiredToken", func(t *testing.T) {
		v := testVerifier()
		token := signedToken(t, testSecret, jwt.MapClaims{
			"user_id": 42,
			"exp":     time.Now().Add(-time.Hour).Unix(),
		})

		if _, err := v.Verify(ctx, token); err != ErrInvalidToken {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("RejectsMissingUserClaim", func(t *testing.T) {
		v := testVerifier()
		token := signedToken(t, testSecret, jwt.MapClaims{
			"email": "alice@example.com",
			"exp":   time.Now().Add(time.Hour).Unix(),
		})

		if _, err := v.Verify(ctx, token); err != ErrInvalidToken {
			t.Errorf("expected ErrInvalidToken, got %v", err)
		}
	})

	t.Run("RejectsUnknownUser", func(t *testing.T) {
		v := testVerifier()
		token := signedToken(t, testSecret, jwt.MapClaims{
			"user_id": 7,
			"exp":     time.Now().Add(time.Hour).Unix(),
		})

		if _, err := v.Verify(ctx, token); err != ErrInvalidToken {
			t.Errorf("expected ErrInvalidToken for unknown user, got %v", err)
		}
	})

	t.Run("RejectsEmptyToken", func(t *testing.T) {
		v := testVerifier()
		if _, err := v.Verify(ctx, ""); err != ErrInvalidToken {
			t.Errorf("expected ErrInvalidToken for empty token, got %v", err)
		}
	})
}
