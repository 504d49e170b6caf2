package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"futures-hedge-bot/config"
)

const testPassword = "correct-horse-battery"

func newTestManager(t *testing.T) *Manager {
	t.Helper()

	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	m, err := NewManager(config.AuthConfig{
		Enabled:              true,
		JWTSecret:            "test-secret-key",
		AccessTokenDuration:  15 * time.Minute,
		OperatorUser:         "ops",
		OperatorPasswordHash: hash,
	})
	if err != nil {
		t.Fatalf("NewManager failed: %v", err)
	}
	return m
}

func TestNewManagerRequiresSecret(t *testing.T) {
	if _, err := NewManager(config.AuthConfig{}); err == nil {
		t.Error("Expected error for empty secret")
	}
}

func TestLogin(t *testing.T) {
	m := newTestManager(t)

	tok, err := m.Login("ops", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if tok.AccessToken == "" {
		t.Error("Expected non-empty access token")
	}
	if tok.TokenType != "Bearer" {
		t.Errorf("Expected token type Bearer, got %s", tok.TokenType)
	}
	if tok.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Errorf("Expected expires_in 900, got %d", tok.ExpiresIn)
	}

	if _, err := m.Login("ops", "wrong-password"); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials for bad password, got %v", err)
	}
	if _, err := m.Login("intruder", testPassword); err != ErrInvalidCredentials {
		t.Errorf("Expected ErrInvalidCredentials for unknown user, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	m := newTestManager(t)

	tok, err := m.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	claims, err := m.ValidateToken(tok.AccessToken)
	if err != nil {
		t.Fatalf("ValidateToken failed: %v", err)
	}
	if claims.Operator != "ops" {
		t.Errorf("Expected operator ops, got %s", claims.Operator)
	}
	if claims.Issuer != tokenIssuer {
		t.Errorf("Expected issuer %s, got %s", tokenIssuer, claims.Issuer)
	}
}

func TestValidateRejectsExpired(t *testing.T) {
	m := newTestManager(t)
	m.tokenDuration = -time.Minute

	tok, err := m.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := m.ValidateToken(tok.AccessToken); err != ErrTokenExpired {
		t.Errorf("Expected ErrTokenExpired, got %v", err)
	}
}

func TestValidateRejectsTampered(t *testing.T) {
	m := newTestManager(t)

	tok, err := m.GenerateToken()
	if err != nil {
		t.Fatalf("GenerateToken failed: %v", err)
	}

	if _, err := m.ValidateToken(tok.AccessToken + "x"); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken for tampered token, got %v", err)
	}
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	m := newTestManager(t)

	other := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Operator: "ops",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	signed, err := other.SignedString([]byte("different-secret"))
	if err != nil {
		t.Fatalf("SignedString failed: %v", err)
	}

	if _, err := m.ValidateToken(signed); err != ErrInvalidToken {
		t.Errorf("Expected ErrInvalidToken for foreign signature, got %v", err)
	}
}

func TestPasswordVerify(t *testing.T) {
	hash, err := HashPassword(testPassword)
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	if !VerifyPassword(testPassword, hash) {
		t.Error("Expected correct password to verify")
	}
	if VerifyPassword("wrong", hash) {
		t.Error("Expected wrong password to fail")
	}
	if VerifyPassword(testPassword, "") {
		t.Error("Expected empty hash to fail")
	}
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	m := newTestManager(t)

	router := gin.New()
	router.GET("/probe", Middleware(m), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"operator": c.GetString(ContextKeyOperator)})
	})

	t.Run("missing header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", w.Code)
		}
	})

	t.Run("malformed header", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Token abc")
		router.ServeHTTP(w, req)

		if w.Code != http.StatusUnauthorized {
			t.Errorf("Expected status 401, got %d", w.Code)
		}
	})

	t.Run("valid token", func(t *testing.T) {
		tok, err := m.GenerateToken()
		if err != nil {
			t.Fatalf("GenerateToken failed: %v", err)
		}

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		req.Header.Set("Authorization", "Bearer "+tok.AccessToken)
		router.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Fatalf("Expected status 200, got %d", w.Code)
		}

		var body map[string]string
		if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
			t.Fatalf("Failed to parse response: %v", err)
		}
		if body["operator"] != "ops" {
			t.Errorf("Expected operator ops, got %s", body["operator"])
		}
	})

	t.Run("nil manager disables auth", func(t *testing.T) {
		open := gin.New()
		open.GET("/probe", Middleware(nil), func(c *gin.Context) {
			c.Status(http.StatusOK)
		})

		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/probe", nil)
		open.ServeHTTP(w, req)

		if w.Code != http.StatusOK {
			t.Errorf("Expected status 200, got %d", w.Code)
		}
	})
}
