package middleware

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/schoolways/bus-tracker-backend/internal/models"
	"github.com/schoolways/bus-tracker-backend/internal/services"
	"github.com/schoolways/bus-tracker-backend/pkg/jwt"
)

const (
	// UserContextKey is the key used to store user context in gin.Context
	UserContextKey = "user"
	// ProfileContextKey holds the loaded users/{uid} profile
	ProfileContextKey = "profile"
)

// ErrTokenExpired is returned by verifiers for expired tokens
var ErrTokenExpired = errors.New("token expired")

// UserContext represents the authenticated caller
type UserContext struct {
	UID   string
	Email string
}

// TokenVerifier turns a Bearer token into the caller's identity
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*UserContext, error)
}

// IDTokenVerifier is the subset of *auth.Client used for Firebase ID tokens
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

// FirebaseVerifier verifies Firebase ID tokens
type FirebaseVerifier struct {
	client IDTokenVerifier
}

// NewFirebaseVerifier creates a verifier backed by the Firebase Admin auth client
func NewFirebaseVerifier(client IDTokenVerifier) *FirebaseVerifier {
	return &FirebaseVerifier{client: client}
}

// Verify checks the ID token signature and expiry
func (v *FirebaseVerifier) Verify(ctx context.Context, token string) (*UserContext, error) {
	decoded, err := v.client.VerifyIDToken(ctx, token)
	if err != nil {
		if auth.IsIDTokenExpired(err) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, err
	}
	email, _ := decoded.Claims["email"].(string)
	return &UserContext{UID: decoded.UID, Email: email}, nil
}

// LocalVerifier verifies HS256 tokens issued by pkg/jwt
type LocalVerifier struct {
	jwtService *jwt.Service
}

// NewLocalVerifier creates a verifier for locally signed tokens
func NewLocalVerifier(jwtService *jwt.Service) *LocalVerifier {
	return &LocalVerifier{jwtService: jwtService}
}

// Verify validates the token with the shared secret
func (v *LocalVerifier) Verify(_ context.Context, token string) (*UserContext, error) {
	claims, err := v.jwtService.ValidateAccessToken(token)
	if err != nil {
		if errors.Is(err, gojwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, err
	}
	return &UserContext{UID: claims.UID, Email: claims.Email}, nil
}

// AuthMiddleware validates Bearer tokens and sets the user context
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			log.Printf("AUTH FAILED: Missing authorization header for %s %s", c.Request.Method, c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing authorization header",
				"code":    "MISSING_AUTH_HEADER",
			})
			c.Abort()
			return
		}

		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
			log.Printf("AUTH FAILED: Invalid authorization format for %s %s", c.Request.Method, c.Request.URL.Path)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid authorization header format. Expected: Bearer <token>",
				"code":    "INVALID_AUTH_FORMAT",
			})
			c.Abort()
			return
		}

		user, err := verifier.Verify(c.Request.Context(), strings.TrimSpace(parts[1]))
		if err != nil {
			if errors.Is(err, ErrTokenExpired) {
				log.Printf("AUTH FAILED: Token expired for %s %s", c.Request.Method, c.Request.URL.Path)
				c.JSON(http.StatusUnauthorized, gin.H{
					"error":   "unauthorized",
					"message": "Token has expired",
					"code":    "TOKEN_EXPIRED",
				})
				c.Abort()
				return
			}
			log.Printf("AUTH FAILED: Invalid token for %s %s - Error: %v", c.Request.Method, c.Request.URL.Path, err)
			c.JSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid token",
				"code":    "INVALID_TOKEN",
			})
			c.Abort()
			return
		}

		c.Set(UserContextKey, *user)
		c.Set("user_id", user.UID)
		c.Next()
	}
}

// GetUserContext retrieves the user context from gin.Context
func GetUserContext(c *gin.Context) (UserContext, bool) {
	value, exists := c.Get(UserContextKey)
	if !exists {
		return UserContext{}, false
	}
	user, ok := value.(UserContext)
	return user, ok
}

// MustGetUserContext retrieves user context or aborts with 401
func MustGetUserContext(c *gin.Context) (UserContext, bool) {
	user, ok := GetUserContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":   "unauthorized",
			"message": "User context not found",
			"code":    "MISSING_USER_CONTEXT",
		})
		c.Abort()
		return UserContext{}, false
	}
	return user, true
}

// ProfileLoader loads users/{uid} profiles
type ProfileLoader interface {
	Load(ctx context.Context, uid string) (*models.Profile, error)
}

// RequireProfile loads the caller's profile into the context
func RequireProfile(profiles ProfileLoader) gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := MustGetUserContext(c)
		if !ok {
			return
		}
		profile, err := profiles.Load(c.Request.Context(), user.UID)
		if err != nil {
			if errors.Is(err, services.ErrProfileNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error":   "not_found",
					"message": "Profile not found",
					"code":    "PROFILE_NOT_FOUND",
				})
				c.Abort()
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":   "internal_error",
				"message": "Failed to load profile",
			})
			c.Abort()
			return
		}
		c.Set(ProfileContextKey, profile)
		c.Next()
	}
}

// RequireMonitor aborts with 403 unless the loaded profile is a monitor.
// Must run after RequireProfile.
func RequireMonitor() gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, ok := GetProfile(c)
		if !ok || !profile.IsMonitor() {
			log.Printf("AUTH FAILED: Monitor role required for %s %s", c.Request.Method, c.Request.URL.Path)
			c.JSON(http.StatusForbidden, gin.H{
				"error":   "forbidden",
				"message": "Monitor role required",
				"code":    "INSUFFICIENT_PERMISSIONS",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// GetProfile returns the profile loaded by RequireProfile
func GetProfile(c *gin.Context) (*models.Profile, bool) {
	value, exists := c.Get(ProfileContextKey)
	if !exists {
		return nil, false
	}
	profile, ok := value.(*models.Profile)
	return profile, ok && profile != nil
}
