package server

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

type claims struct {
	UserID string `json:"user_id"`
	jwt.StandardClaims
}

// mintAccessToken issues a short-lived signed access token.
func (s *Server) mintAccessToken(userID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID: userID,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(s.cfg.AccessTokenTTL).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})
	return token.SignedString([]byte(s.cfg.JWTSecret))
}

// mintRefreshToken issues and persists an opaque refresh token.
func (s *Server) mintRefreshToken(userID string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	token := hex.EncodeToString(raw)
	row := RefreshToken{
		Token:     token,
		UserID:    userID,
		ExpiresAt: time.Now().Add(s.cfg.RefreshTokenTTL),
	}
	if err := s.db.Create(&row).Error; err != nil {
		return "", err
	}
	return token, nil
}

func (s *Server) parseAccessToken(raw string) (string, error) {
	parsed, err := jwt.ParseWithClaims(raw, &claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}
	c, ok := parsed.Claims.(*claims)
	if !ok || !parsed.Valid {
		return "", errors.New("invalid token")
	}
	return c.UserID, nil
}

// tokenAuth guards REST routes; expired or missing tokens get a 401 so the
// client's authority can run its refresh.
func (s *Server) tokenAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := s.parseAccessToken(bearerToken(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"code": 401, "message": "invalid or expired token"})
			return
		}
		c.Set("user_id", userID)
		c.Next()
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		return strings.TrimPrefix(header, "Bearer ")
	}
	// The browser websocket API cannot set headers, so the handshake may
	// carry the token as a query parameter instead.
	return r.URL.Query().Get("token")
}

func (s *Server) register(c *gin.Context) {
	var input struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var existing User
	if err := s.db.Where("username = ?", input.Username).First(&existing).Error; err == nil {
		respondError(c, http.StatusBadRequest, "username already exists")
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(input.Password), bcrypt.DefaultCost)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to hash password")
		return
	}
	user := User{ID: newID(), Username: input.Username, PasswordHash: string(hash)}
	if err := s.db.Create(&user).Error; err != nil {
		respondError(c, http.StatusInternalServerError, "failed to create user")
		return
	}
	s.respondTokens(c, user.ID)
}

func (s *Server) login(c *gin.Context) {
	var input struct {
		Username string `json:"username" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var user User
	if err := s.db.Where("username = ?", input.Username).First(&user).Error; err != nil {
		respondError(c, http.StatusUnauthorized, "invalid username or password")
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(input.Password)) != nil {
		respondError(c, http.StatusUnauthorized, "invalid username or password")
		return
	}
	s.respondTokens(c, user.ID)
}

// refresh rotates the pair: the presented refresh token is invalidated and
// a new access/refresh pair returned. A reused or expired token gets 401.
func (s *Server) refresh(c *gin.Context) {
	var input struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&input); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	var row RefreshToken
	if err := s.db.Where("token = ?", input.RefreshToken).First(&row).Error; err != nil {
		respondError(c, http.StatusUnauthorized, "unknown refresh token")
		return
	}
	s.db.Delete(&row)
	if time.Now().After(row.ExpiresAt) {
		respondError(c, http.StatusUnauthorized, "refresh token expired")
		return
	}
	s.respondTokens(c, row.UserID)
}

// respondTokens writes a bare access/refresh pair, the shape the client's
// authority expects from the refresh endpoint.
func (s *Server) respondTokens(c *gin.Context, userID string) {
	access, err := s.mintAccessToken(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to mint token")
		return
	}
	refreshToken, err := s.mintRefreshToken(userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to mint token")
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  access,
		"refresh_token": refreshToken,
	})
}
