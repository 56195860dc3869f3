package utils

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/dgrijalva/jwt-go"
)

// FeedTokenClaims identifies an upstream sales feed producer. BusinessId
// pins the token to one tenant; Source names the producing system.
type FeedTokenClaims struct {
	BusinessId string `json:"businessId"`
	Source     string `json:"source"`
	jwt.StandardClaims
}

var feedTokenSecret = []byte(feedSecretFromEnv())

func feedSecretFromEnv() string {
	secret := os.Getenv("FEED_TOKEN_SECRET")
	if secret == "" {
		secret = os.Getenv("API_SECRET")
	}
	if secret == "" {
		return "MMDF-Distribution-Secret"
	}
	return secret
}

// GenerateFeedToken mints a token for a feed producer. Lifespan comes
// from FEED_TOKEN_HOUR_LIFESPAN (hours), defaulting to 30 days since
// producers are services, not people.
func GenerateFeedToken(businessId string, source string) (string, error) {
	lifespan, err := strconv.Atoi(os.Getenv("FEED_TOKEN_HOUR_LIFESPAN"))
	if err != nil || lifespan <= 0 {
		lifespan = 24 * 30
	}

	t := jwt.NewWithClaims(jwt.SigningMethodHS256, &FeedTokenClaims{
		BusinessId: businessId,
		Source:     source,
		StandardClaims: jwt.StandardClaims{
			ExpiresAt: time.Now().Add(time.Hour * time.Duration(lifespan)).Unix(),
			IssuedAt:  time.Now().Unix(),
		},
	})
	return t.SignedString(feedTokenSecret)
}

// ValidateFeedToken parses and verifies a producer token.
func ValidateFeedToken(token string) (*FeedTokenClaims, error) {
	parsed, err := jwt.ParseWithClaims(token, &FeedTokenClaims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return feedTokenSecret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := parsed.Claims.(*FeedTokenClaims)
	if !ok || !parsed.Valid {
		return nil, fmt.Errorf("invalid feed token")
	}
	return claims, nil
}
