package utils

import (
	"errors"
	"time"

	"guidebook/config"

	"github.com/golang-jwt/jwt"
)

// Roles carried in the "role" claim.
const (
	RoleTourist = "tourist"
	RoleGuide   = "guide"
	RoleAdmin   = "admin"
)

// Principal is the authenticated caller extracted from a bearer token.
type Principal struct {
	UserID  string
	Role    string
	GuideID string
}

func secretKey() []byte {
	return []byte(config.AppConfig.JWTSecret)
}

// GenerateToken creates a signed JWT for the given principal.
// The token expires after the specified duration.
func GenerateToken(p Principal, duration time.Duration) (string, error) {
	claims := jwt.MapClaims{
		"sub":  p.UserID,
		"role": p.Role,
		"iat":  time.Now().Unix(),
		"exp":  time.Now().Add(duration).Unix(),
	}
	if p.GuideID != "" {
		claims["guideId"] = p.GuideID
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secretKey())
}

// ValidateToken parses and validates a token string and returns the token if valid.
func ValidateToken(tokenString string) (*jwt.Token, error) {
	if len(secretKey()) == 0 {
		return nil, errors.New("jwt secret not configured")
	}
	return jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Ensure that the token's signing method is HMAC.
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return secretKey(), nil
	})
}

// PrincipalFromToken validates the token and reads sub, role and guideId.
func PrincipalFromToken(tokenString string) (Principal, error) {
	token, err := ValidateToken(tokenString)
	if err != nil {
		return Principal{}, err
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return Principal{}, errors.New("invalid token")
	}

	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return Principal{}, errors.New("token does not contain a valid 'sub' claim")
	}
	role, _ := claims["role"].(string)
	switch role {
	case RoleTourist, RoleGuide, RoleAdmin:
	default:
		return Principal{}, errors.New("token does not contain a valid 'role' claim")
	}
	guideID, _ := claims["guideId"].(string)
	if role == RoleGuide && guideID == "" {
		guideID = sub
	}

	return Principal{UserID: sub, Role: role, GuideID: guideID}, nil
}
