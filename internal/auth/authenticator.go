package auth

import (
	"crypto/subtle"
	"errors"
	"time"

	"github.com/JoshJarabek7/messenger-backend/internal/ierr"
	"github.com/golang-jwt/jwt/v5"
)

type Claims struct {
	jwt.RegisteredClaims
}

// Authentication is the identity attached to a validated credential.
// Service principals (API keys) may publish to any scope; user
// principals are checked against scope membership.
type Authentication struct {
	UserId    string
	IsService bool
}

type Authenticator struct {
	secret    []byte
	apiKeys   []string
	jwtParser *jwt.Parser
}

func NewAuthenticator(secret string, apiKeys []string) *Authenticator {
	jwtParser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(30*time.Second),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithAudience("messenger"),
	)

	return &Authenticator{
		secret:    []byte(secret),
		apiKeys:   apiKeys,
		jwtParser: jwtParser,
	}
}

func (a *Authenticator) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, ierr.New(ierr.ErrorCodeInvalidCredential, errors.New("unexpected signing method"))
	}
	return a.secret, nil
}

// ValidateCredential resolves a bearer token to a user identity. It is
// stateless and has no side effects on the core.
func (a *Authenticator) ValidateCredential(tokenString string) (*Authentication, error) {
	claims := Claims{}

	_, err := a.jwtParser.ParseWithClaims(tokenString, &claims, a.keyFunc)
	if err != nil {
		return nil, ierr.New(ierr.ErrorCodeInvalidCredential, err)
	}

	subject, err := claims.GetSubject()
	if err != nil || subject == "" {
		return nil, ierr.New(ierr.ErrorCodeInvalidCredential, errors.New("invalid subject claim"))
	}

	return &Authentication{
		UserId:    subject,
		IsService: false,
	}, nil
}

func (a *Authenticator) AuthenticateAPIKey(apiKey string) (*Authentication, error) {
	for _, key := range a.apiKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(key)) == 1 {
			return &Authentication{
				UserId:    "api",
				IsService: true,
			}, nil
		}
	}

	return nil, ierr.New(ierr.ErrorCodeInvalidCredential, errors.New("invalid api key"))
}
