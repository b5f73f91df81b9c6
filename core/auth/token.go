package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/trezcool/fatracker/core"
	"github.com/trezcool/fatracker/core/principal"
)

var NowFunc = time.Now // mockable

// Claims are the JWT claims of an access token.
type Claims struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and verifies HS256 access tokens. Tokens are stateless: they cannot be revoked before they expire.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewTokenIssuer(conf *core.Config) *TokenIssuer {
	return &TokenIssuer{
		secret: []byte(conf.SecretKey),
		issuer: conf.Auth.JWTIssuer,
		ttl:    conf.Auth.JWTExpirationDelta,
	}
}

// Issue returns a signed token for ref.
func (ti *TokenIssuer) Issue(ref principal.Ref) (string, error) {
	now := NowFunc()
	claims := Claims{
		ID:   ref.ID,
		Type: string(ref.Kind),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ti.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ti.ttl)),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return token, nil
}

// Verify checks the token's signature, algorithm, issuer and expiry and returns the principal it was issued for.
// Every failure is ErrUnauthorized.
func (ti *TokenIssuer) Verify(token string) (principal.Ref, error) {
	claims := new(Claims)
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(*jwt.Token) (interface{}, error) { return ti.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(ti.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(NowFunc),
	)
	if err != nil || !parsed.Valid {
		return principal.Ref{}, ErrUnauthorized
	}

	kind, err := principal.ParseKind(claims.Type)
	if err != nil || claims.ID <= 0 {
		return principal.Ref{}, ErrUnauthorized
	}
	return principal.Ref{ID: claims.ID, Kind: kind}, nil
}
