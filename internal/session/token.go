package session

import (
	"errors"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Expired reports whether token is a JWT whose exp claim lies before now
// minus skew. The signature is not checked; the remote API remains the
// authority. Opaque tokens and JWTs without exp are never expired here.
func Expired(token string, now time.Time, skew time.Duration) bool {
	tok, err := jwt.ParseString(token, jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return false
	}
	if tok.Expiration().IsZero() {
		return false
	}
	options := []jwt.ValidateOption{
		jwt.WithClock(jwt.ClockFunc(func() time.Time { return now })),
	}
	if skew > 0 {
		options = append(options, jwt.WithAcceptableSkew(skew))
	}
	err = jwt.Validate(tok, options...)
	return err != nil && errors.Is(err, jwt.ErrTokenExpired())
}
