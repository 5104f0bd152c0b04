package deeplink

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gowebpki/jcs"
)

// ErrBadSignature is returned by Verify when the sig parameter does not
// match the link.
var ErrBadSignature = errors.New("deeplink: bad signature")

type linkClaims struct {
	ProductKey  string `json:"pk"`
	PrefillHash string `json:"ph"`
	jwt.RegisteredClaims
}

func prefillHash(prefill []byte) (string, error) {
	canonical, err := jcs.Transform(prefill)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func sign(key []byte, productKey string, prefill []byte, now time.Time) (string, error) {
	ph, err := prefillHash(prefill)
	if err != nil {
		return "", err
	}
	claims := linkClaims{
		ProductKey:  productKey,
		PrefillHash: ph,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(key)
}

// Verify checks the sig parameter of a link produced by a Builder with a
// signing key.
func (b *Builder) Verify(rawURL string) error {
	if len(b.opts.SigningKey) == 0 {
		return fmt.Errorf("%w: no signing key configured", ErrBadSignature)
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	q := u.Query()
	sig := q.Get("sig")
	if sig == "" {
		return fmt.Errorf("%w: missing sig", ErrBadSignature)
	}

	var claims linkClaims
	_, err = jwt.ParseWithClaims(sig, &claims, func(t *jwt.Token) (interface{}, error) {
		return b.opts.SigningKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}

	ph, err := prefillHash([]byte(q.Get("prefill")))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if claims.ProductKey != q.Get("productId") || claims.PrefillHash != ph {
		return ErrBadSignature
	}
	return nil
}
