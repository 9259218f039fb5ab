// ABOUTME: JWK parsing and conversion to Go crypto public keys
// ABOUTME: Supports RSA and EC keys as published by OIDC providers

package keyset

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
)

// jwkSet is a JSON Web Key Set as served by a provider's jwks_uri.
type jwkSet struct {
	Keys []jwk `json:"keys"`
}

// jwk is a single JSON Web Key.
type jwk struct {
	KeyType   string `json:"kty"`
	Use       string `json:"use,omitempty"`
	KeyID     string `json:"kid"`
	Algorithm string `json:"alg,omitempty"`
	// RSA parameters
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`
	// EC parameters
	Curve string `json:"crv,omitempty"`
	X     string `json:"x,omitempty"`
	Y     string `json:"y,omitempty"`
}

// publicKey converts the JWK to a Go public key.
func (k *jwk) publicKey() (any, error) {
	switch k.KeyType {
	case "RSA":
		return k.rsaPublicKey()
	case "EC":
		return k.ecdsaPublicKey()
	default:
		return nil, fmt.Errorf("unsupported key type: %s", k.KeyType)
	}
}

func (k *jwk) rsaPublicKey() (*rsa.PublicKey, error) {
	if k.N == "" || k.E == "" {
		return nil, fmt.Errorf("missing RSA key parameters")
	}

	nBytes, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("decoding modulus: %w", err)
	}
	eBytes, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("decoding exponent: %w", err)
	}

	e := new(big.Int).SetBytes(eBytes)
	if !e.IsInt64() || e.Int64() > 1<<31 {
		return nil, fmt.Errorf("exponent out of range")
	}

	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nBytes),
		E: int(e.Int64()),
	}, nil
}

func (k *jwk) ecdsaPublicKey() (*ecdsa.PublicKey, error) {
	if k.X == "" || k.Y == "" || k.Curve == "" {
		return nil, fmt.Errorf("missing EC key parameters")
	}

	xBytes, err := base64.RawURLEncoding.DecodeString(k.X)
	if err != nil {
		return nil, fmt.Errorf("decoding x coordinate: %w", err)
	}
	yBytes, err := base64.RawURLEncoding.DecodeString(k.Y)
	if err != nil {
		return nil, fmt.Errorf("decoding y coordinate: %w", err)
	}

	var curve elliptic.Curve
	switch k.Curve {
	case "P-256":
		curve = elliptic.P256()
	case "P-384":
		curve = elliptic.P384()
	case "P-521":
		curve = elliptic.P521()
	default:
		return nil, fmt.Errorf("unsupported curve: %s", k.Curve)
	}

	return &ecdsa.PublicKey{
		Curve: curve,
		X:     new(big.Int).SetBytes(xBytes),
		Y:     new(big.Int).SetBytes(yBytes),
	}, nil
}
