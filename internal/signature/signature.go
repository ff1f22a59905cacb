// Package signature verifies the detached signatures carried on consent
// decisions and exchange callbacks. A signature is a compact EdDSA JWT
// signed with the party's registered Ed25519 key; the claims bind the
// subject ID and action so a token cannot be replayed against another
// artifact or request.
package signature

import (
	"crypto/ed25519"
	"fmt"

	"github.com/golang-jwt/jwt/v5"

	"github.com/medgrid/exchange-engine/internal/serviceerror"
)

// Claim names carried in signature tokens
const (
	ClaimSubject  = "sub"
	ClaimAction   = "act"
	ClaimDecision = "dec"
)

// Actions a signature may assert
const (
	ActionConsentDecision  = "consent-decision"
	ActionExchangeCallback = "exchange-callback"
)

// VerifyDecision checks a patient decision token against the patient's
// registered key. The token must bind the artifact ID and the decision value.
func VerifyDecision(token string, key ed25519.PublicKey, artifactID, decision string) error {
	claims, err := parse(token, key)
	if err != nil {
		return err
	}
	if claims[ClaimAction] != ActionConsentDecision {
		return serviceerror.Wrap(serviceerror.ErrSignatureInvalid, "unexpected action claim")
	}
	if claims[ClaimSubject] != artifactID {
		return serviceerror.Wrap(serviceerror.ErrSignatureInvalid, "signature bound to a different artifact")
	}
	if claims[ClaimDecision] != decision {
		return serviceerror.Wrap(serviceerror.ErrSignatureInvalid, "signature bound to a different decision")
	}
	return nil
}

// VerifyCallback checks a provider callback token against the provider's
// registered key. The token must bind the exchange request ID.
func VerifyCallback(token string, key ed25519.PublicKey, requestID string) error {
	claims, err := parse(token, key)
	if err != nil {
		return err
	}
	if claims[ClaimAction] != ActionExchangeCallback {
		return serviceerror.Wrap(serviceerror.ErrSignatureInvalid, "unexpected action claim")
	}
	if claims[ClaimSubject] != requestID {
		return serviceerror.Wrap(serviceerror.ErrSignatureInvalid, "signature bound to a different request")
	}
	return nil
}

func parse(token string, key ed25519.PublicKey) (jwt.MapClaims, error) {
	if len(key) == 0 {
		return nil, serviceerror.Wrap(serviceerror.ErrSignatureInvalid, "no registered key for signer")
	}

	claims := jwt.MapClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	})
	if err != nil {
		return nil, serviceerror.Wrap(serviceerror.ErrSignatureInvalid, "%v", err)
	}
	if !parsed.Valid {
		return nil, serviceerror.ErrSignatureInvalid
	}
	return claims, nil
}

// SignDecision produces a decision token with the given key. Used by tests
// and client tooling; the server only verifies.
func SignDecision(key ed25519.PrivateKey, artifactID, decision string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		ClaimSubject:  artifactID,
		ClaimAction:   ActionConsentDecision,
		ClaimDecision: decision,
	})
	return token.SignedString(key)
}

// SignCallback produces a callback token with the given key
func SignCallback(key ed25519.PrivateKey, requestID string) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, jwt.MapClaims{
		ClaimSubject: requestID,
		ClaimAction:  ActionExchangeCallback,
	})
	return token.SignedString(key)
}
