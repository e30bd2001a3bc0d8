// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package gateway

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ErrUnauthorized is returned by authenticate when the token query
// parameter is missing, malformed, or carries an invalid/expired
// token.
var ErrUnauthorized = errors.New("gateway: missing or invalid token")

// claims is the subset of an operator JWT's payload this gateway
// cares about: who is making the request, for audit attribution.
type claims struct {
	jwt.RegisteredClaims
	Actor string `json:"actor,omitempty"`
}

// authenticate verifies raw (the "token" query parameter carried on
// the websocket upgrade request, per the browser WebSocket API's
// inability to set custom handshake headers) against secret using
// HS256, the same MapClaims-over-HMAC shape the teacher's JWT login
// token path uses, and returns the actor name to attribute audit
// entries to.
func authenticate(secret []byte, raw string) (string, error) {
	if raw == "" {
		return "", ErrUnauthorized
	}

	var c claims
	token, err := jwt.ParseWithClaims(raw, &c, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("gateway: unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil || !token.Valid {
		return "", ErrUnauthorized
	}

	actor := c.Actor
	if actor == "" {
		actor = c.Subject
	}
	if actor == "" {
		return "", ErrUnauthorized
	}
	return actor, nil
}
