// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package repository

import (
	"context"
	"time"

	"github.com/canmaster/can-backend/pkg/log"
)

type hookTimeKey struct{}

// Hooks satisfies the sqlhooks.Hooks interface, logging every query at
// debug level together with its execution time.
type Hooks struct{}

// Before prints the query with its args and stashes the start time.
func (h *Hooks) Before(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	log.Debugf("SQL query %s %q", query, args)
	return context.WithValue(ctx, hookTimeKey{}, time.Now()), nil
}

// After logs the elapsed time recorded by Before.
func (h *Hooks) After(ctx context.Context, query string, args ...interface{}) (context.Context, error) {
	begin := ctx.Value(hookTimeKey{}).(time.Time)
	log.Debugf("SQL query took %s", time.Since(begin))
	return ctx, nil
}
