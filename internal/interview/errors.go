// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package interview

import "errors"

// ErrUnknownNode is returned by RequestReinterview when the node has
// never been seen.
var ErrUnknownNode = errors.New("interview: unknown node")
