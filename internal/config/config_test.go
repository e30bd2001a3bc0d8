// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestInitMissingFileKeepsDefaults(t *testing.T) {
	Keys = MasterConfig{CanInterface: "can0", MasterNodeId: "00000000"}
	require.NoError(t, Init(filepath.Join(t.TempDir(), "nonexistent.json")))
	assert.Equal(t, "can0", Keys.CanInterface)
}

func TestInitDecodesAndValidates(t *testing.T) {
	path := writeConfig(t, `{
		"can-interface": "vcan0",
		"master-node-id": "7f000001",
		"gateway-addr": ":9000",
		"history-retention": "delete"
	}`)

	require.NoError(t, Init(path))
	assert.Equal(t, "vcan0", Keys.CanInterface)
	assert.Equal(t, ":9000", Keys.GatewayAddr)
	assert.Equal(t, "delete", Keys.HistoryRetention)
}

func TestInitRejectsInvalidRetentionEnum(t *testing.T) {
	path := writeConfig(t, `{
		"can-interface": "vcan0",
		"master-node-id": "7f000001",
		"history-retention": "bogus"
	}`)

	err := Init(path)
	require.Error(t, err)
}

func TestInitRejectsUnknownFields(t *testing.T) {
	path := writeConfig(t, `{
		"can-interface": "vcan0",
		"master-node-id": "7f000001",
		"typo-field": true
	}`)

	err := Init(path)
	require.Error(t, err)
}

func TestInitResolvesJwtSecretFromEnv(t *testing.T) {
	t.Setenv("CANMASTER_JWT_SECRET_TEST", "super-secret")
	path := writeConfig(t, `{
		"can-interface": "vcan0",
		"master-node-id": "7f000001",
		"jwt-secret": "env:CANMASTER_JWT_SECRET_TEST"
	}`)

	require.NoError(t, Init(path))
	assert.Equal(t, "super-secret", Keys.JwtSecret)
}
