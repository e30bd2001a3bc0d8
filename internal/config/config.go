// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package config holds the master's JSON configuration: everything
// that differs between a bench rig and a production install, decoded
// once at startup into the package-level Keys.
package config

import (
	"bytes"
	"encoding/json"
	"os"
	"strings"

	"github.com/canmaster/can-backend/pkg/log"
)

// S3ArchiveConfig configures the optional nightly export of aged
// node_history rows to an S3-compatible bucket. Left zero-valued, the
// export job never runs.
type S3ArchiveConfig struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Prefix          string `json:"prefix"`
	Endpoint        string `json:"endpoint,omitempty"`
	RetentionMaxAge string `json:"retention-max-age"`
}

// NatsMirrorConfig configures the optional best-effort NATS mirror of
// engine broadcasts. Left zero-valued, Connect is never called.
type NatsMirrorConfig struct {
	Address       string `json:"address"`
	Username      string `json:"username,omitempty"`
	Password      string `json:"password,omitempty"`
	CredsFilePath string `json:"creds-file-path,omitempty"`
}

// MasterConfig is the format of config.json.
type MasterConfig struct {
	// CanInterface is the SocketCAN interface name the bus port binds
	// to, e.g. "can0" or "vcan0" for tests.
	CanInterface string `json:"can-interface"`

	// MasterNodeId is this master's own node identity in hex, used as
	// the broadcast-wildcard NodeId in ReqNodeIntro frames.
	MasterNodeId string `json:"master-node-id"`

	// DB is the path to the sqlite3 database file.
	DB string `json:"db"`

	// DefinitionsCSV is the path to the message-name catalogue export
	// consumed by internal/definitions on startup.
	DefinitionsCSV string `json:"definitions-csv"`

	// AdminAddr is where the ambient admin HTTP surface
	// (/healthz, /metrics, /api/v1/inventory) listens.
	AdminAddr string `json:"admin-addr"`

	// GatewayAddr is where the Operator Gateway websocket listens.
	GatewayAddr string `json:"gateway-addr"`

	// JwtSecret signs and verifies operator bearer tokens. May also be
	// supplied via the CANMASTER_JWT_SECRET environment variable using
	// the "env:"-prefix convention below.
	JwtSecret string `json:"jwt-secret"`

	// MaxReqIntroSeconds is the period of the ReqNodeIntro broadcast
	// (§4.6). It is sent on this schedule whether or not nodes replied.
	MaxReqIntroSeconds int `json:"max-req-intro-seconds"`

	// SendTsIntervalSeconds is the period of the DataEpochID broadcast
	// (§4.6).
	SendTsIntervalSeconds int `json:"send-ts-interval-seconds"`

	// AuditLogPageSize bounds how many audit rows AUDIT_LOG_UPDATE
	// carries.
	AuditLogPageSize int `json:"audit-log-page-size"`

	// SendRateLimit/SendBurst bound outbound CAN frame sends via a
	// token-bucket limiter in front of BusPort.Send.
	SendRateLimit float64 `json:"send-rate-limit"`
	SendBurst     int     `json:"send-burst"`

	// HistoryRetention selects what the supplemental retention job
	// does with node_history rows older than RetentionMaxAge: "keep"
	// (default; the job still runs daily but removes nothing),
	// "delete", or "archive" (export to S3 then delete).
	HistoryRetention string          `json:"history-retention"`
	S3Archive        S3ArchiveConfig `json:"s3-archive,omitempty"`

	// NatsMirror is optional; a zero Address skips the connection.
	NatsMirror NatsMirrorConfig `json:"nats-mirror,omitempty"`

	// User/Group: drop privileges after binding, same as the teacher.
	User  string `json:"user,omitempty"`
	Group string `json:"group,omitempty"`
}

// Keys is the package-level configuration, populated by Init. Callers
// may read it any time after Init returns; it is never mutated
// afterwards.
var Keys = MasterConfig{
	CanInterface:          "can0",
	MasterNodeId:          "00000000",
	DB:                    "./var/canmaster.db",
	DefinitionsCSV:        "./var/definitions.csv",
	AdminAddr:             ":8081",
	GatewayAddr:           ":8082",
	MaxReqIntroSeconds:    1800,
	SendTsIntervalSeconds: 10,
	AuditLogPageSize:      20,
	SendRateLimit:         50,
	SendBurst:             10,
	HistoryRetention:      "keep",
}

// Init reads path, validates it against the embedded JSON Schema, and
// decodes it into Keys. A missing file is not an error; Keys keeps its
// defaults. As a special case, a "jwt-secret" value of the form
// "env:VARNAME" is resolved from the environment, for operators who
// don't want the secret sitting in config.json.
func Init(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("config: %s not found, using defaults", path)
			return nil
		}
		return err
	}

	if err := Validate(bytes.NewReader(raw)); err != nil {
		return err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&Keys); err != nil {
		return err
	}

	if strings.HasPrefix(Keys.JwtSecret, "env:") {
		Keys.JwtSecret = os.Getenv(strings.TrimPrefix(Keys.JwtSecret, "env:"))
	}

	if Keys.CanInterface == "" {
		log.Fatal("config: can-interface must not be empty")
	}

	return nil
}
