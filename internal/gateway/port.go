// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.
package gateway

import (
	"sync"
	"time"

	"github.com/canmaster/can-backend/pkg/log"
	"github.com/gorilla/websocket"
)

const (
	keepAliveInterval = 30 * time.Second
	writeWait         = 10 * time.Second
	pongWait          = keepAliveInterval + 5*time.Second
)

// Port is one operator's long-lived duplex connection. writePump owns
// the only goroutine allowed to call conn.Write*; everything else
// (broadcasts, acks) goes through the send channel.
type Port struct {
	conn      *websocket.Conn
	send      chan OutboundEnvelope
	actor     string
	done      chan struct{}
	closeOnce sync.Once
}

func newPort(conn *websocket.Conn, actor string) *Port {
	return &Port{
		conn:  conn,
		send:  make(chan OutboundEnvelope, 32),
		actor: actor,
		done:  make(chan struct{}),
	}
}

// Actor is the JWT-derived identity this port authenticated as, used
// to attribute audit entries created from its requests.
func (p *Port) Actor() string { return p.actor }

// enqueue schedules msg for delivery without blocking the caller; a
// full send buffer means a slow/dead port, and the oldest-style
// backpressure here is simply to drop rather than stall the engine
// task that called us.
func (p *Port) enqueue(msg OutboundEnvelope) {
	select {
	case p.send <- msg:
	default:
		log.Warnf("gateway: port %s send buffer full, dropping %s", p.actor, msg.Kind)
	}
}

// writePump drains send onto the socket and drives the keep-alive
// ping, per §4.7's 30s liveness probe. Returns when send is closed or
// a write fails.
func (p *Port) writePump() {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()
	defer p.conn.Close()

	for {
		select {
		case msg, ok := <-p.send:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := p.conn.WriteJSON(msg); err != nil {
				log.Warnf("gateway: port %s write failed: %v", p.actor, err)
				return
			}
		case <-ticker.C:
			p.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Warnf("gateway: port %s ping failed, terminating: %v", p.actor, err)
				return
			}
		case <-p.done:
			return
		}
	}
}

// readPump blocks reading inbound messages and handing each to
// dispatch, until the connection errors or a stale pong terminates
// it. Runs on the caller's own goroutine, one per port, never
// touching engine state directly: writes are always routed through
// dispatch's channel handoff.
func (p *Port) readPump(dispatch func(*Port, InboundEnvelope)) {
	defer close(p.done)
	p.conn.SetReadDeadline(time.Now().Add(pongWait))
	p.conn.SetPongHandler(func(string) error {
		p.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env InboundEnvelope
		if err := p.conn.ReadJSON(&env); err != nil {
			log.Debugf("gateway: port %s closed: %v", p.actor, err)
			return
		}
		dispatch(p, env)
	}
}

func (p *Port) close() {
	p.closeOnce.Do(func() { close(p.send) })
}
