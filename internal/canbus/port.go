// Copyright (C) 2026 canmaster authors.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package canbus wraps a SocketCAN interface behind the minimal
// contract the engine task needs (§4.8): onFrame(callback) delivers
// inbound frames, send(frame) blocks until the frame is queued. No
// retries at this layer; SocketCANPort logs send errors and swallows
// them, since the bus is best-effort.
package canbus

import (
	"context"

	"github.com/brutella/can"
	"github.com/canmaster/can-backend/pkg/log"
	"golang.org/x/time/rate"
)

// Frame is the wire-level shape the engine task exchanges with the
// Bus Port: an 11-bit arbitration ID and up to 8 payload bytes.
type Frame struct {
	ID   uint32
	Data [8]byte
	DLC  uint8
}

// FrameHandler receives every frame the bus observes, in arrival
// order.
type FrameHandler func(Frame)

// Port is the interface internal/engine depends on; SocketCANPort and
// FakeBus both satisfy it, so the engine never imports brutella/can
// directly.
type Port interface {
	OnFrame(h FrameHandler)
	Send(f Frame) error
	Run() error
	Close() error
}

// SocketCANPort binds one SocketCAN interface (e.g. "can0", or
// "vcan0" for a virtual test bus) and rate-limits outbound sends with
// a token bucket, per the send-rate-limit/send-burst config keys.
type SocketCANPort struct {
	bus     *can.Bus
	limiter *rate.Limiter
}

// NewSocketCANPort opens iface and wraps it. Run must be called to
// start processing frames; it blocks until Close is called.
func NewSocketCANPort(iface string, sendRateLimit float64, sendBurst int) (*SocketCANPort, error) {
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, err
	}
	return &SocketCANPort{
		bus:     bus,
		limiter: rate.NewLimiter(rate.Limit(sendRateLimit), sendBurst),
	}, nil
}

// OnFrame registers the callback invoked for every received frame.
// Must be called before Run.
func (p *SocketCANPort) OnFrame(h FrameHandler) {
	p.bus.SubscribeFunc(func(frm can.Frame) {
		var data [8]byte
		copy(data[:], frm.Data[:])
		h(Frame{ID: frm.ID, Data: data, DLC: frm.Length})
	})
}

// Send rate-limits then queues f for transmission. A limiter wait
// error (the limiter cannot grant a token) or a bus publish error is
// logged and swallowed, matching the best-effort contract of §4.8.
func (p *SocketCANPort) Send(f Frame) error {
	if err := p.limiter.Wait(context.Background()); err != nil {
		log.Warnf("canbus: rate limiter wait: %v", err)
		return nil
	}
	frm := can.Frame{ID: f.ID, Length: f.DLC, Data: f.Data}
	if err := p.bus.Publish(frm); err != nil {
		log.Warnf("canbus: publish frame 0x%03x: %v", f.ID, err)
		return nil
	}
	return nil
}

// Run starts the SocketCAN read loop. Blocks until Close is called
// from another goroutine.
func (p *SocketCANPort) Run() error {
	return p.bus.ConnectAndPublish()
}

// Close disconnects the underlying socket.
func (p *SocketCANPort) Close() error {
	return p.bus.Disconnect()
}

var _ Port = (*SocketCANPort)(nil)
