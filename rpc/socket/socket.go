// Copyright 2022 Fortio Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package socket is the concrete rpc.Conn/rpc.Server implementation:
// length-prefixed JSON frames over a net.Conn. Listen uses the same
// fnet helper the rest of this module uses for its control API
// listener; Dial calls net.Dial directly.
package socket

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"sync"

	"fortio.org/log"

	"github.com/hatchrun/hatch/fnet"
	"github.com/hatchrun/hatch/rpc"
)

// maxFrameSize bounds a single message so a corrupt or hostile length
// prefix can't make us try to allocate gigabytes.
const maxFrameSize = 64 << 20 // 64MB

// Conn wraps a net.Conn with framing and serializes writes, since
// stats/hatching/quit messages can be sent concurrently from
// different goroutines on the master side.
type Conn struct {
	nc net.Conn
	r  *bufio.Reader
	mu sync.Mutex
}

// NewConn wraps an already established net.Conn.
func NewConn(nc net.Conn) *Conn {
	return &Conn{nc: nc, r: bufio.NewReader(nc)}
}

// Dial connects to a master/worker listening at hostPort.
func Dial(hostPort string) (*Conn, error) {
	nc, err := net.Dial("tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", hostPort, err)
	}
	return NewConn(nc), nil
}

// Send writes one length-prefixed JSON frame.
func (c *Conn) Send(m rpc.Message) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	if len(data) > maxFrameSize {
		return fmt.Errorf("message too large: %d bytes", len(data))
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	var hdr [4]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(data)))
	if _, err := c.nc.Write(hdr[:]); err != nil {
		return err
	}
	_, err = c.nc.Write(data)
	return err
}

// Recv blocks for the next frame and decodes it.
func (c *Conn) Recv() (rpc.Message, error) {
	var m rpc.Message
	var hdr [4]byte
	if _, err := io.ReadFull(c.r, hdr[:]); err != nil {
		return m, err
	}
	n := binary.BigEndian.Uint32(hdr[:])
	if n > maxFrameSize {
		return m, fmt.Errorf("frame too large: %d bytes", n)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.r, buf); err != nil {
		return m, err
	}
	err := json.Unmarshal(buf, &m)
	return m, err
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.nc.Close()
}

// Listener accepts worker Conns on a TCP (or unix domain, per
// fnet.Listen) socket.
type Listener struct {
	l net.Listener
}

// Listen starts accepting connections for name on port (":0" for an
// OS assigned port, matched by fnet.Listen's conventions).
func Listen(name, port string) (*Listener, net.Addr) {
	l, addr := fnet.Listen(name, port)
	if l == nil {
		return nil, nil
	}
	return &Listener{l: l}, addr
}

// Accept blocks for the next worker connection.
func (s *Listener) Accept() (rpc.Conn, error) {
	nc, err := s.l.Accept()
	if err != nil {
		return nil, err
	}
	log.LogVf("rpc: accepted connection from %s", nc.RemoteAddr())
	return NewConn(nc), nil
}

// Close stops accepting new connections.
func (s *Listener) Close() error {
	return s.l.Close()
}

var _ rpc.Server = (*Listener)(nil)
var _ rpc.Conn = (*Conn)(nil)
