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

// Package rpc defines the master/worker wire envelope: a transport
// agnostic (type, data, node id) message plus the Conn interface a
// concrete transport (package rpc/socket) implements. This mirrors
// jrpc's split between the envelope/serialization helpers
// (Serialize/Deserialize) and the actual connection handling, except
// the control plane here needs a long lived bidirectional channel
// instead of jrpc's one-shot HTTP request/response.
package rpc

import (
	"encoding/json"
	"fmt"
)

// MessageType names the kind of message exchanged between master and
// worker, per the fixed message catalog.
type MessageType string

const (
	// Worker -> master.
	ClientReady   MessageType = "client_ready"
	Hatching      MessageType = "hatching"
	HatchComplete MessageType = "hatch_complete"
	StatsMsg      MessageType = "stats"
	ClientStopped MessageType = "client_stopped"
	Quit          MessageType = "quit"

	// Master -> worker.
	Hatch MessageType = "hatch"
	Stop  MessageType = "stop"
)

// Message is the envelope every worker/master exchange rides in.
// Data carries the type-specific payload, still encoded, so a
// receiver can dispatch on Type before paying for a full decode.
type Message struct {
	Type   MessageType     `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
	NodeID string          `json:"node_id,omitempty"`
}

// NewMessage serializes payload into a Message of the given type.
func NewMessage(t MessageType, nodeID string, payload any) (Message, error) {
	m := Message{Type: t, NodeID: nodeID}
	if payload == nil {
		return m, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return m, fmt.Errorf("encoding %s payload: %w", t, err)
	}
	m.Data = data
	return m, nil
}

// Decode unmarshals the message's Data into dest.
func (m Message) Decode(dest any) error {
	if len(m.Data) == 0 {
		return nil
	}
	return json.Unmarshal(m.Data, dest)
}

// Conn is a bidirectional Message channel, implemented by
// rpc/socket.Conn over a length-prefixed JSON stream.
type Conn interface {
	Send(m Message) error
	Recv() (Message, error)
	Close() error
}

// Server accepts Conns from workers dialing in.
type Server interface {
	Accept() (Conn, error)
	Close() error
}
