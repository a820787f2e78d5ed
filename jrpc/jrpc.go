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

// Package jrpc is the JSON serialization shared by the REST control
// surface (package control): marshal/unmarshal plus the ServerReply
// envelope in jrpcServer.go. Trimmed down from the teacher's
// client+server library to only the server-side surface the control
// surface actually exercises; nothing in this tree issues an
// outbound jrpc call, so that half of the teacher's package is gone.
package jrpc // import "github.com/hatchrun/hatch/jrpc"

import "encoding/json"

// Serialize marshals obj to json.
func Serialize(obj interface{}) ([]byte, error) {
	return json.Marshal(obj)
}

// Deserialize unmarshals bytes into a Q, returning the zero value (not
// nil) on error alongside the error.
func Deserialize[Q any](bytes []byte) (*Q, error) {
	var result Q
	err := json.Unmarshal(bytes, &result)
	return &result, err
}
