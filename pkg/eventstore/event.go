// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package eventstore is the source of truth for the coordination server:
// an append-only log keyed by (stream_type, stream_id, sequence_number),
// with projections maintained transactionally alongside every append.
package eventstore

import "time"

// CurrentSchemaVersion is stamped on every event. It is never branched on;
// it is reserved for a future migration strategy.
const CurrentSchemaVersion = 1

// Event is an immutable fact recorded against one stream. Once appended an
// event is never mutated and is deleted only by coarse maintenance (there
// is none in this implementation).
type Event struct {
	EventID        string
	StreamType     string
	StreamID       string
	SequenceNumber int64
	EventType      string
	Data           []byte // raw JSON payload
	OccurredAt     time.Time
	RecordedAt     time.Time
	CausationID    string
	CorrelationID  string
	Metadata       []byte // raw JSON, may be nil
	SchemaVersion  int
}

// AppendInput carries the fields a caller supplies; the store assigns
// EventID, SequenceNumber, RecordedAt and SchemaVersion.
type AppendInput struct {
	StreamType    string
	StreamID      string
	EventType     string
	Data          []byte
	OccurredAt    time.Time // zero value means "now"
	CausationID   string
	CorrelationID string
	Metadata      []byte
}

// Filter narrows a Query across streams.
type Filter struct {
	StreamType string
	StreamID   string
	EventType  string
	After      time.Time // occurred_at lower bound, exclusive, zero means unbounded
	Limit      int
}
