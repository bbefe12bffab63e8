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

// Package mailbox implements named event streams for inter-component
// messaging: append, per-stream read, and per-consumer cursor tracking,
// layered directly on the event store.
package mailbox

import "time"

// Mailbox is a named stream, created lazily on first append.
type Mailbox struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Cursor is a consumer's read position on a stream. The tuple
// (StreamID, ConsumerID) is unique, supporting multiple independent
// consumer groups over the same stream.
type Cursor struct {
	ID         string
	StreamID   string
	ConsumerID string
	Position   int64
	UpdatedAt  time.Time
}

// Message is one inter-specialist message appended to a mailbox.
type Message struct {
	ID        string
	From      string
	To        []string
	Subject   string
	Payload   []byte
	SentAt    time.Time
	Delivered bool
}
