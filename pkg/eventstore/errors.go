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

package eventstore

import "errors"

// ErrNotFound is returned when a stream or event lookup finds nothing.
var ErrNotFound = errors.New("eventstore: not found")

// IntegrityError is returned when a concurrent append raced for the same
// (stream_type, stream_id, sequence_number) tuple and lost every retry.
// The caller should retry the whole append at a higher level.
type IntegrityError struct {
	StreamType     string
	StreamID       string
	SequenceNumber int64
}

func (e *IntegrityError) Error() string {
	return "eventstore: sequence collision on " + e.StreamType + "/" + e.StreamID
}

// IsIntegrityError reports whether err is (or wraps) an IntegrityError.
func IsIntegrityError(err error) bool {
	var ie *IntegrityError
	return errors.As(err, &ie)
}
