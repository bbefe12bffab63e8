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

package mission

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a mission or sortie id is unknown.
var ErrNotFound = errors.New("mission: not found")

// ValidationError reports a rejected decomposition request: a cycle in
// the dependency graph, an out-of-range dependency index, or an
// overlapping file across sorties (data model invariants 2 and 3). Code
// is the machine-readable identifier the HTTP layer echoes verbatim in
// its `errors[].code` field; Details carries the structured data (e.g.
// the cycle's sortie indices) that accompanies it.
type ValidationError struct {
	Code    string
	Message string
	Details map[string]interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("mission: validation failed (%s): %s", e.Code, e.Message)
}

// IsValidationError reports whether err is a *ValidationError.
func IsValidationError(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// AsValidationError extracts the *ValidationError from err, if any.
func AsValidationError(err error) (*ValidationError, bool) {
	var v *ValidationError
	if errors.As(err, &v) {
		return v, true
	}
	return nil, false
}
