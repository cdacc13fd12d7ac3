// Copyright 2024-2025
// SPDX-License-Identifier: Apache-2.0
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package compiler

import (
	"fmt"
	"strings"
)

// emitter assembles SQL text and the positional parameter array. Values
// never enter the text; every literal becomes the next `$n` placeholder at
// the moment it is referenced, so placeholder numbers always read
// left-to-right in the emitted statement.
type emitter struct {
	sb     strings.Builder
	params []interface{}
}

func newEmitter() *emitter {
	return &emitter{params: make([]interface{}, 0, 8)}
}

// arg registers a parameter value and returns its placeholder.
func (e *emitter) arg(v interface{}) string {
	e.params = append(e.params, v)
	return fmt.Sprintf("$%d", len(e.params))
}

func (e *emitter) write(fragment string) {
	e.sb.WriteString(fragment)
}

func (e *emitter) writef(format string, args ...interface{}) {
	fmt.Fprintf(&e.sb, format, args...)
}

func (e *emitter) sql() string {
	return e.sb.String()
}
