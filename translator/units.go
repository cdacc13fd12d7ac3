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

package translator

import (
	"regexp"
	"strconv"
	"strings"
)

// unitMultipliers scales spoken magnitude words into absolute values.
// Crore and lakh dominate because the instrument universe reports in INR.
var unitMultipliers = map[string]float64{
	"crore":    1e7,
	"crores":   1e7,
	"cr":       1e7,
	"lakh":     1e5,
	"lakhs":    1e5,
	"thousand": 1e3,
	"k":        1e3,
	"million":  1e6,
	"mn":       1e6,
	"billion":  1e9,
	"bn":       1e9,
	"trillion": 1e12,
}

var numberRe = regexp.MustCompile(`^(-?\d+(?:\.\d+)?)\s*(%)?\s*([a-z]+)?$`)

// parseNumber reads "500", "2.5%", "1000 crore" and similar spellings,
// returning the scaled value and whether a percent sign was present.
func parseNumber(s string) (float64, bool, bool) {
	m := numberRe.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return 0, false, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false, false
	}
	percent := m[2] == "%"
	if m[3] != "" {
		mult, ok := unitMultipliers[m[3]]
		if !ok {
			return 0, false, false
		}
		v *= mult
	}
	return v, percent, true
}
