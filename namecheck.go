// SPDX-License-Identifier: MPL-2.0
// Copyright (c) 2025 Daniel Schmidt

package wappsto

import (
	"fmt"
	"regexp"
	"strings"
)

// NameSymbols are the characters besides letters, digits and space that an
// object name may contain
const NameSymbols = `-_.,:;()/&+@!#%'`

// illegalNameChar matches a single character not allowed in a name
var illegalNameChar = regexp.MustCompile(`[^\p{L}\p{N} ` + regexp.QuoteMeta(NameSymbols) + `]`)

// IllegalCharacters returns the distinct characters of name that are not
// allowed, in order of appearance
func IllegalCharacters(name string) string {
	var b strings.Builder
	seen := make(map[string]bool)
	for _, ch := range illegalNameChar.FindAllString(name, -1) {
		if seen[ch] {
			continue
		}
		seen[ch] = true
		b.WriteString(ch)
	}
	return b.String()
}

// CheckName returns an error wrapping ErrIllegalName when name is empty or
// holds characters the platform rejects
func CheckName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: name cannot be empty", ErrIllegalName)
	}
	if illegal := IllegalCharacters(name); illegal != "" {
		return fmt.Errorf("%w: %q contains %q; allowed are letters, digits, space and %s",
			ErrIllegalName, name, illegal, NameSymbols)
	}
	return nil
}
