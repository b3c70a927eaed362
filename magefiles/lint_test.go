// Copyright (c) 2026 Petar Djukic. All rights reserved.
// SPDX-License-Identifier: MIT

package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnformatted(t *testing.T) {
	assert.Empty(t, unformatted(""))
	assert.Empty(t, unformatted("\n  \n"))
	assert.Equal(t,
		[]string{"internal/cache/store.go", "pkg/types/entity.go"},
		unformatted("internal/cache/store.go\npkg/types/entity.go\n"))
}
