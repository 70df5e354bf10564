package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeSetEmpty(t *testing.T) {
	assert.True(t, ChangeSet{}.Empty())
	assert.False(t, ChangeSet{Created: []string{"/a.py"}}.Empty())
	assert.False(t, ChangeSet{Updated: []string{"/a.py"}}.Empty())
	assert.False(t, ChangeSet{Deleted: []string{"/a.py"}}.Empty())
}
