package continuation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStore_LastWriteWins(t *testing.T) {
	s := NewStore()

	s.Set("python-refactorer", "tok-1")
	s.Set("python-refactorer", "tok-2")

	tok, ok := s.Get("python-refactorer")
	assert.True(t, ok)
	assert.Equal(t, "tok-2", tok)
}

func TestStore_GetMissing(t *testing.T) {
	s := NewStore()
	tok, ok := s.Get(MainKey)
	assert.False(t, ok)
	assert.Empty(t, tok)
}

func TestStore_IgnoresEmpty(t *testing.T) {
	s := NewStore()
	s.Set("", "tok")
	s.Set("nextjs-refactorer", "")

	assert.Empty(t, s.Keys())
}

func TestStore_ClearAndKeys(t *testing.T) {
	s := NewStore()
	s.Set(MainKey, "tok-main")
	s.Set("python-refactorer", "tok-py")

	assert.Equal(t, []string{"main", "python-refactorer"}, s.Keys())

	s.Clear()
	assert.Empty(t, s.Keys())
	_, ok := s.Get(MainKey)
	assert.False(t, ok)
}
