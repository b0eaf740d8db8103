package attachmentstore

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpired_MissingExParam(t *testing.T) {
	assert.True(t, Expired("https://cdn.example.com/a/b/c.bin", 0, time.Now()))
}

func TestExpired_MalformedExParam(t *testing.T) {
	assert.True(t, Expired("https://cdn.example.com/a/b/c.bin?ex=not-hex", 0, time.Now()))
}

func TestExpired_MalformedURL(t *testing.T) {
	assert.True(t, Expired("://not a url", 0, time.Now()))
}

func TestExpired_FutureWellBeyondMargin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ex := fmt.Sprintf("%x", now.Add(time.Hour).Unix())
	u := "https://cdn.example.com/a/b/c.bin?ex=" + ex
	assert.False(t, Expired(u, 0, now))
}

func TestExpired_WithinMargin(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ex := fmt.Sprintf("%x", now.Add(2*time.Minute).Unix())
	u := "https://cdn.example.com/a/b/c.bin?ex=" + ex

	assert.False(t, Expired(u, 0, now), "still valid with no margin")
	assert.True(t, Expired(u, 5*time.Minute, now), "within a 5-minute margin it must count as expired")
}

func TestExpired_AlreadyPast(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	ex := fmt.Sprintf("%x", now.Add(-time.Minute).Unix())
	u := "https://cdn.example.com/a/b/c.bin?ex=" + ex
	assert.True(t, Expired(u, 0, now))
}
