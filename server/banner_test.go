package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	. "github.com/russross/autograder/types"
)

func TestLoadBanner(t *testing.T) {
	mem := newMemoryStore()
	now := time.Date(2024, 10, 2, 12, 0, 0, 0, time.UTC)

	// no banner configured
	banner, err := loadBanner(mem, now)
	require.NoError(t, err)
	assert.Empty(t, banner.Message)

	require.NoError(t, mem.SetValue(ConfigBannerMessage, "The grader goes down for **maintenance** tonight"))
	require.NoError(t, mem.SetValue(ConfigBannerLink, "https://example.edu/status"))
	require.NoError(t, mem.SetValue(ConfigBannerColor, "orange"))

	banner, err = loadBanner(mem, now)
	require.NoError(t, err)
	assert.Equal(t, "The grader goes down for **maintenance** tonight", banner.Message)
	assert.Contains(t, banner.HTML, "<strong>maintenance</strong>")
	assert.Equal(t, "https://example.edu/status", banner.Link)
	assert.Equal(t, "orange", banner.Color)
}

func TestLoadBannerExpiration(t *testing.T) {
	mem := newMemoryStore()
	now := time.Date(2024, 10, 2, 12, 0, 0, 0, time.UTC)
	require.NoError(t, mem.SetValue(ConfigBannerMessage, "Sign up for the final demo"))
	require.NoError(t, mem.SetValue(ConfigBannerExpiration, now.Add(time.Hour).Format(time.RFC3339)))

	banner, err := loadBanner(mem, now)
	require.NoError(t, err)
	assert.Equal(t, "Sign up for the final demo", banner.Message)

	// past the expiration the banner renders empty, not stale
	banner, err = loadBanner(mem, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Empty(t, banner.Message)
	assert.Empty(t, banner.HTML)
}
