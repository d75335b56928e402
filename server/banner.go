package main

import (
	"net/http"
	"time"

	"github.com/martini-contrib/render"
	. "github.com/russross/autograder/types"
	"github.com/russross/blackfriday/v2"
)

// Banner is the course-wide announcement shown above the submission
// form. An expired banner renders empty rather than stale.
type Banner struct {
	Message string `json:"message"`
	HTML    string `json:"html,omitempty"`
	Link    string `json:"link,omitempty"`
	Color   string `json:"color,omitempty"`
}

func GetBanner(w http.ResponseWriter, store *storeSet, render render.Render) {
	banner, err := loadBanner(store, time.Now())
	if err != nil {
		loggedHTTPErrorf(w, http.StatusInternalServerError, "db error: %v", err)
		return
	}
	render.JSON(http.StatusOK, banner)
}

func loadBanner(config ConfigStore, now time.Time) (*Banner, error) {
	message, err := config.GetString(ConfigBannerMessage)
	if err != nil {
		return nil, err
	}
	expiration, err := configTime(config, ConfigBannerExpiration)
	if err != nil {
		return nil, err
	}
	if message == "" || (!expiration.IsZero() && now.After(expiration)) {
		return &Banner{}, nil
	}

	link, err := config.GetString(ConfigBannerLink)
	if err != nil {
		return nil, err
	}
	color, err := config.GetString(ConfigBannerColor)
	if err != nil {
		return nil, err
	}

	return &Banner{
		Message: message,
		HTML:    string(renderMarkdown([]byte(message))),
		Link:    link,
		Color:   color,
	}, nil
}

func renderMarkdown(data []byte) []byte {
	var extensions blackfriday.Extensions
	extensions |= blackfriday.NoIntraEmphasis
	extensions |= blackfriday.Tables
	extensions |= blackfriday.FencedCode
	extensions |= blackfriday.Autolink
	extensions |= blackfriday.Strikethrough
	extensions |= blackfriday.SpaceHeadings

	return blackfriday.Run(data, blackfriday.WithExtensions(extensions))
}
