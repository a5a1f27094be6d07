/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version exposes the build version and an optional release check.
package version

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/brimir_terminal/internal/version.Version=X.Y.Z
var Version = "0.1.0"

const releaseEndpoint = "https://api.github.com/repos/friendsincode/brimir_terminal/releases/latest"

// UpdateInfo is the result of the most recent release check.
type UpdateInfo struct {
	CurrentVersion  string
	LatestVersion   string
	UpdateAvailable bool
	ReleaseURL      string
	CheckedAt       time.Time
}

// Checker queries the release feed on demand. The caller owns the
// check cadence.
type Checker struct {
	mu     sync.RWMutex
	info   UpdateInfo
	client *http.Client
	logger zerolog.Logger
}

func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger.With().Str("component", "update-checker").Logger(),
		info:   UpdateInfo{CurrentVersion: Version},
	}
}

// Info returns the last check result. Before any successful check it
// carries only the current version.
func (c *Checker) Info() UpdateInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.info
}

// Check fetches the latest published release once. Failures are logged
// at debug level and leave the previous result in place; an offline
// deployment just never learns about updates.
func (c *Checker) Check(ctx context.Context) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releaseEndpoint, nil)
	if err != nil {
		c.logger.Debug().Err(err).Msg("build release request")
		return
	}
	req.Header.Set("Accept", "application/vnd.github.v3+json")
	req.Header.Set("User-Agent", "Brimir-Terminal/"+Version)

	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug().Err(err).Msg("fetch latest release")
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		c.logger.Debug().Int("status", resp.StatusCode).Msg("release feed status")
		return
	}

	var release struct {
		TagName string `json:"tag_name"`
		HTMLURL string `json:"html_url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&release); err != nil {
		c.logger.Debug().Err(err).Msg("decode release")
		return
	}
	latest := strings.TrimPrefix(release.TagName, "v")

	c.mu.Lock()
	c.info = UpdateInfo{
		CurrentVersion:  Version,
		LatestVersion:   latest,
		UpdateAvailable: newer(latest, Version),
		ReleaseURL:      release.HTMLURL,
		CheckedAt:       time.Now(),
	}
	available := c.info.UpdateAvailable
	c.mu.Unlock()

	if available {
		c.logger.Info().
			Str("current", Version).
			Str("latest", latest).
			Str("url", release.HTMLURL).
			Msg("new version available")
	}
}

// newer reports whether semver a is strictly newer than b. Non-numeric
// segments compare as zero.
func newer(a, b string) bool {
	as := strings.SplitN(strings.TrimPrefix(a, "v"), ".", 3)
	bs := strings.SplitN(strings.TrimPrefix(b, "v"), ".", 3)
	for i := 0; i < 3; i++ {
		var av, bv int
		if i < len(as) {
			av, _ = strconv.Atoi(as[i])
		}
		if i < len(bs) {
			bv, _ = strconv.Atoi(bs[i])
		}
		if av != bv {
			return av > bv
		}
	}
	return false
}
