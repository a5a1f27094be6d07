/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package version

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewer(t *testing.T) {
	cases := []struct {
		a, b string
		want bool
	}{
		{"0.2.0", "0.1.0", true},
		{"v1.0.0", "0.9.9", true},
		{"0.1.0", "0.1.0", false},
		{"0.1.0", "0.2.0", false},
		{"1.0", "1.0.1", false},
		{"garbage", "0.1.0", false},
	}
	for _, tc := range cases {
		if got := newer(tc.a, tc.b); got != tc.want {
			t.Errorf("newer(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestCheckerInfoBeforeCheck(t *testing.T) {
	c := NewChecker(zerolog.Nop())
	info := c.Info()
	if info.CurrentVersion != Version {
		t.Errorf("current = %q, want %q", info.CurrentVersion, Version)
	}
	if info.UpdateAvailable {
		t.Error("no check has run, nothing can be available")
	}
	if !info.CheckedAt.IsZero() {
		t.Error("checked-at must be zero before the first check")
	}
}
