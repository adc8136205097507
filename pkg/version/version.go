// Package version reports the running build's identity for logs and the
// health endpoint.
package version

import "runtime/debug"

// commit may be stamped at build time with
// -ldflags "-X github.com/openloop-dev/openloop/pkg/version.commit=<sha>"
// for builds where .git is unavailable.
var commit string

// Full returns "openloop/<short-sha>", or "openloop/dev" when no revision
// is recorded in the build info.
func Full() string {
	return "openloop/" + shortCommit()
}

func shortCommit() string {
	c := commit
	if c == "" {
		if info, ok := debug.ReadBuildInfo(); ok {
			for _, s := range info.Settings {
				if s.Key == "vcs.revision" {
					c = s.Value
					break
				}
			}
		}
	}
	if c == "" {
		return "dev"
	}
	if len(c) > 8 {
		c = c[:8]
	}
	return c
}
