package common

import (
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the application banner and logs the effective endpoints
func PrintBanner(config *Config, logger arbor.ILogger) {
	banner.PrintSimple("credsync", GetVersion())

	logger.Info().
		Str("version", GetFullVersion()).
		Str("backend", config.Backend.BaseURL).
		Str("profile", config.Profile.ID).
		Bool("capture", config.Capture.Enabled).
		Msg("credsync starting")
}
