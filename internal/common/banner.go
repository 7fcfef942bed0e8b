package common

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/banner"
)

// PrintBanner displays the process startup banner. processName identifies
// which binary is starting (orchestratord, worker, scheduler) since the
// three share this config/logging stack but run as separate processes.
func PrintBanner(processName string, config *Config, logger arbor.ILogger) {
	version := GetVersion()
	build := GetBuild()

	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(80)

	fmt.Printf("\n")
	b.PrintTopLine()
	b.PrintCenteredText("NETWORK AUTOMATION CONTROL PLANE")
	b.PrintCenteredText(processName)
	b.PrintSeparatorLine()
	b.PrintKeyValue("Version", version, 15)
	b.PrintKeyValue("Build", build, 15)
	b.PrintKeyValue("Environment", config.Environment, 15)
	b.PrintKeyValue("Storage", config.Storage.Backend, 15)
	if processName == "orchestratord" {
		b.PrintKeyValue("Listen", fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port), 15)
	}
	b.PrintBottomLine()
	fmt.Printf("\n")

	logger.Info().
		Str("process", processName).
		Str("version", version).
		Str("build", build).
		Str("environment", config.Environment).
		Str("storage_backend", config.Storage.Backend).
		Msg("process started")
}

// PrintShutdownBanner displays the process shutdown banner.
func PrintShutdownBanner(processName string, logger arbor.ILogger) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(48)

	b.PrintTopLine()
	b.PrintCenteredText("SHUTTING DOWN")
	b.PrintCenteredText(processName)
	b.PrintBottomLine()
	fmt.Println()

	logger.Info().Str("process", processName).Msg("process shutting down")
}

// PrintColorizedMessage prints a message with the given color to stdout. It
// does not log the message; the logger argument is unused.
func PrintColorizedMessage(color, message string, logger arbor.ILogger) {
	fmt.Printf("%s%s%s\n", color, message, banner.ColorReset)
}

// PrintSuccess prints a success message in green and logs it.
func PrintSuccess(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorGreen, fmt.Sprintf("✓ %s", message), logger)
	logger.Info().Str("type", "success").Msg(message)
}

// PrintError prints an error message in red and logs it.
func PrintError(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorRed, fmt.Sprintf("✗ %s", message), logger)
	logger.Error().Str("type", "error").Msg(message)
}

// PrintWarning prints a warning message in yellow and logs it.
func PrintWarning(message string) {
	logger := GetLogger()
	PrintColorizedMessage(banner.ColorYellow, fmt.Sprintf("⚠ %s", message), logger)
	logger.Warn().Str("type", "warning").Msg(message)
}
