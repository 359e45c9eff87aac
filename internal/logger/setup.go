package logger

import (
	"fmt"

	"github.com/spf13/cobra"
)

// SetupLogger installs the default logger from CLI settings.
func SetupLogger(logLevel string, logJSON, logSource bool) Logger {
	l := NewLogger(&Config{
		Level:      LogLevel(logLevel),
		JSON:       logJSON,
		AddSource:  logSource,
		TimeFormat: "15:04:05",
	})
	SetDefault(l)
	return l
}

func GetLoggerConfig(cmd *cobra.Command) (string, bool, bool, error) {
	logLevel, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-level flag: %w", err)
	}

	logJSON, err := cmd.Flags().GetBool("log-json")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-json flag: %w", err)
	}

	logSource, err := cmd.Flags().GetBool("log-source")
	if err != nil {
		return "", false, false, fmt.Errorf("failed to get log-source flag: %w", err)
	}

	return logLevel, logJSON, logSource, nil
}
