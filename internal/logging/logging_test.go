package logging

import (
	"testing"

	"github.com/fastpubsub/fastpubsub/internal/config"
)

func TestNew(t *testing.T) {
	for _, level := range []config.LogLevel{
		config.LogLevelDebug,
		config.LogLevelInfo,
		config.LogLevelWarning,
		config.LogLevelError,
		config.LogLevelCritical,
	} {
		for _, formatter := range []string{config.LogFormatterJSON, config.LogFormatterConsole} {
			logger, err := New(level, formatter)
			if err != nil {
				t.Errorf("New(%s, %s): %v", level, formatter, err)
				continue
			}
			_ = logger.Sync()
		}
	}
}

func TestNew_UnknownLevel(t *testing.T) {
	if _, err := New(config.LogLevel("verbose"), config.LogFormatterJSON); err == nil {
		t.Error("expected error for unknown level")
	}
}
