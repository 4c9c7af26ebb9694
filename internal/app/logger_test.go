package app

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/casedesk/pkg/logger"
)

func TestConfigureLogging(t *testing.T) {
	restore := logger.Replace(logger.Logger())
	t.Cleanup(func() { restore() })

	require.NoError(t, ConfigureLogging("debug", "console"))
	require.NoError(t, ConfigureLogging("", ""))
}
