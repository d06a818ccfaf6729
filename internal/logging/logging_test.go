package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func TestSetupParsesRecognizedLevelCaseInsensitively(t *testing.T) {
	Setup("DEBUG")
	require.Equal(t, logrus.DebugLevel, logrus.GetLevel())
	require.True(t, Debug())

	Setup("warn")
	require.Equal(t, logrus.WarnLevel, logrus.GetLevel())
	require.False(t, Debug())
}

func TestSetupFallsBackToInfoOnUnrecognizedLevel(t *testing.T) {
	Setup("not-a-level")
	require.Equal(t, logrus.InfoLevel, logrus.GetLevel())
}
