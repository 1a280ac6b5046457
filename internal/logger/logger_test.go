package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitRejectsUnknownLevel(t *testing.T) {
	err := Init(&Config{Level: "not-a-level"})
	require.Error(t, err)
}

func TestInitDebugOverridesLevel(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "error", Debug: true}))
	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())
}

func TestSetDebugTogglesLevel(t *testing.T) {
	require.NoError(t, Init(&Config{Level: "info"}))

	SetDebug(true)
	assert.Equal(t, zerolog.DebugLevel, GetLogger().GetLevel())

	SetDebug(false)
	assert.Equal(t, zerolog.InfoLevel, GetLogger().GetLevel())
}

func TestStdSatisfiesLoggerInterface(t *testing.T) {
	var l Logger = Std()

	require.NoError(t, Init(&Config{Level: "warn"}))
	l.SetLevel(zerolog.WarnLevel)

	assert.Equal(t, zerolog.WarnLevel, GetLogger().GetLevel())

	withFields := l.WithFields(map[string]interface{}{"component": "test"})
	assert.Equal(t, zerolog.WarnLevel, withFields.GetLevel())

	withComponent := l.WithComponent("scanner")
	assert.Equal(t, zerolog.WarnLevel, withComponent.GetLevel())
}

func TestNewTestLoggerIsSilent(t *testing.T) {
	l := NewTestLogger()
	assert.NotNil(t, l.Debug())
	assert.NotNil(t, l.Panic())
}
