package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestConfigure(t *testing.T) {
	defer func() { _ = Configure("info", "text") }()

	assert.NoError(t, Configure("debug", "json"))
	assert.Equal(t, logrus.DebugLevel, Logger.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, Logger.Formatter)

	assert.NoError(t, Configure("warn", "text"))
	assert.IsType(t, &logrus.TextFormatter{}, Logger.Formatter)

	assert.Error(t, Configure("loud", "text"))
}
