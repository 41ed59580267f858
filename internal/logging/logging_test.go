package logging

import (
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
)

func TestNew_ParsesLevel(t *testing.T) {
	log := New("debug", "text")
	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
}

func TestNew_FallsBackToInfoOnUnrecognizedLevel(t *testing.T) {
	log := New("not-a-level", "text")
	assert.Equal(t, logrus.InfoLevel, log.GetLevel())
}

func TestNew_SelectsJSONFormatter(t *testing.T) {
	log := New("info", "json")
	_, ok := log.Formatter.(*logrus.JSONFormatter)
	assert.True(t, ok)
}

func TestComponent_TagsComponentField(t *testing.T) {
	log := New("info", "text")
	entry := Component(log, "watcher")
	assert.Equal(t, "watcher", entry.Data["component"])
}
