package logging

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel(" warning "))
	assert.Equal(t, INFO, ParseLevel("что-то"), "Неизвестный уровень должен давать INFO")
}

func TestWriterLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWriterLogger("test", &buf)
	logger.SetLevel(WARN)

	logger.Info("не должно попасть")
	logger.Warn("блок %d", 7)

	out := buf.String()
	assert.NotContains(t, out, "не должно попасть")
	assert.Contains(t, out, "[WARN] [test] блок 7")
}

func TestLoggerManager_ReturnsSameLogger(t *testing.T) {
	lm := &LoggerManager{loggers: make(map[string]*Logger)}

	a := lm.MustGetLogger("render")
	b := lm.MustGetLogger("render")
	assert.Same(t, a, b, "Повторный запрос должен вернуть тот же логгер")
	assert.ElementsMatch(t, []string{"render"}, lm.ListComponents())

	assert.NoError(t, lm.SetLogLevel("render", ERROR, ERROR))
	assert.Error(t, lm.SetLogLevel("missing", ERROR, ERROR))
}

func TestLoggerManager_ApplyLevels(t *testing.T) {
	var buf bytes.Buffer
	lm := &LoggerManager{loggers: map[string]*Logger{"storage": NewWriterLogger("storage", &buf)}}

	assert.NoError(t, lm.ApplyLevels(map[string]string{"storage": "error", "render": "debug"}))

	lm.MustGetLogger("storage").Warn("отфильтровано")
	lm.MustGetLogger("storage").Error("квота")
	assert.NotContains(t, buf.String(), "отфильтровано")
	assert.Contains(t, buf.String(), "[ERROR] [storage] квота")

	assert.Equal(t, DEBUG, lm.MustGetLogger("render").minConsoleLevel)
	assert.ElementsMatch(t, []string{"storage", "render"}, lm.ListComponents())
}
