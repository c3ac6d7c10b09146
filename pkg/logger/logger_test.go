package logger

import (
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"gotest.tools/assert"
)

func TestValidate(t *testing.T) {
	assert.Equal(t, len(DefaultConfig().Validate()), 0)
	assert.Equal(t, len(Config{Level: "nope"}.Validate()), 1)
}

func TestMergeContextsPrefersLaterInputs(t *testing.T) {
	merged := MergeContexts(
		Context{"worker": "w0", "trial": "a"},
		Context{"trial": "b", "rung": 3},
	)
	assert.Equal(t, merged["worker"], "w0")
	assert.Equal(t, merged["trial"], "b")
	assert.Equal(t, merged["rung"], 3)

	fields := merged.Fields()
	assert.Equal(t, len(fields), 3)
}

// Field names must stay clear of the keys logrus reserves for itself, or the
// formatter renames them with a "fields." prefix.
func TestFieldNamesAvoidLogrusReservedKeys(t *testing.T) {
	formatter := &logrus.TextFormatter{DisableColors: true}
	entry := logrus.WithFields(Context{"rung": 2, "trial": "a"}.Fields())
	entry.Level = logrus.InfoLevel
	entry.Message = "reported"

	out, err := formatter.Format(entry)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(out), "rung=2"))
	assert.Assert(t, !strings.Contains(string(out), "fields."))

	clash := logrus.WithFields(logrus.Fields{"level": 2})
	clash.Level = logrus.InfoLevel
	out, err = formatter.Format(clash)
	assert.NilError(t, err)
	assert.Assert(t, strings.Contains(string(out), "fields.level=2"))
}
