package log

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func TestStringToLogLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, StringToLogLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, StringToLogLevel("warning"))
	assert.Equal(t, zapcore.WarnLevel, StringToLogLevel(" WARN "))
	assert.Equal(t, zapcore.FatalLevel, StringToLogLevel("fatal"))
	assert.Equal(t, zapcore.InfoLevel, StringToLogLevel(""))
	assert.Equal(t, zapcore.InfoLevel, StringToLogLevel("nonsense"))
}

func TestKeyField(t *testing.T) {
	f := Key("key", []byte("abc"))
	assert.Equal(t, zapcore.ByteStringType, f.Type)
	f = Key("key", []byte{0, 1, 0xff})
	assert.Equal(t, zapcore.StringType, f.Type)
	assert.Equal(t, "0001ff", f.String)
}

func TestInit(t *testing.T) {
	assert.Nil(t, Init(Config{Level: "error"}))
	assert.Nil(t, Init(Config{Level: "info"}))
}
