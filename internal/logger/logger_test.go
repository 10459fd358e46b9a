package logger

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]zerolog.Level{
		"debug":   zerolog.DebugLevel,
		"Warn":    zerolog.WarnLevel,
		"warning": zerolog.WarnLevel,
		" error ": zerolog.ErrorLevel,
		"":        zerolog.InfoLevel,
		"bogus":   zerolog.InfoLevel,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, 期望 %v", in, got, want)
		}
	}
}

// TestFacadeWritable 四个门面函数在任意配置下都必须可调用。
func TestFacadeWritable(t *testing.T) {
	Setup("debug", "json")
	Debugf("debug %d", 1)
	Infof("info %s", "x")
	Warnf("warn")
	Errorf("error: %v", nil)
	Setup("info", "console")
	Infof("console %d", 2)
}
