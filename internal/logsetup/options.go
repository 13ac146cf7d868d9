// Package logsetup builds the logr root logger from CLI options.
package logsetup

import (
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type Options struct {
	Verbose  int8
	Encoding string
}

func DefaultOptions() *Options {
	var level int8

	if os.Getenv("OUTPOST_DEBUG") != "" {
		level = 10
	}

	return &Options{
		Verbose:  level,
		Encoding: "json",
	}
}

func (o *Options) BindFlags(fs *pflag.FlagSet) {
	fs.Int8VarP(&o.Verbose, "verbose", "v", o.Verbose, "Log verbosity level. With `0` no debug logs visible while 128 is the most verbose level.")
	fs.StringVar(&o.Encoding, "log-encoding", o.Encoding, "Log encoding format (json or console)")
}

func (o *Options) Build() (logr.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	zapConfig.Encoding = o.Encoding
	zapConfig.Level = zap.NewAtomicLevelAt(zapcore.Level(-1 * o.Verbose))

	// logr verbosity maps onto negative zap levels.
	zapConfig.EncoderConfig.EncodeLevel = func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendInt(int(l) * -1)
	}

	zapLog, err := zapConfig.Build()
	if err != nil {
		return logr.Discard(), err
	}

	return zapr.NewLogger(zapLog), nil
}
