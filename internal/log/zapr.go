package log

import (
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewZapr returns a production zap logger behind the logr interface.
func NewZapr() (logr.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Sampling = &zap.SamplingConfig{
		Initial:    1,
		Thereafter: 5,
	}
	zapLggr, err := zapCfg.Build()
	if err != nil {
		return logr.Discard(), err
	}
	return zapr.NewLogger(zapLggr), nil
}

// NewDevelopment logs human readable lines at every verbosity up to v.
func NewDevelopment(v int) (logr.Logger, error) {
	zapCfg := zap.NewDevelopmentConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-v))
	zapLggr, err := zapCfg.Build()
	if err != nil {
		return logr.Discard(), err
	}
	return zapr.NewLogger(zapLggr), nil
}
