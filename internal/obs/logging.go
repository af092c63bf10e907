// Package obs provides the process-wide structured logger and Prometheus
// metrics every worker registers against. The teacher calls log.Printf at
// each step of its pipeline; this wraps zap.SugaredLogger's Infof/Warnf so
// call sites keep that printf shape while the output is structured JSON.
package obs

import (
	"go.uber.org/zap"
)

// NewLogger builds a production zap logger, or a development one when dev
// is true (console-encoded, debug level, for local runs).
func NewLogger(dev bool) (*zap.SugaredLogger, error) {
	var logger *zap.Logger
	var err error
	if dev {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
