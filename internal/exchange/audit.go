package exchange

import (
	"os"

	"github.com/sirupsen/logrus"
)

// audit is a second, independent log stream: one logrus entry per exchange
// call acknowledgement, kept separate from the application's zerolog
// stream so an incident review can replay exactly what was sent to an
// exchange and what came back, without the rest of the engine's log
// volume in the way.
var audit = func() *logrus.Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{})
	l.SetOutput(os.Stdout)
	return l
}()

func auditCall(exchangeName, op, symbol string, fields logrus.Fields, err error) {
	entry := audit.WithFields(logrus.Fields{
		"exchange": exchangeName,
		"op":       op,
		"symbol":   symbol,
	})
	for k, v := range fields {
		entry = entry.WithField(k, v)
	}
	if err != nil {
		entry.WithError(err).Warn("exchange call failed")
		return
	}
	entry.Info("exchange call ok")
}
