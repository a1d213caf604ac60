// Package dryrun provides an AppTracker that only logs, used when no Sentry
// DSN is configured.
package dryrun

import (
	"github.com/sirupsen/logrus"
)

type DryRunTracker struct {
	Logger *logrus.Logger
}

func (d *DryRunTracker) CaptureMessage(message string) {
	d.Logger.Info(message)
}

func (d *DryRunTracker) CaptureException(exception error) {
	d.Logger.WithError(exception).Error("captured exception")
}
