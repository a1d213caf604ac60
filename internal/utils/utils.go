package utils

import (
	"io"

	"github.com/sirupsen/logrus"
)

// DeferredClose closes a resource and logs the error instead of dropping it,
// meant to be used in defer statements.
func DeferredClose(closer io.Closer, errMsg string) {
	if err := closer.Close(); err != nil {
		logrus.Errorf("%s: %v", errMsg, err)
	}
}
