//go:build linux

package diag

import (
	"sync"

	"github.com/docker/docker/pkg/parsers/kernel"
	"github.com/sirupsen/logrus"
)

var logKernelVersionOnce sync.Once

// LogKernelVersion logs the detected Linux kernel version once per
// process. It is purely informational — useful when a keepalive/TCP_INFO
// oddity is reported and the kernel build matters for triage — and
// never gates protocol behavior.
func LogKernelVersion(log logrus.FieldLogger) {
	logKernelVersionOnce.Do(func() {
		v, err := kernel.GetKernelVersion()
		if err != nil {
			log.WithError(err).Debug("could not determine kernel version")
			return
		}
		log.WithField("kernel", v.String()).Info("host kernel version")
	})
}
