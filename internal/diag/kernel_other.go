//go:build !linux

package diag

import "github.com/sirupsen/logrus"

// LogKernelVersion is a no-op off Linux; docker's kernel-version parser
// only supports the Linux uname(2) release string.
func LogKernelVersion(log logrus.FieldLogger) {}
