//go:build windows

package log

import (
	"fmt"
	"io"
)

func newSyslogWriter() (io.Writer, error) {
	return nil, fmt.Errorf("syslog sink is not supported on windows")
}
