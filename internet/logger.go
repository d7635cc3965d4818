package internet

import (
	"github.com/hajifkd/virtual-ip-host/internal/log"
)

type logger struct {
	log log.Logger
}

func (l logger) error(msg string, kv ...any) { l.with(kv).Errorf("%s", msg) }
func (l logger) warn(msg string, kv ...any)  { l.with(kv).Warnf("%s", msg) }
func (l logger) info(msg string, kv ...any)  { l.with(kv).Infof("%s", msg) }
func (l logger) debug(msg string, kv ...any) {
	if l.log.IsDebugEnabled() {
		l.with(kv).Debugf("%s", msg)
	}
}

// with attaches alternating key value pairs as fields.
func (l logger) with(kv []any) log.Logger {
	if len(kv) == 0 {
		return l.log
	}
	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = "!BADKEY"
		}
		if err, ok := kv[i+1].(error); ok {
			fields[key] = err.Error()
			continue
		}
		fields[key] = kv[i+1]
	}
	return l.log.WithFields(fields)
}
