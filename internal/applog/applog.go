// Package applog configures the logrus logger shared by the ssbd tools.
package applog

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/coreos/go-systemd/v22/journal"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// RunIDEnv carries the run id to programs started by the tools,
// so nested invocations log under the same id.
const RunIDEnv = "SSBD_RUN_ID"

type Options struct {
	Tool    string
	Debug   bool
	Journal bool
	Output  io.Writer
}

// Setup configures the standard logger and returns an entry carrying the
// run id. The journald hook is only added when journald is reachable.
func Setup(opts Options) *log.Entry {
	log.SetFormatter(&log.TextFormatter{
		DisableColors:    true,
		DisableTimestamp: true,
	})

	if opts.Output != nil {
		log.SetOutput(opts.Output)
	} else {
		log.SetOutput(os.Stderr)
	}

	if opts.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}

	if opts.Journal && journal.Enabled() {
		log.AddHook(&journalHook{identifier: opts.Tool})
	}

	return log.WithField("run", RunID())
}

// RunID returns the run id inherited from the environment or generates a
// new one and exports it.
func RunID() string {
	if v, ok := os.LookupEnv(RunIDEnv); ok {
		if id, err := uuid.Parse(v); err == nil {
			return id.String()
		}
	}

	id := uuid.New().String()

	os.Setenv(RunIDEnv, id)

	return id
}

type journalHook struct {
	identifier string
}

func (h *journalHook) Levels() []log.Level {
	return log.AllLevels
}

func (h *journalHook) Fire(e *log.Entry) error {
	return journal.Send(e.Message, priority(e.Level), journalFields(h.identifier, e.Data))
}

func priority(level log.Level) journal.Priority {
	switch level {
	case log.PanicLevel:
		return journal.PriEmerg
	case log.FatalLevel:
		return journal.PriCrit
	case log.ErrorLevel:
		return journal.PriErr
	case log.WarnLevel:
		return journal.PriWarning
	case log.InfoLevel:
		return journal.PriInfo
	}

	return journal.PriDebug
}

// journalFields converts logrus fields into journal variables. Journal
// variable names are uppercase and must not start with an underscore.
func journalFields(identifier string, data log.Fields) map[string]string {
	vars := make(map[string]string, len(data)+1)

	for k, v := range data {
		name := strings.Map(func(r rune) rune {
			switch {
			case r >= 'a' && r <= 'z':
				return r - 'a' + 'A'
			case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			}
			return '_'
		}, k)

		name = strings.TrimLeft(name, "_")

		if name == "" {
			continue
		}

		vars[name] = fmt.Sprint(v)
	}

	if identifier != "" {
		vars["SYSLOG_IDENTIFIER"] = identifier
	}

	return vars
}
