package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

var ErrInvalidFormat = errors.New("invalid output format (valid values are text, json, yaml)")

type Format int

const (
	Text Format = iota
	JSON
	YAML
)

func ParseFormat(s string) (Format, error) {
	switch s {
	case "", "text":
		return Text, nil
	case "json":
		return JSON, nil
	case "yaml":
		return YAML, nil
	}

	return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

// Write renders the report. The text format starts with the bare
// speculation state line.
func Write(w io.Writer, r *Report, f Format) error {
	switch f {
	case JSON:
		b, err := json.MarshalIndent(r, "", "    ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case YAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(r); err != nil {
			return err
		}
		return enc.Close()
	}

	return writeText(w, r)
}

func writeText(w io.Writer, r *Report) error {
	if _, err := fmt.Fprintln(w, r.State); err != nil {
		return err
	}

	if len(r.CPUs) == 0 {
		return nil
	}

	fmt.Fprintf(w, "\n%s (%s)\n", r.Location, r.Identity)

	for _, c := range r.CPUs {
		var err error

		switch {
		case c.SSBD == nil:
			_, err = fmt.Fprintf(w, "  cpu %-4d error: %s\n", c.CPU, c.Error)
		case *c.SSBD:
			_, err = fmt.Fprintf(w, "  cpu %-4d set    (%s)\n", c.CPU, c.Raw)
		default:
			_, err = fmt.Fprintf(w, "  cpu %-4d clear  (%s)\n", c.CPU, c.Raw)
		}

		if err != nil {
			return err
		}
	}

	return nil
}
