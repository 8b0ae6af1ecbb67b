package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"

	"github.com/provisio/provisio/pkg/engine"
)

// Recognised context option names.
const (
	OptionServerIP     = "serverIP"
	OptionDBPassword   = "dbPassword"
	OptionExposedPorts = "exposedPorts"
)

// ApplyOverrides sets context options from "key=value" pairs. Unknown keys
// and malformed values are reported together as one validation error.
func ApplyOverrides(ctx *Context, overrides []string) error {
	var result *multierror.Error
	for _, kv := range overrides {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			result = multierror.Append(result, fmt.Errorf("%q: expected key=value", kv))
			continue
		}
		switch strings.TrimSpace(key) {
		case OptionServerIP:
			ctx.ServerIP = value
		case OptionDBPassword:
			ctx.DBPassword = value
		case OptionExposedPorts:
			ports, err := parsePorts(value)
			if err != nil {
				result = multierror.Append(result, err)
				continue
			}
			ctx.ExposedPorts = ports
		default:
			result = multierror.Append(result, fmt.Errorf("unknown option %q (known: %s, %s, %s)",
				key, OptionServerIP, OptionDBPassword, OptionExposedPorts))
		}
	}
	if err := result.ErrorOrNil(); err != nil {
		result.ErrorFormat = formatErrors
		return engine.NewValidationError("invalid option override", result)
	}
	return nil
}

func parsePorts(value string) ([]int, error) {
	if strings.TrimSpace(value) == "" {
		return nil, nil
	}
	parts := strings.Split(value, ",")
	ports := make([]int, 0, len(parts))
	for _, p := range parts {
		port, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("%s: %q is not a port number", OptionExposedPorts, p)
		}
		ports = append(ports, port)
	}
	return ports, nil
}
