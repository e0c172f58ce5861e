package debugger

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hitzhangjie/rdbg/pkg/breakpoint"
)

// ParseLocation parses a locspec typed by the user:
//
//	0x4a1b2c        instruction address
//	main.go:42      file and line
//	main.main       function
func ParseLocation(s string) (breakpoint.InputLocation, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return breakpoint.InputLocation{}, fmt.Errorf("empty locspec")
	}

	if s[0] >= '0' && s[0] <= '9' {
		addr, err := parseAddress(s)
		if err != nil {
			return breakpoint.InputLocation{}, err
		}
		return breakpoint.AddressLocation(addr), nil
	}

	if idx := strings.LastIndex(s, ":"); idx >= 0 {
		file, lineno, err := parseFileLineno(s[:idx], s[idx+1:])
		if err != nil {
			return breakpoint.InputLocation{}, err
		}
		return breakpoint.LineLocation(file, lineno), nil
	}
	return breakpoint.SymbolLocation(s), nil
}

func parseAddress(locStr string) (uint64, error) {
	v, err := strconv.ParseUint(locStr, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid locspec: %v", err)
	}
	return v, nil
}

// must be form file:lineno, like main.go:100
func parseFileLineno(file, line string) (string, int, error) {
	if file == "" {
		return "", 0, fmt.Errorf("invalid location: %s:%s, must be file:lineno", file, line)
	}
	v, err := strconv.Atoi(line)
	if err != nil || v <= 0 {
		return "", 0, fmt.Errorf("invalid location: %s:%s, must be file:lineno", file, line)
	}
	return file, v, nil
}
