package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

const (
	DefaultLimit = 50
	MaxLimit     = 1000
	DefaultHours = 24
)

// paramError is a client input problem reported as 400 with its message.
type paramError struct {
	msg string
}

func (e *paramError) Error() string { return e.msg }

func badParam(format string, args ...any) error {
	return &paramError{msg: fmt.Sprintf(format, args...)}
}

// queryInt reads an integer query parameter, returning def when absent.
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, badParam("%s must be an integer", strings.ToUpper(name[:1])+name[1:])
	}
	return v, nil
}

func parseLimit(r *http.Request) (int, error) {
	limit, err := queryInt(r, "limit", DefaultLimit)
	if err != nil {
		return 0, err
	}
	if limit < 1 {
		return 0, badParam("Limit must be at least 1")
	}
	if limit > MaxLimit {
		return 0, badParam("Limit cannot exceed %d", MaxLimit)
	}
	return limit, nil
}

func parseOffset(r *http.Request) (int, error) {
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		return 0, err
	}
	if offset < 0 {
		return 0, badParam("Offset cannot be negative")
	}
	return offset, nil
}

func parseHours(r *http.Request) (int, error) {
	hours, err := queryInt(r, "hours", DefaultHours)
	if err != nil {
		return 0, err
	}
	if hours < 1 {
		return 0, badParam("Hours must be at least 1")
	}
	return hours, nil
}

// parseUsername returns the optional username filter; empty means all accounts.
func parseUsername(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("username"))
}

// parsePage validates limit and offset together, limit first.
func parsePage(r *http.Request) (limit, offset int, err error) {
	if limit, err = parseLimit(r); err != nil {
		return 0, 0, err
	}
	if offset, err = parseOffset(r); err != nil {
		return 0, 0, err
	}
	return limit, offset, nil
}
