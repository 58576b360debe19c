// ABOUTME: JSON-lines mutation scripts applied to a scope by the replay command
// ABOUTME: One operation per line, blank lines and # comments ignored

package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/2389/scopesync/internal/scope"
)

// step is one line of a replay script, e.g.
//
//	{"op":"set_tag","key":"release","value":"1.4.2"}
//	{"op":"add_breadcrumb","breadcrumb":{"category":"nav","message":"opened settings"}}
type step struct {
	Line        int               `json:"-"`
	Op          string            `json:"op"`
	Key         string            `json:"key,omitempty"`
	Value       json.RawMessage   `json:"value,omitempty"`
	User        *scope.User       `json:"user,omitempty"`
	Breadcrumb  *scope.Breadcrumb `json:"breadcrumb,omitempty"`
	Fingerprint []string          `json:"fingerprint,omitempty"`
	Level       scope.Level       `json:"level,omitempty"`
}

var knownOps = map[string]bool{
	"set_tag":           true,
	"unset_tag":         true,
	"set_user":          true,
	"clear_user":        true,
	"add_breadcrumb":    true,
	"clear_breadcrumbs": true,
	"set_context":       true,
	"remove_context":    true,
	"set_extra":         true,
	"remove_extra":      true,
	"set_fingerprint":   true,
	"set_level":         true,
	"set_transaction":   true,
	"clear":             true,
}

// readScript parses every line up front so a malformed script changes nothing.
func readScript(r io.Reader) ([]step, error) {
	var steps []step

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		var s step
		if err := json.Unmarshal([]byte(line), &s); err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !knownOps[s.Op] {
			return nil, fmt.Errorf("line %d: unknown op %q", lineNo, s.Op)
		}
		s.Line = lineNo
		steps = append(steps, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading script: %w", err)
	}
	return steps, nil
}

// apply performs one step on sc.
func (s step) apply(sc *scope.Scope) error {
	switch s.Op {
	case "set_tag":
		var v string
		if err := s.decodeValue(&v); err != nil {
			return err
		}
		return sc.SetTag(s.Key, v)
	case "unset_tag":
		sc.UnsetTag(s.Key)
	case "set_user":
		if s.User == nil {
			return fmt.Errorf("set_user needs a user")
		}
		sc.SetUser(*s.User)
	case "clear_user":
		sc.ClearUser()
	case "add_breadcrumb":
		if s.Breadcrumb == nil {
			return fmt.Errorf("add_breadcrumb needs a breadcrumb")
		}
		return sc.AddBreadcrumb(*s.Breadcrumb)
	case "clear_breadcrumbs":
		sc.ClearBreadcrumbs()
	case "set_context":
		var v scope.Value
		if err := s.decodeValue(&v); err != nil {
			return err
		}
		return sc.SetContext(s.Key, v)
	case "remove_context":
		sc.RemoveContext(s.Key)
	case "set_extra":
		var v scope.Value
		if err := s.decodeValue(&v); err != nil {
			return err
		}
		return sc.SetExtra(s.Key, v)
	case "remove_extra":
		sc.RemoveExtra(s.Key)
	case "set_fingerprint":
		sc.SetFingerprint(s.Fingerprint)
	case "set_level":
		return sc.SetLevel(s.Level)
	case "set_transaction":
		var v string
		if err := s.decodeValue(&v); err != nil {
			return err
		}
		sc.SetTransaction(v)
	case "clear":
		sc.Clear()
	default:
		return fmt.Errorf("unknown op %q", s.Op)
	}
	return nil
}

func (s step) decodeValue(v any) error {
	if len(s.Value) == 0 {
		return fmt.Errorf("%s needs a value", s.Op)
	}
	if err := json.Unmarshal(s.Value, v); err != nil {
		return fmt.Errorf("%s value: %w", s.Op, err)
	}
	return nil
}

// replay applies steps in order and stops at the first rejected one.
func replay(sc *scope.Scope, steps []step) (int, error) {
	for i, s := range steps {
		if err := s.apply(sc); err != nil {
			return i, fmt.Errorf("line %d: %w", s.Line, err)
		}
	}
	return len(steps), nil
}
