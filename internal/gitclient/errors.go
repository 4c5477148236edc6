package gitclient

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// FailureKind classifies why a git command failed.
type FailureKind string

const (
	FailureAuth     FailureKind = "auth"
	FailureNetwork  FailureKind = "network"
	FailureNotFound FailureKind = "not_found"
	FailureOther    FailureKind = "other"
)

// Error is a failed git invocation.
type Error struct {
	Args   []string
	Kind   FailureKind
	Stderr string
	Err    error
}

func (e *Error) Error() string {
	cmd := "git " + subcommand(e.Args)
	msg := e.Stderr
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s (%s): %s", cmd, e.Kind, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the failure kind of err, or FailureOther when err is not a
// git error.
func KindOf(err error) FailureKind {
	var gerr *Error
	if errors.As(err, &gerr) {
		return gerr.Kind
	}
	return FailureOther
}

// Ordered so that the more specific messages win: GitHub answers
// "Repository not found" for private repositories without credentials.
var stderrPatterns = []struct {
	kind    FailureKind
	needles []string
}{
	{FailureAuth, []string{
		"authentication failed",
		"could not read username",
		"could not read password",
		"permission denied",
		"invalid username or password",
		"the requested url returned error: 401",
		"the requested url returned error: 403",
		"terminal prompts disabled",
	}},
	{FailureNotFound, []string{
		"repository not found",
		"does not appear to be a git repository",
		"the requested url returned error: 404",
		"not found",
		"couldn't find remote ref",
		"does not exist",
	}},
	{FailureNetwork, []string{
		"could not resolve host",
		"connection timed out",
		"connection refused",
		"connection reset",
		"operation timed out",
		"network is unreachable",
		"unable to access",
		"early eof",
		"rpc failed",
		"the remote end hung up unexpectedly",
		"tls",
		"the requested url returned error: 5",
		"the requested url returned error: 429",
	}},
}

// Classify maps git's stderr to a failure kind. Unrecognized remote failures
// are treated as network failures, which the caller may retry.
func Classify(stderr string) FailureKind {
	s := strings.ToLower(stderr)
	for _, p := range stderrPatterns {
		for _, n := range p.needles {
			if strings.Contains(s, n) {
				return p.kind
			}
		}
	}
	if strings.Contains(s, "fatal:") && (strings.Contains(s, "remote") || strings.Contains(s, "http")) {
		return FailureNetwork
	}
	return FailureOther
}

// subcommand returns the first argument that is not a -c option.
func subcommand(args []string) string {
	for i := 0; i < len(args); i++ {
		if args[i] == "-c" {
			i++
			continue
		}
		return args[i]
	}
	return ""
}

func basicAuth(user, password string) string {
	return base64.StdEncoding.EncodeToString([]byte(user + ":" + password))
}
