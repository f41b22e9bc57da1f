package main

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/odvcencio/hx/pkg/repo"
)

const dialTimeout = 10 * time.Second

// resolveRemote turns a remote argument into a dial address: a
// configured remote name, or a literal host:port.
func resolveRemote(r *repo.Repo, arg string) (string, error) {
	if arg == "" {
		arg = "origin"
	}
	if addr, err := r.RemoteAddr(arg); err == nil {
		return addr, nil
	}
	if strings.Contains(arg, ":") {
		return arg, nil
	}
	return "", fmt.Errorf("remote %q is not configured and is not a host:port address", arg)
}

func dialRemote(addr string) (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", addr, dialTimeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

// currentRefName returns the fully qualified ref for the branch
// argument, defaulting to the current branch.
func currentRefName(r *repo.Repo, branch string) (string, error) {
	if branch != "" {
		return "refs/heads/" + branch, nil
	}
	current, err := r.CurrentBranch()
	if err != nil {
		return "", err
	}
	if current == "" {
		return "", fmt.Errorf("detached HEAD: specify a branch name")
	}
	return "refs/heads/" + current, nil
}
