// Package command builds the argument vectors for the external
// remote-shell and remote-copy invocations. Builders are pure
// functions of the host triple, the payload, and the pass-through
// options; the scheduler never constructs argument vectors itself.
package command

import (
	"fmt"
	"strconv"
)

// CopyOpts carries the pass-through settings shared by push and pull.
type CopyOpts struct {
	Options   []string // -o key=value pairs for the copy tool
	Extra     []string // extra trailing arguments
	Recursive bool
}

// Call builds the remote-shell invocation for running cmdline on a
// host. Password prompting is capped at one attempt so a wrong
// credential fails fast instead of re-prompting.
func Call(host string, port int, user, cmdline string, options, extra []string) []string {
	cmd := []string{"ssh", host,
		"-o", "NumberOfPasswordPrompts=1",
		"-o", "SendEnv=PSSH_NODENUM PSSH_HOST",
	}
	for _, opt := range options {
		cmd = append(cmd, "-o", opt)
	}
	if user != "" {
		cmd = append(cmd, "-l", user)
	}
	if port > 0 {
		cmd = append(cmd, "-p", strconv.Itoa(port))
	}
	cmd = append(cmd, extra...)
	if cmdline != "" {
		cmd = append(cmd, cmdline)
	}
	return cmd
}

// Push builds the remote-copy invocation for uploading local sources
// to dest on a host.
func Push(host string, port int, user string, sources []string, dest string, o CopyOpts) []string {
	cmd := copyBase(port, o)
	cmd = append(cmd, sources...)
	cmd = append(cmd, remotePath(host, user, dest))
	return cmd
}

// Pull builds the remote-copy invocation for downloading source from
// a host into localPath.
func Pull(host string, port int, user, source, localPath string, o CopyOpts) []string {
	cmd := copyBase(port, o)
	cmd = append(cmd, remotePath(host, user, source))
	cmd = append(cmd, localPath)
	return cmd
}

func copyBase(port int, o CopyOpts) []string {
	cmd := []string{"scp", "-qC"}
	for _, opt := range o.Options {
		cmd = append(cmd, "-o", opt)
	}
	if port > 0 {
		cmd = append(cmd, "-P", strconv.Itoa(port))
	}
	if o.Recursive {
		cmd = append(cmd, "-r")
	}
	cmd = append(cmd, o.Extra...)
	return cmd
}

func remotePath(host, user, path string) string {
	if user != "" {
		return fmt.Sprintf("%s@%s:%s", user, host, path)
	}
	return fmt.Sprintf("%s:%s", host, path)
}
