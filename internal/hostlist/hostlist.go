// Package hostlist normalizes host specifications into full
// (host, port, user) triples. It accepts "[user@]host[:port]" strings,
// host files with "host[:port] [user]" lines, and fills missing
// fields from explicit defaults, then ~/.ssh/config.
package hostlist

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/kevinburke/ssh_config"
)

// Host is one resolved target.
type Host struct {
	Name string // original entry, kept for display
	Host string // bare hostname
	Port int    // 0 means unset
	User string // "" means unset
}

// Addr formats the host with its port when one was given.
func (h Host) Addr() string {
	if h.Port > 0 {
		return fmt.Sprintf("%s:%d", h.Host, h.Port)
	}
	return h.Host
}

// Parse parses a single "[user@]host[:port]" entry, applying the
// given defaults for fields the entry leaves out.
func Parse(entry, defaultUser string, defaultPort int) (Host, error) {
	h := Host{Name: entry, User: defaultUser, Port: defaultPort}
	s := strings.TrimSpace(entry)
	if s == "" {
		return h, fmt.Errorf("empty host entry")
	}
	if i := strings.Index(s, "@"); i >= 0 {
		if i == 0 {
			return h, fmt.Errorf("bad host entry %q: empty user", entry)
		}
		h.User = s[:i]
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, ":"); i >= 0 {
		port, err := strconv.Atoi(s[i+1:])
		if err != nil || port <= 0 || port > 65535 {
			return h, fmt.Errorf("bad host entry %q: invalid port %q", entry, s[i+1:])
		}
		h.Port = port
		s = s[:i]
	}
	if s == "" {
		return h, fmt.Errorf("bad host entry %q: empty hostname", entry)
	}
	h.Host = s
	return h, nil
}

// Expand parses a list of host entries, deduplicating on the bare
// hostname so the final result mapping has one entry per host.
func Expand(entries []string, defaultUser string, defaultPort int) ([]Host, error) {
	var hosts []Host
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		h, err := Parse(e, defaultUser, defaultPort)
		if err != nil {
			return nil, err
		}
		if seen[h.Host] {
			continue
		}
		seen[h.Host] = true
		hosts = append(hosts, h)
	}
	return hosts, nil
}

// ReadFile reads a host file. Lines are "[user@]host[:port]" with an
// optional trailing user field; blank lines and #-comments are
// skipped.
func ReadFile(path, defaultUser string, defaultPort int) ([]Host, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open host file: %w", err)
	}
	defer f.Close()

	var hosts []Host
	scanner := bufio.NewScanner(f)
	lineno := 0
	for scanner.Scan() {
		lineno++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) > 2 {
			return nil, fmt.Errorf("%s:%d: bad line %q: format is [user@]host[:port] [user]", path, lineno, line)
		}
		h, err := Parse(fields[0], defaultUser, defaultPort)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: %w", path, lineno, err)
		}
		if len(fields) == 2 {
			if strings.Contains(fields[0], "@") {
				return nil, fmt.Errorf("%s:%d: user specified twice in %q", path, lineno, line)
			}
			h.User = fields[1]
		}
		hosts = append(hosts, h)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read host file: %w", err)
	}
	return hosts, nil
}

// MergeSSHConfig fills User and Port from ~/.ssh/config when the
// entry and defaults left them unset.
func MergeSSHConfig(h *Host) {
	if h.User == "" {
		if user := sshConfigGet(h.Host, "User"); user != "" {
			h.User = user
		}
	}
	if h.Port == 0 {
		if portStr := sshConfigGet(h.Host, "Port"); portStr != "" {
			if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
				h.Port = port
			}
		}
	}
}

// sshConfigGet looks up a key for a host in the user's SSH config.
func sshConfigGet(hostname, key string) string {
	val, err := ssh_config.GetStrict(hostname, key)
	if err != nil {
		return ""
	}
	return val
}
