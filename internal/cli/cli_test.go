package cli

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"github.com/krig/parallel-ssh/internal/hostlist"
)

func TestExitCode_Error(t *testing.T) {
	if got := ExitCode(3).Error(); got != "exit code 3" {
		t.Errorf("Error() = %q", got)
	}
}

func TestEntryString(t *testing.T) {
	cases := []struct {
		host hostlist.Host
		want string
	}{
		{hostlist.Host{Host: "web1"}, "web1"},
		{hostlist.Host{Host: "web1", Port: 2222}, "web1:2222"},
		{hostlist.Host{Host: "web1", User: "alice"}, "alice@web1"},
		{hostlist.Host{Host: "web1", User: "alice", Port: 2222}, "alice@web1:2222"},
	}
	for _, c := range cases {
		if got := entryString(c.host); got != c.want {
			t.Errorf("entryString(%+v) = %q, want %q", c.host, got, c.want)
		}
	}
}

func TestResolve_NoHosts(t *testing.T) {
	f := &batchFlags{cfgFile: filepath.Join(t.TempDir(), "none.yaml")}
	if _, _, _, err := f.resolve(); err == nil {
		t.Fatal("expected error when no hosts are specified")
	}
}

func TestResolve_CombinesSources(t *testing.T) {
	dir := t.TempDir()
	hostFile := filepath.Join(dir, "hosts.txt")
	if err := os.WriteFile(hostFile, []byte("web1\nweb2:2222\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgFile := filepath.Join(dir, "pssh.yaml")
	cfg := `
groups:
  db:
    hosts: [db1]
    user: admin
`
	if err := os.WriteFile(cfgFile, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	f := &batchFlags{
		cfgFile:   cfgFile,
		group:     "db",
		hostFiles: []string{hostFile},
		hostArgs:  []string{"extra1"},
	}
	_, entries, _, err := f.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	want := []string{"admin@db1", "web1", "web2:2222", "extra1"}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("entries = %v, want %v", entries, want)
	}
}

func TestResolve_ConfigDefaults(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "pssh.yaml")
	cfg := `
defaults:
  parallelism: 7
  timeout: 45s
`
	if err := os.WriteFile(cfgFile, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}

	f := &batchFlags{cfgFile: cfgFile, hostArgs: []string{"web1"}}
	opts, _, _, err := f.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if opts.Parallelism != 7 {
		t.Errorf("parallelism = %d, want 7", opts.Parallelism)
	}
	if opts.Timeout.String() != "45s" {
		t.Errorf("timeout = %s, want 45s", opts.Timeout)
	}
}

func TestResolve_FlagsBeatConfigDefaults(t *testing.T) {
	cfgFile := filepath.Join(t.TempDir(), "pssh.yaml")
	if err := os.WriteFile(cfgFile, []byte("defaults:\n  parallelism: 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	f := &batchFlags{cfgFile: cfgFile, hostArgs: []string{"web1"}, parallelism: 3}
	opts, _, _, err := f.resolve()
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if opts.Parallelism != 3 {
		t.Errorf("parallelism = %d, want 3", opts.Parallelism)
	}
}

func TestRootCmd_HasSubcommands(t *testing.T) {
	root := newRootCmd()
	for _, name := range []string{"run", "push", "pull"} {
		found := false
		for _, c := range root.Commands() {
			if c.Name() == name {
				found = true
			}
		}
		if !found {
			t.Errorf("root command is missing %q", name)
		}
	}
}

func TestExecute_UnknownCommand(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"bogus"})
	if err := root.ExecuteContext(context.Background()); err == nil {
		t.Fatal("expected error for an unknown subcommand")
	}
}
