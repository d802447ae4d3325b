package hostlist

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParse(t *testing.T) {
	cases := []struct {
		entry       string
		defaultUser string
		defaultPort int
		want        Host
		wantErr     bool
	}{
		{
			entry: "web1",
			want:  Host{Name: "web1", Host: "web1"},
		},
		{
			entry: "alice@web1",
			want:  Host{Name: "alice@web1", Host: "web1", User: "alice"},
		},
		{
			entry: "web1:2222",
			want:  Host{Name: "web1:2222", Host: "web1", Port: 2222},
		},
		{
			entry: "alice@web1:2222",
			want:  Host{Name: "alice@web1:2222", Host: "web1", User: "alice", Port: 2222},
		},
		{
			entry:       "web1",
			defaultUser: "bob",
			defaultPort: 22,
			want:        Host{Name: "web1", Host: "web1", User: "bob", Port: 22},
		},
		{
			// An explicit user beats the default.
			entry:       "alice@web1",
			defaultUser: "bob",
			want:        Host{Name: "alice@web1", Host: "web1", User: "alice"},
		},
		{entry: "", wantErr: true},
		{entry: "   ", wantErr: true},
		{entry: "@web1", wantErr: true},
		{entry: "alice@", wantErr: true},
		{entry: "web1:", wantErr: true},
		{entry: "web1:notaport", wantErr: true},
		{entry: "web1:0", wantErr: true},
		{entry: "web1:70000", wantErr: true},
	}
	for _, c := range cases {
		got, err := Parse(c.entry, c.defaultUser, c.defaultPort)
		if c.wantErr {
			if err == nil {
				t.Errorf("Parse(%q): expected error, got %+v", c.entry, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", c.entry, err)
			continue
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("Parse(%q) = %+v, want %+v", c.entry, got, c.want)
		}
	}
}

func TestExpand_Dedupes(t *testing.T) {
	hosts, err := Expand([]string{"web1", "web2", "alice@web1:2222", "web3"}, "", 0)
	if err != nil {
		t.Fatalf("Expand: %v", err)
	}

	var names []string
	for _, h := range hosts {
		names = append(names, h.Host)
	}
	want := []string{"web1", "web2", "web3"}
	if !reflect.DeepEqual(names, want) {
		t.Errorf("expected hosts %v, got %v", want, names)
	}
	// The first occurrence wins.
	if hosts[0].User != "" || hosts[0].Port != 0 {
		t.Errorf("duplicate entry overrode the first occurrence: %+v", hosts[0])
	}
}

func TestExpand_PropagatesErrors(t *testing.T) {
	if _, err := Expand([]string{"web1", "@bad"}, "", 0); err == nil {
		t.Fatal("expected error for a malformed entry")
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	content := `# production fleet
web1
web2:2222

alice@web3
web4 bob
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	hosts, err := ReadFile(path, "deploy", 22)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}

	want := []Host{
		{Name: "web1", Host: "web1", User: "deploy", Port: 22},
		{Name: "web2:2222", Host: "web2", User: "deploy", Port: 2222},
		{Name: "alice@web3", Host: "web3", User: "alice", Port: 22},
		{Name: "web4", Host: "web4", User: "bob", Port: 22},
	}
	if !reflect.DeepEqual(hosts, want) {
		t.Errorf("ReadFile = %+v, want %+v", hosts, want)
	}
}

func TestReadFile_UserTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	if err := os.WriteFile(path, []byte("alice@web1 bob\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	_, err := ReadFile(path, "", 0)
	if err == nil || !strings.Contains(err.Error(), "user specified twice") {
		t.Fatalf("expected a user-specified-twice error, got %v", err)
	}
}

func TestReadFile_TooManyFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hosts.txt")
	if err := os.WriteFile(path, []byte("web1 bob extra\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	if _, err := ReadFile(path, "", 0); err == nil {
		t.Fatal("expected error for a line with three fields")
	}
}

func TestReadFile_Missing(t *testing.T) {
	if _, err := ReadFile(filepath.Join(t.TempDir(), "nope"), "", 0); err == nil {
		t.Fatal("expected error for a missing file")
	}
}

func TestAddr(t *testing.T) {
	if got := (Host{Host: "web1"}).Addr(); got != "web1" {
		t.Errorf("expected %q, got %q", "web1", got)
	}
	if got := (Host{Host: "web1", Port: 2222}).Addr(); got != "web1:2222" {
		t.Errorf("expected %q, got %q", "web1:2222", got)
	}
}
