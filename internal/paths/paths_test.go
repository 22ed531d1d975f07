package paths

import (
	"os"
	"path/filepath"
	"testing"
)

func TestBaseDirOverride(t *testing.T) {
	dir := t.TempDir()
	t.Setenv(HomeEnv, dir)

	if got := BaseDir(); got != dir {
		t.Errorf("BaseDir() = %q, want %q", got, dir)
	}
	want := filepath.Join(dir, "profiles", "main")
	if got := ForProfile("main").Root; got != want {
		t.Errorf("ForProfile(main).Root = %q, want %q", got, want)
	}
}

func TestBaseDirDefault(t *testing.T) {
	t.Setenv(HomeEnv, "")
	home, _ := os.UserHomeDir()
	if got, want := BaseDir(), filepath.Join(home, ".wppdesk"); got != want {
		t.Errorf("BaseDir() = %q, want %q", got, want)
	}
}

func TestLayoutFiles(t *testing.T) {
	l := Layout{Root: "/data/p"}
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"config", l.ConfigPath(), "/data/p/config.toml"},
		{"db", l.DBPath(), "/data/p/wppdesk.db"},
		{"log", l.LogPath(), "/data/p/logs/wppdeskd.log"},
		{"health", l.HealthSocket(), "/data/p/health.sock"},
	}
	for _, tt := range tests {
		if tt.got != filepath.FromSlash(tt.want) {
			t.Errorf("%s path = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestEnsure(t *testing.T) {
	l := Layout{Root: filepath.Join(t.TempDir(), "profiles", "test")}
	if err := l.Ensure(); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(l.LogDir())
	if err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("log dir is not a directory")
	}
	if perm := info.Mode().Perm(); perm != 0700 {
		t.Errorf("log dir permission = %o, want 0700", perm)
	}
}

func TestValidateProfile(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr bool
	}{
		{"valid simple", "main", false},
		{"valid with numbers", "store42", false},
		{"valid with hyphen", "sales-team", false},
		{"valid with underscore", "sales_team", false},
		{"empty", "", true},
		{"uppercase", "Main", true},
		{"space", "my profile", true},
		{"dot", "my.profile", true},
		{"slash", "../etc", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProfile(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProfile(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidateInstance(t *testing.T) {
	tests := []struct {
		input   string
		wantErr bool
	}{
		{"Loja-Centro", false},
		{"desk.v2", false},
		{"", true},
		{"two words", true},
		{"a/b", true},
	}
	for _, tt := range tests {
		err := ValidateInstance(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateInstance(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
	}
}
