package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestDefaults(t *testing.T) {
	t.Setenv("DB_PATH", "")
	cfg := Default()

	want := &Config{
		Root:      "db",
		Listen:    "127.0.0.1:12989",
		ServerURL: "http://127.0.0.1:12989",
		Index:     IndexConfig{Enabled: true},
		Watch:     WatchConfig{Enabled: true, Debounce: Duration(100 * time.Millisecond)},
		Client:    ClientConfig{Timeout: Duration(30 * time.Second)},
		Log:       LogConfig{MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 28},
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("Default() mismatch (-want +got):\n%s", diff)
	}
	if got := cfg.IndexPath(); got != filepath.Join("db", ".musicwa", "index.db") {
		t.Errorf("IndexPath() = %q", got)
	}
}

func TestLoadFileAndEnv(t *testing.T) {
	t.Setenv("DB_PATH", "")
	dir := t.TempDir()
	path := filepath.Join(dir, "musicwa.toml")
	body := `root = "/srv/music"
listen = "0.0.0.0:9000"

[watch]
debounce = "2s"

[index]
enabled = false
`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	t.Setenv("MUSICWA_LISTEN", "127.0.0.1:7000")

	cfg, err := Load(NewViper(path))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Root != "/srv/music" {
		t.Errorf("Root = %q", cfg.Root)
	}
	if cfg.Listen != "127.0.0.1:7000" {
		t.Errorf("Listen = %q, want env override", cfg.Listen)
	}
	if cfg.Watch.Debounce.Std() != 2*time.Second {
		t.Errorf("Debounce = %v", cfg.Watch.Debounce.Std())
	}
	if cfg.IndexPath() != "" {
		t.Errorf("IndexPath() = %q, want disabled", cfg.IndexPath())
	}
	if cfg.File != path {
		t.Errorf("File = %q, want %q", cfg.File, path)
	}
}

func TestLoadMissingSearchedFile(t *testing.T) {
	t.Setenv("DB_PATH", "")
	t.Chdir(t.TempDir())
	t.Setenv("HOME", t.TempDir())

	cfg, err := Load(NewViper(""))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.File != "" {
		t.Errorf("File = %q, want none", cfg.File)
	}
}

func TestLoadMissingNamedFile(t *testing.T) {
	if _, err := Load(NewViper(filepath.Join(t.TempDir(), "nope.toml"))); err == nil {
		t.Fatal("Load() of a missing named file should fail")
	}
}

func TestDBPath(t *testing.T) {
	t.Setenv("DB_PATH", "/data/db")
	cfg, err := Decode(nil)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if cfg.Root != "/data/db" {
		t.Errorf("Root = %q, want DB_PATH", cfg.Root)
	}

	t.Setenv("MUSICWA_ROOT", "/other")
	cfg, err = Decode(nil)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if cfg.Root != "db" {
		t.Errorf("Root = %q, DB_PATH must not win over MUSICWA_ROOT", cfg.Root)
	}
}

func TestValidate(t *testing.T) {
	t.Setenv("DB_PATH", "")
	if _, err := Decode([]byte(`root = " "`)); err == nil {
		t.Error("blank root should be rejected")
	}
	if _, err := Decode([]byte("[client]\ntimeout = \"0s\"\n")); err == nil {
		t.Error("zero client timeout should be rejected")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	t.Setenv("DB_PATH", "")
	cfg := Default()
	cfg.StaticDir = "dist"
	cfg.Watch.Debounce = Duration(250 * time.Millisecond)

	data, err := cfg.Encode()
	if err != nil {
		t.Fatalf("Encode() failed: %v", err)
	}
	if !strings.Contains(string(data), `debounce = "250ms"`) {
		t.Errorf("Encode() should write durations as strings:\n%s", data)
	}

	back, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode() failed: %v", err)
	}
	if diff := cmp.Diff(cfg, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteDefault(t *testing.T) {
	t.Setenv("DB_PATH", "")
	path := filepath.Join(t.TempDir(), "conf", "musicwa.toml")

	if err := WriteDefault(path, false); err != nil {
		t.Fatalf("WriteDefault() failed: %v", err)
	}
	if err := WriteDefault(path, false); err == nil {
		t.Error("WriteDefault() should refuse to overwrite")
	}
	if err := WriteDefault(path, true); err != nil {
		t.Errorf("WriteDefault(force) failed: %v", err)
	}

	cfg, err := Load(NewViper(path))
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Root != "db" {
		t.Errorf("Root = %q", cfg.Root)
	}
}
