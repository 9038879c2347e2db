package config

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

func newFlagSet() *flag.FlagSet {
	return flag.NewFlagSet("test", flag.ContinueOnError)
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "segfetch.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestParseServerConfig_Defaults(t *testing.T) {
	cfg, err := parseServerConfigWithFlagSet(newFlagSet(), []string{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("expected Addr to be :8080, got %s", cfg.Addr)
	}
	if cfg.Root != "." {
		t.Errorf("expected Root to be ., got %s", cfg.Root)
	}
	if cfg.MaxChunkSize != 4096 {
		t.Errorf("expected MaxChunkSize 4096, got %d", cfg.MaxChunkSize)
	}
	if cfg.AckTimeout != 2*time.Second {
		t.Errorf("expected AckTimeout 2s, got %s", cfg.AckTimeout)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected LogLevel to be info, got %s", cfg.LogLevel)
	}
}

func TestParseServerConfig_Flags(t *testing.T) {
	cfg, err := parseServerConfigWithFlagSet(newFlagSet(), []string{
		"-addr", ":9090", "-root", "/srv/files", "-max-chunk-size", "8192", "-ack-timeout", "500ms", "-log-level", "debug",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Addr != ":9090" || cfg.Root != "/srv/files" {
		t.Errorf("unexpected addr/root: %s %s", cfg.Addr, cfg.Root)
	}
	if cfg.MaxChunkSize != 8192 {
		t.Errorf("expected MaxChunkSize 8192, got %d", cfg.MaxChunkSize)
	}
	if cfg.AckTimeout != 500*time.Millisecond {
		t.Errorf("expected AckTimeout 500ms, got %s", cfg.AckTimeout)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected LogLevel to be debug, got %s", cfg.LogLevel)
	}
}

func TestParseServerConfig_EnvFallback(t *testing.T) {
	t.Setenv("SEGFETCH_ADDR", ":7070")
	t.Setenv("SEGFETCH_MAX_CHUNK_SIZE", "2048")

	cfg, err := parseServerConfigWithFlagSet(newFlagSet(), []string{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Errorf("expected Addr to be :7070, got %s", cfg.Addr)
	}
	if cfg.MaxChunkSize != 2048 {
		t.Errorf("expected MaxChunkSize 2048, got %d", cfg.MaxChunkSize)
	}
}

func TestParseServerConfig_FlagsOverrideEnv(t *testing.T) {
	t.Setenv("SEGFETCH_ADDR", ":7070")
	t.Setenv("SEGFETCH_LOG_LEVEL", "warn")

	cfg, err := parseServerConfigWithFlagSet(newFlagSet(), []string{"-addr", ":9090"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("expected Addr to be :9090 (from flag), got %s", cfg.Addr)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("expected LogLevel to be warn (from env), got %s", cfg.LogLevel)
	}
}

func TestParseServerConfig_File(t *testing.T) {
	path := writeConfig(t, `
addr = ":6000"
root = "/data"
max_chunk_size = 1024
ack_timeout = "750ms"
`)
	t.Setenv("SEGFETCH_ROOT", "/from-env")

	cfg, err := parseServerConfigWithFlagSet(newFlagSet(), []string{"-config", path, "-max-chunk-size", "512"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Addr != ":6000" {
		t.Errorf("expected Addr from file, got %s", cfg.Addr)
	}
	if cfg.Root != "/from-env" {
		t.Errorf("expected env to override file, got %s", cfg.Root)
	}
	if cfg.MaxChunkSize != 512 {
		t.Errorf("expected flag to override file, got %d", cfg.MaxChunkSize)
	}
	if cfg.AckTimeout != 750*time.Millisecond {
		t.Errorf("expected AckTimeout 750ms, got %s", cfg.AckTimeout)
	}
}

func TestParseServerConfig_MissingFile(t *testing.T) {
	_, err := parseServerConfigWithFlagSet(newFlagSet(), []string{"-config", filepath.Join(t.TempDir(), "nope.toml")})
	if err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestParseServerConfig_ClampsChunkSize(t *testing.T) {
	cfg, err := parseServerConfigWithFlagSet(newFlagSet(), []string{"-max-chunk-size", "1000000"})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.MaxChunkSize != 65000 {
		t.Errorf("expected MaxChunkSize clamped to 65000, got %d", cfg.MaxChunkSize)
	}
}

func TestParseClientConfig_Defaults(t *testing.T) {
	cfg, err := parseClientConfigWithFlagSet(newFlagSet(), []string{})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server != "127.0.0.1:8080" {
		t.Errorf("expected Server 127.0.0.1:8080, got %s", cfg.Server)
	}
	if cfg.Segments != 4 || cfg.PayloadSize != 1024 || cfg.RetryLimit != 40 || cfg.QueryAttempts != 3 {
		t.Errorf("unexpected numeric defaults: %+v", cfg)
	}
	if cfg.Timeout != time.Second {
		t.Errorf("expected Timeout 1s, got %s", cfg.Timeout)
	}
	if cfg.OutDir != "." || cfg.Input != "input.txt" {
		t.Errorf("unexpected paths: %s %s", cfg.OutDir, cfg.Input)
	}
	if cfg.Progress != ProgressAuto {
		t.Errorf("expected Progress auto, got %s", cfg.Progress)
	}
	if len(cfg.Args) != 0 {
		t.Errorf("expected no args, got %v", cfg.Args)
	}
}

func TestParseClientConfig_FlagsAndArgs(t *testing.T) {
	cfg, err := parseClientConfigWithFlagSet(newFlagSet(), []string{
		"-server", "10.0.0.2:9000", "-segments", "8", "-payload-size", "4000", "-progress", "plain",
		"get", "a.txt", "b.bin",
	})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server != "10.0.0.2:9000" || cfg.Segments != 8 || cfg.PayloadSize != 4000 {
		t.Errorf("unexpected flags: %+v", cfg)
	}
	if cfg.Progress != ProgressPlain {
		t.Errorf("expected progress plain, got %s", cfg.Progress)
	}
	if want := []string{"get", "a.txt", "b.bin"}; !reflect.DeepEqual(cfg.Args, want) {
		t.Errorf("expected args %v, got %v", want, cfg.Args)
	}
}

func TestParseClientConfig_Clamping(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		segments    int
		payloadSize int
	}{
		{"low", []string{"-segments", "0", "-payload-size", "1"}, 1, 16},
		{"high", []string{"-segments", "500", "-payload-size", "70000"}, 64, 65000},
		{"in range", []string{"-segments", "12", "-payload-size", "512"}, 12, 512},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseClientConfigWithFlagSet(newFlagSet(), tt.args)
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			if cfg.Segments != tt.segments {
				t.Errorf("segments = %d, want %d", cfg.Segments, tt.segments)
			}
			if cfg.PayloadSize != tt.payloadSize {
				t.Errorf("payload size = %d, want %d", cfg.PayloadSize, tt.payloadSize)
			}
		})
	}
}

func TestParseClientConfig_EnvAndFile(t *testing.T) {
	path := writeConfig(t, `
server = "192.168.1.5:8080"
segments = 16
timeout = "250ms"
`)
	t.Setenv("SEGFETCH_SEGMENTS", "6")

	cfg, err := parseClientConfigWithFlagSet(newFlagSet(), []string{"-config", path})
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Server != "192.168.1.5:8080" {
		t.Errorf("expected Server from file, got %s", cfg.Server)
	}
	if cfg.Segments != 6 {
		t.Errorf("expected Segments from env, got %d", cfg.Segments)
	}
	if cfg.Timeout != 250*time.Millisecond {
		t.Errorf("expected Timeout 250ms, got %s", cfg.Timeout)
	}
}

func TestParseClientConfig_InvalidProgress(t *testing.T) {
	if _, err := parseClientConfigWithFlagSet(newFlagSet(), []string{"-progress", "fancy"}); err == nil {
		t.Fatal("expected error for invalid progress mode")
	}
}

func TestConfigKeys(t *testing.T) {
	keys := configKeys(&ServerConfig{})
	want := []string{"addr", "root", "max_chunk_size", "ack_timeout", "udp_read_buffer_bytes", "udp_write_buffer_bytes", "log_level"}
	if !reflect.DeepEqual(keys, want) {
		t.Errorf("keys = %v, want %v", keys, want)
	}
}
