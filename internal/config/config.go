package config

import (
	"flag"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/mreiferson/go-options"
)

const envPrefix = "SEGFETCH_"

// Progress display modes.
const (
	ProgressAuto  = "auto"
	ProgressTTY   = "tty"
	ProgressPlain = "plain"
	ProgressOff   = "off"
)

// ServerConfig holds configuration for the server binary.
type ServerConfig struct {
	Addr                string        `flag:"addr"`
	Root                string        `flag:"root"`
	MaxChunkSize        int           `flag:"max-chunk-size"`
	AckTimeout          time.Duration `flag:"ack-timeout"`
	UDPReadBufferBytes  int           `flag:"udp-read-buffer-bytes"`
	UDPWriteBufferBytes int           `flag:"udp-write-buffer-bytes"`
	LogLevel            string        `flag:"log-level"`
}

// ClientConfig holds configuration for the client binary.
type ClientConfig struct {
	Server              string        `flag:"server"`
	Segments            int           `flag:"segments"`
	PayloadSize         int           `flag:"payload-size"`
	RetryLimit          int           `flag:"retry-limit"`
	Timeout             time.Duration `flag:"timeout"`
	QueryAttempts       int           `flag:"query-attempts"`
	OutDir              string        `flag:"out-dir"`
	Input               string        `flag:"input"`
	Progress            string        `flag:"progress"`
	UDPReadBufferBytes  int           `flag:"udp-read-buffer-bytes"`
	UDPWriteBufferBytes int           `flag:"udp-write-buffer-bytes"`
	LogLevel            string        `flag:"log-level"`

	// Args are the positional arguments left after the flags.
	Args []string
}

// ParseServerConfig parses server configuration from flags, environment
// variables and an optional TOML file named by -config.
// Precedence: flag, then SEGFETCH_* environment, then file, then default.
func ParseServerConfig(args []string) (ServerConfig, error) {
	return parseServerConfigWithFlagSet(flag.NewFlagSet("segserv", flag.ExitOnError), args)
}

// parseServerConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseServerConfigWithFlagSet(fs *flag.FlagSet, args []string) (ServerConfig, error) {
	configPath := fs.String("config", "", "path to a TOML config file")
	fs.String("addr", ":8080", "UDP listen address")
	fs.String("root", ".", "directory to serve files from")
	fs.Int("max-chunk-size", 4096, "largest payload sent in one response")
	fs.Duration("ack-timeout", 2*time.Second, "how long to wait for each acknowledgment")
	fs.Int("udp-read-buffer-bytes", 8*1024*1024, "UDP socket read buffer (0 keeps the OS default)")
	fs.Int("udp-write-buffer-bytes", 8*1024*1024, "UDP socket write buffer (0 keeps the OS default)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")

	cfg := ServerConfig{}
	if err := resolve(&cfg, fs, args, configPath); err != nil {
		return ServerConfig{}, err
	}
	if cfg.MaxChunkSize < 1 {
		cfg.MaxChunkSize = 1
	}
	if cfg.MaxChunkSize > maxPayloadSize {
		cfg.MaxChunkSize = maxPayloadSize
	}
	return cfg, nil
}

// Client payload bounds; the upper one keeps a response inside one UDP datagram.
const (
	minPayloadSize = 16
	maxPayloadSize = 65000
	maxSegments    = 64
)

// ParseClientConfig parses client configuration the same way as
// ParseServerConfig. Positional arguments end up in Args.
func ParseClientConfig(args []string) (ClientConfig, error) {
	return parseClientConfigWithFlagSet(flag.NewFlagSet("segfetch", flag.ExitOnError), args)
}

// parseClientConfigWithFlagSet is an internal helper for testing with isolated flag sets.
func parseClientConfigWithFlagSet(fs *flag.FlagSet, args []string) (ClientConfig, error) {
	configPath := fs.String("config", "", "path to a TOML config file")
	fs.String("server", "127.0.0.1:8080", "server address")
	fs.Int("segments", 4, "parallel segments per file (1..64)")
	fs.Int("payload-size", 1024, "bytes requested per chunk (16..65000)")
	fs.Int("retry-limit", 40, "attempts per offset before a segment fails")
	fs.Duration("timeout", time.Second, "wait for each response")
	fs.Int("query-attempts", 3, "attempts for LIST and SIZE queries")
	fs.String("out-dir", ".", "directory for part files and downloads")
	fs.String("input", "input.txt", "file listing names to download, one per line")
	fs.String("progress", ProgressAuto, "progress display (auto, tty, plain, off)")
	fs.Int("udp-read-buffer-bytes", 4*1024*1024, "UDP socket read buffer per segment (0 keeps the OS default)")
	fs.Int("udp-write-buffer-bytes", 0, "UDP socket write buffer per segment (0 keeps the OS default)")
	fs.String("log-level", "info", "log level (debug, info, warn, error)")

	cfg := ClientConfig{}
	if err := resolve(&cfg, fs, args, configPath); err != nil {
		return ClientConfig{}, err
	}
	cfg.Args = fs.Args()

	if cfg.Segments < 1 {
		cfg.Segments = 1
	}
	if cfg.Segments > maxSegments {
		cfg.Segments = maxSegments
	}
	if cfg.PayloadSize < minPayloadSize {
		cfg.PayloadSize = minPayloadSize
	}
	if cfg.PayloadSize > maxPayloadSize {
		cfg.PayloadSize = maxPayloadSize
	}
	if cfg.RetryLimit < 1 {
		cfg.RetryLimit = 1
	}
	if cfg.QueryAttempts < 1 {
		cfg.QueryAttempts = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Second
	}
	switch cfg.Progress {
	case ProgressAuto, ProgressTTY, ProgressPlain, ProgressOff:
	default:
		return ClientConfig{}, fmt.Errorf("invalid progress mode %q", cfg.Progress)
	}
	return cfg, nil
}

// resolve parses args, loads the optional TOML file, overlays environment
// variables on it and lets go-options pick each field's value.
func resolve(opts any, fs *flag.FlagSet, args []string, configPath *string) error {
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg := map[string]any{}
	if *configPath != "" {
		if _, err := toml.DecodeFile(*configPath, &cfg); err != nil {
			return fmt.Errorf("load config %s: %w", *configPath, err)
		}
	}
	for _, key := range configKeys(opts) {
		if v := os.Getenv(envPrefix + strings.ToUpper(key)); v != "" {
			cfg[key] = v
		}
	}
	options.Resolve(opts, fs, cfg)
	return nil
}

// configKeys lists the file and environment keys of a tagged struct:
// the flag name with dashes replaced by underscores.
func configKeys(opts any) []string {
	t := reflect.TypeOf(opts)
	if t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	var keys []string
	for i := 0; i < t.NumField(); i++ {
		if name := t.Field(i).Tag.Get("flag"); name != "" {
			keys = append(keys, strings.ReplaceAll(name, "-", "_"))
		}
	}
	return keys
}
