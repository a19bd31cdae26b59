// Package config reads the command-line-style options file consumed at
// Create time, per the "/tmp/dash_args" convention: one "--flag=value" (or
// boolean "--flag"/"--no-flag") token per line.
package config

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
)

// Config holds the fully processed set of options recognized at Create time.
type Config struct {
	LogLevel         int
	Verbose          int
	CurlGlobalLock   bool
	AllTracksMetered bool
}

// defaults mirror the spec: metered-by-default, no global curl lock.
func defaults() Config {
	return Config{
		LogLevel:         1,
		Verbose:          0,
		CurlGlobalLock:   false,
		AllTracksMetered: true,
	}
}

// Load reads and parses the options file at path. A missing file is not an
// error: it yields the zero-configured defaults, since the options file is
// optional scaffolding rather than required input.
func Load(path string) (*Config, error) {
	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &cfg, nil
		}
		return nil, fmt.Errorf("failed to read options file at %s: %w", path, err)
	}

	tokens, err := tokenize(data)
	if err != nil {
		return nil, fmt.Errorf("failed to tokenize options file at %s: %w", path, err)
	}

	if err := parse(&cfg, tokens); err != nil {
		return nil, fmt.Errorf("failed to parse options file at %s: %w", path, err)
	}

	return &cfg, nil
}

// tokenize splits the file into one token per non-blank, non-comment line.
func tokenize(data []byte) ([]string, error) {
	var tokens []string
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tokens = append(tokens, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return tokens, nil
}

// parse applies recognized tokens onto cfg using a FlagSet so the "--flag"
// and "--no-flag" boolean conventions get stdlib's normal handling; unknown
// flags are rejected rather than silently ignored, since an options file
// with a typo should fail loudly at Create time, not at tick time.
func parse(cfg *Config, tokens []string) error {
	fs := flag.NewFlagSet("dash_args", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	logLevel := fs.Int("log-level", cfg.LogLevel, "")
	verbose := fs.Int("v", cfg.Verbose, "")
	curlGlobalLock := fs.Bool("curl-global-lock", cfg.CurlGlobalLock, "")
	noCurlGlobalLock := fs.Bool("no-curl-global-lock", false, "")
	allTracksMetered := fs.Bool("all-tracks-metered", cfg.AllTracksMetered, "")
	noAllTracksMetered := fs.Bool("no-all-tracks-metered", false, "")

	if err := fs.Parse(tokens); err != nil {
		return err
	}

	if *logLevel < 0 {
		return fmt.Errorf("log-level must be >= 0, got %d", *logLevel)
	}

	cfg.LogLevel = *logLevel
	cfg.Verbose = *verbose
	cfg.CurlGlobalLock = *curlGlobalLock && !*noCurlGlobalLock
	cfg.AllTracksMetered = *allTracksMetered && !*noAllTracksMetered
	if *noCurlGlobalLock {
		cfg.CurlGlobalLock = false
	}
	if *noAllTracksMetered {
		cfg.AllTracksMetered = false
	}

	return nil
}
