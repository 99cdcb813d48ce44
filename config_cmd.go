package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/charmbracelet/x/editor"
	"github.com/spf13/cobra"
)

const defaultConfig = `# WebSocket endpoint delivering chat events
stream_url: "ws://localhost:21213/"
# directory holding the mutable settings stores
# (options.json, filter.json, users.json, voices.json)
data_dir: "data"
# log level: debug, info, warn, error
log_level: "info"

synthesis:
  # concurrent synthesis jobs
  max_in_flight_jobs: 4
  # concurrent API requests per job
  max_chunk_requests: 5
  # per-request HTTP timeout
  request_timeout: "8s"
  # full endpoint sweeps per chunk before giving up
  max_retries: 1
  # base delay between sweeps, grows linearly per attempt
  retry_delay: "200ms"
  # rate limit across all endpoints
  requests_per_minute: 120
  # endpoints are tried in listed order per request;
  # omit this list to use the built-in defaults
  # endpoints:
  #   - name: "weilnet"
  #     url: "https://tiktok-tts.weilnet.workers.dev/api/generation"
  #     response_field: "data"

playback:
  # default tempo multiplier; per-user overrides win
  speed: 1.0
  # output gain, 0.0 to 2.0
  volume: 1.0
`

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Edit the chatvox config file",
	Long:    "\nEdit the chatvox config file. We'll use EDITOR to determine which editor to use. If the config file doesn't exist, it will be created.",
	Example: "chatvox config\nchatvox config --config path/to/config.yml",
	Args:    cobra.NoArgs,
	RunE: func(*cobra.Command, []string) error {
		if err := ensureConfigFile(); err != nil {
			return err
		}

		c, err := editor.Cmd("Chatvox", configFile)
		if err != nil {
			return fmt.Errorf("unable to set config file: %w", err)
		}
		c.Stdin = os.Stdin
		c.Stdout = os.Stdout
		c.Stderr = os.Stderr
		if err := c.Run(); err != nil {
			return fmt.Errorf("unable to run command: %w", err)
		}

		fmt.Println("Wrote config file to:", configFile)
		return nil
	},
}

func ensureConfigFile() error {
	if configFile == "" {
		if existing := resolveConfigFile(); existing != "" {
			configFile = existing
		} else {
			dirs := configDirs()
			if len(dirs) == 0 {
				return errors.New("could not find a configuration directory")
			}
			configFile = filepath.Join(dirs[0], "chatvox.yml")
		}
	}

	if ext := path.Ext(configFile); ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("'%s' is not a supported configuration type: use '%s' or '%s'", ext, ".yaml", ".yml")
	}

	if _, err := os.Stat(configFile); errors.Is(err, fs.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(configFile), 0o700); err != nil {
			return fmt.Errorf("unable create directory: %w", err)
		}

		f, err := os.Create(configFile)
		if err != nil {
			return fmt.Errorf("unable to create config file: %w", err)
		}
		defer func() { _ = f.Close() }()

		if _, err := f.WriteString(defaultConfig); err != nil {
			return fmt.Errorf("unable to write config file: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("unable to stat config file: %w", err)
	}
	return nil
}
