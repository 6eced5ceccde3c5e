// Package config loads the live view client configuration from a YAML file
// with environment overrides, and derives the NVR endpoint URLs from it.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Camera is one camera stream to view.
type Camera struct {
	Name   string `yaml:"name"`
	UUID   string `yaml:"uuid"`
	Stream string `yaml:"stream"`
}

// Config is the client configuration.
type Config struct {
	Server             string   `yaml:"server"`
	Cameras            []Camera `yaml:"cameras"`
	OutputDir          string   `yaml:"output_dir"`
	APIAddr            string   `yaml:"api_addr"`
	HTTP3              bool     `yaml:"http3"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
	Codecs             []string `yaml:"codecs"`
	Debug              bool     `yaml:"debug"`
}

// Defaults applied by Load for unset fields.
const (
	DefaultOutputDir = "recordings"
	DefaultAPIAddr   = "127.0.0.1:4480"
	DefaultStream    = "main"
)

// Load reads the YAML file at path, applies defaults, then environment
// overrides. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.Server = envOr("NVR_URL", cfg.Server)
	cfg.OutputDir = envOr("OUTPUT_DIR", cfg.OutputDir)
	cfg.APIAddr = envOr("API_ADDR", cfg.APIAddr)
	if os.Getenv("DEBUG") != "" {
		cfg.Debug = true
	}

	if cfg.OutputDir == "" {
		cfg.OutputDir = DefaultOutputDir
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = DefaultAPIAddr
	}
	for i := range cfg.Cameras {
		if cfg.Cameras[i].Stream == "" {
			cfg.Cameras[i].Stream = DefaultStream
		}
		if cfg.Cameras[i].Name == "" {
			cfg.Cameras[i].Name = cfg.Cameras[i].UUID
		}
	}
	return cfg, nil
}

// Validate reports the first configuration problem found.
func (c *Config) Validate() error {
	if c.Server == "" {
		return errors.New("config: server is required")
	}
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("config: server: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: server scheme %q is not http or https", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("config: server has no host")
	}
	if c.HTTP3 && u.Scheme != "https" {
		return errors.New("config: http3 requires an https server")
	}
	if len(c.Cameras) == 0 {
		return errors.New("config: no cameras configured")
	}
	seen := make(map[string]bool, len(c.Cameras))
	for _, cam := range c.Cameras {
		if cam.UUID == "" {
			return fmt.Errorf("config: camera %q has no uuid", cam.Name)
		}
		if cam.Stream != "main" && cam.Stream != "sub" {
			return fmt.Errorf("config: camera %q: stream %q is not main or sub", cam.Name, cam.Stream)
		}
		if seen[cam.Name] {
			return fmt.Errorf("config: duplicate camera name %q", cam.Name)
		}
		if cam.Name != filepath.Base(cam.Name) || cam.Name == "." || cam.Name == ".." {
			return fmt.Errorf("config: camera name %q is not a plain file name", cam.Name)
		}
		seen[cam.Name] = true
	}
	return nil
}

// LiveURL returns the WebSocket URL of a camera's live stream. The socket
// scheme follows the server's: https gives wss, http gives ws.
func (c *Config) LiveURL(cam Camera) (string, error) {
	u, err := url.Parse(c.Server)
	if err != nil {
		return "", fmt.Errorf("config: server: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("config: server scheme %q is not http or https", u.Scheme)
	}
	return u.JoinPath("api", "cameras", cam.UUID, cam.Stream, "live.m4s").String(), nil
}

// OutputPath returns the recording file for a camera.
func (c *Config) OutputPath(cam Camera) string {
	return filepath.Join(c.OutputDir, cam.Name+".mp4")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
