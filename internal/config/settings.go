package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
)

const (
	SettingsFormatTOML SettingsFormat = "toml"
	SettingsFormatJSON SettingsFormat = "json"
)

const (
	DefaultHTTPTimeout       = 30 * time.Second
	DefaultScriptTimeout     = 2 * time.Second
	DefaultHistoryMaxEntries = 200
	DefaultLogLevel          = "warn"
	DefaultLogFormat         = "text"
)

type Settings struct {
	HTTP      HTTPSettings      `json:"http"      toml:"http"`
	Scripts   ScriptSettings    `json:"scripts"   toml:"scripts"`
	Runner    RunnerSettings    `json:"runner"    toml:"runner"`
	History   HistorySettings   `json:"history"   toml:"history"`
	Log       LogSettings       `json:"log"       toml:"log"`
	Telemetry TelemetrySettings `json:"telemetry" toml:"telemetry"`
}

type HTTPSettings struct {
	Timeout         Duration `json:"timeout"          toml:"timeout"`
	FollowRedirects bool     `json:"follow_redirects" toml:"follow_redirects"`
	Insecure        bool     `json:"insecure"         toml:"insecure"`
	Proxy           string   `json:"proxy"            toml:"proxy"`
	MaxBodyBytes    int64    `json:"max_body_bytes"   toml:"max_body_bytes"`
}

type ScriptSettings struct {
	Timeout Duration `json:"timeout" toml:"timeout"`
}

type RunnerSettings struct {
	Delay Duration `json:"delay" toml:"delay"`
}

type HistorySettings struct {
	MaxEntries int  `json:"max_entries" toml:"max_entries"`
	Disabled   bool `json:"disabled"    toml:"disabled"`
}

type LogSettings struct {
	Level  string `json:"level"  toml:"level"`
	Format string `json:"format" toml:"format"`
}

type TelemetrySettings struct {
	Endpoint string            `json:"endpoint" toml:"endpoint"`
	Insecure bool              `json:"insecure" toml:"insecure"`
	Service  string            `json:"service"  toml:"service"`
	Headers  map[string]string `json:"headers"  toml:"headers"`
}

// Duration reads and writes values such as "2s" or "1m30s".
type Duration time.Duration

func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	if parsed < 0 {
		return fmt.Errorf("negative duration %q", raw)
	}
	*d = Duration(parsed)
	return nil
}

type SettingsFormat string
type SettingsHandle struct {
	Path   string
	Format SettingsFormat
}

func DefaultSettings() Settings {
	return Settings{
		HTTP:    HTTPSettings{Timeout: Duration(DefaultHTTPTimeout), FollowRedirects: true},
		Scripts: ScriptSettings{Timeout: Duration(DefaultScriptTimeout)},
		History: HistorySettings{MaxEntries: DefaultHistoryMaxEntries},
		Log:     LogSettings{Level: DefaultLogLevel, Format: DefaultLogFormat},
	}
}

// NormaliseSettings fills zero values with defaults.
func NormaliseSettings(in Settings) Settings {
	out := in
	def := DefaultSettings()
	if out.HTTP.Timeout <= 0 {
		out.HTTP.Timeout = def.HTTP.Timeout
	}
	if out.Scripts.Timeout <= 0 {
		out.Scripts.Timeout = def.Scripts.Timeout
	}
	if out.History.MaxEntries <= 0 {
		out.History.MaxEntries = def.History.MaxEntries
	}
	out.Log.Level = strings.ToLower(strings.TrimSpace(out.Log.Level))
	if out.Log.Level == "" {
		out.Log.Level = def.Log.Level
	}
	out.Log.Format = strings.ToLower(strings.TrimSpace(out.Log.Format))
	if out.Log.Format != "json" {
		out.Log.Format = def.Log.Format
	}
	return out
}

// tries loading TOML first, then JSON, then returns defaults if neither exists.
// parse errors fail immediately but missing files just skip to the next format.
func LoadSettings() (Settings, SettingsHandle, error) {
	dir := Dir()
	candidates := []SettingsHandle{
		{Path: filepath.Join(dir, "settings.toml"), Format: SettingsFormatTOML},
		{Path: filepath.Join(dir, "settings.json"), Format: SettingsFormatJSON},
	}

	var accumulated error
	for _, candidate := range candidates {
		data, err := os.ReadFile(candidate.Path)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			accumulated = errors.Join(
				accumulated,
				fmt.Errorf("read settings %q: %w", candidate.Path, err),
			)
			continue
		}

		settings, err := decodeSettings(data, candidate.Format)
		if err != nil {
			return Settings{}, SettingsHandle{}, fmt.Errorf(
				"parse settings %q: %w",
				candidate.Path,
				err,
			)
		}
		return NormaliseSettings(settings), candidate, nil
	}

	if accumulated != nil {
		return Settings{}, SettingsHandle{}, accumulated
	}

	return DefaultSettings(), SettingsHandle{
		Path:   candidates[0].Path,
		Format: SettingsFormatTOML,
	}, nil
}

// keys missing from the file keep their defaults
func decodeSettings(data []byte, format SettingsFormat) (Settings, error) {
	settings := DefaultSettings()
	switch format {
	case SettingsFormatTOML:
		if err := toml.Unmarshal(data, &settings); err != nil {
			return Settings{}, err
		}
	case SettingsFormatJSON:
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&settings); err != nil {
			return Settings{}, err
		}
	default:
		return Settings{}, fmt.Errorf("unsupported settings format %q", format)
	}
	return settings, nil
}

func SaveSettings(settings Settings, handle SettingsHandle) error {
	settings = NormaliseSettings(settings)
	path := handle.Path
	format := handle.Format
	if path == "" {
		path = filepath.Join(Dir(), "settings.toml")
	}
	if format == "" {
		format = SettingsFormatTOML
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure settings directory: %w", err)
	}

	var (
		data []byte
		err  error
	)

	switch format {
	case SettingsFormatTOML:
		data, err = toml.Marshal(settings)
	case SettingsFormatJSON:
		buffer := &bytes.Buffer{}
		encoder := json.NewEncoder(buffer)
		encoder.SetIndent("", "  ")
		if err = encoder.Encode(settings); err == nil {
			data = buffer.Bytes()
		}
	default:
		return fmt.Errorf("unsupported settings format %q", format)
	}
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}

	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return fmt.Errorf("write settings %q: %w", path, err)
	}
	return nil
}

// write to temp file then rename so readers never see partial data.
func writeFileAtomic(path string, data []byte, perm fs.FileMode) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".restrun-settings-*.tmp")
	if err != nil {
		return err
	}

	tmpPath := tmp.Name()
	defer func() {
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		return errors.Join(err, tmp.Close())
	}
	if err := tmp.Chmod(perm); err != nil {
		return errors.Join(err, tmp.Close())
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
