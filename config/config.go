// Package config resolves layered ComfyDock configuration: built-in defaults,
// the user settings file at ~/.comfydock/config.json, COMFYDOCK_* environment
// variables for managed keys, and explicit CLI overrides, in that order of
// precedence.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Overrides is the sparse highest-precedence layer supplied by CLI flags.
type Overrides map[string]any

// Resolved is the fully merged configuration for one CLI invocation. It is
// constructed once by Resolve and never mutated afterwards.
type Resolved struct {
	ComfyUIPath             string
	DBFilePath              string
	UserSettingsFilePath    string
	BackendPort             int
	FrontendHostPort        int
	AllowMultipleContainers bool
	DockerHubTagsURL        string
	LogLevel                string
	CheckForUpdates         bool
	UpdateCheckIntervalDays int
	LastUpdateCheck         int64

	FrontendImage         string
	FrontendVersion       string
	FrontendContainerName string
	BackendHost           string
	FrontendContainerPort int

	origins map[string]string
}

// FrontendImageRef returns the full image reference for the frontend container.
func (r *Resolved) FrontendImageRef() string {
	return r.FrontendImage + ":" + r.FrontendVersion
}

// Origin reports which layer supplied the value for key.
func (r *Resolved) Origin(key string) string {
	if src, ok := r.origins[key]; ok {
		return src
	}
	return LayerDefault
}

// Entry is one resolved key for display, annotated with the layer that
// supplied its value.
type Entry struct {
	Key      string
	Value    any
	Source   string
	Help     string
	Advanced bool
	Managed  bool
}

// UnknownKeyError reports a key that is not part of the defaults schema.
type UnknownKeyError struct {
	Key string
}

func (e *UnknownKeyError) Error() string {
	return fmt.Sprintf("%q is not a recognized config field", e.Key)
}

// ManagedKeyError reports an attempt to set a key the tool manages itself.
type ManagedKeyError struct {
	Key string
}

func (e *ManagedKeyError) Error() string {
	return fmt.Sprintf("%q is managed automatically and cannot be changed", e.Key)
}

// Resolver reads and writes the user settings file under Dir.
type Resolver struct {
	Dir    string
	Logger *slog.Logger
}

// DefaultDir returns ~/.comfydock, the fixed per-user config location.
func DefaultDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".comfydock"
	}
	return filepath.Join(home, ".comfydock")
}

// NewResolver creates a resolver over the given config directory. An empty
// dir selects the default per-user location.
func NewResolver(dir string, logger *slog.Logger) *Resolver {
	if dir == "" {
		dir = DefaultDir()
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Resolver{Dir: dir, Logger: logger}
}

func (r *Resolver) filePath() string {
	return filepath.Join(r.Dir, "config.json")
}

// FilePath reports where the user settings file lives.
func (r *Resolver) FilePath() string { return r.filePath() }

// Resolve merges defaults, the user settings file, environment overrides for
// managed keys, and CLI overrides into one immutable Resolved value. The user
// file is created with defaults on first access. A malformed user file is not
// fatal: it degrades to defaults with a logged warning.
func (r *Resolver) Resolve(overrides Overrides) (*Resolved, error) {
	merged := map[string]any{}
	origins := map[string]string{}

	for k, v := range defaults() {
		merged[k] = v
		origins[k] = LayerDefault
	}
	managed := managedDefaults()
	for k, v := range managed {
		merged[k] = v
		origins[k] = LayerDefault
	}

	user, err := r.loadUserFile()
	if err != nil {
		r.Logger.Warn("settings file is malformed, falling back to defaults",
			"path", r.filePath(), "error", err)
	}
	for k, v := range user {
		if _, known := merged[k]; !known {
			continue // ignore stale keys left behind by older versions
		}
		if _, isManaged := managed[k]; isManaged {
			continue // managed keys are never read from the user file
		}
		// A value equal to the default is still the default for provenance
		// purposes: the file is seeded with defaults on first access.
		if !equalValue(merged[k], v) {
			origins[k] = LayerUserFile
		}
		merged[k] = v
	}

	// Environment overrides apply to managed keys only, mirroring the
	// COMFYDOCK_<KEY> escape hatch for image/container name pinning.
	for k := range managed {
		env := "COMFYDOCK_" + strings.ToUpper(k)
		if val, ok := os.LookupEnv(env); ok {
			merged[k] = ConvertValue(val)
			origins[k] = LayerEnv
		}
	}

	for k, v := range overrides {
		if _, known := merged[k]; !known {
			return nil, &UnknownKeyError{Key: k}
		}
		if v == nil {
			continue
		}
		merged[k] = v
		origins[k] = LayerCLI
	}

	res, err := fromMap(merged)
	if err != nil {
		return nil, err
	}
	res.origins = origins
	return res, nil
}

// Set validates key against the schema, coerces value the same way CLI input
// is coerced, and persists it to the user settings file. Setting an already
// current value rewrites nothing.
func (r *Resolver) Set(key, value string) error {
	if _, managed := managedDefaults()[key]; managed {
		return &ManagedKeyError{Key: key}
	}
	def := defaults()
	if _, ok := def[key]; !ok {
		return &UnknownKeyError{Key: key}
	}

	coerced := ConvertValue(value)
	if key == KeyLogLevel {
		lv := strings.ToUpper(value)
		switch lv {
		case "DEBUG", "INFO", "WARNING", "ERROR", "CRITICAL":
			coerced = lv
		default:
			return fmt.Errorf("%q is not a valid log level (DEBUG, INFO, WARNING, ERROR, CRITICAL)", value)
		}
	}

	user, err := r.loadUserFile()
	if err != nil {
		r.Logger.Warn("settings file is malformed, rewriting from defaults",
			"path", r.filePath(), "error", err)
		user = map[string]any{}
		for k, v := range def {
			user[k] = v
		}
	}
	if cur, ok := user[key]; ok && equalValue(cur, coerced) {
		return nil
	}
	user[key] = coerced
	return r.writeUserFile(user)
}

// List returns every resolved key in display order with its value, the layer
// that supplied it, and help text.
func (r *Resolver) List(overrides Overrides) ([]Entry, error) {
	res, err := r.Resolve(overrides)
	if err != nil {
		return nil, err
	}
	merged := res.toMap()
	managed := managedDefaults()

	entries := make([]Entry, 0, len(listOrder))
	for _, k := range listOrder {
		_, isManaged := managed[k]
		entries = append(entries, Entry{
			Key:      k,
			Value:    merged[k],
			Source:   res.Origin(k),
			Help:     fieldHelp[k],
			Advanced: advancedKeys[k],
			Managed:  isManaged,
		})
	}
	return entries, nil
}

// loadUserFile reads the settings file, creating it with defaults (and its
// parent directory) on first access. Editable keys missing from an existing
// file are filled in and written back, so upgrades pick up new settings.
func (r *Resolver) loadUserFile() (map[string]any, error) {
	path := r.filePath()
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		seeded := defaults()
		if werr := r.writeUserFile(seeded); werr != nil {
			return nil, werr
		}
		return seeded, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	var user map[string]any
	if err := json.Unmarshal(raw, &user); err != nil {
		return nil, fmt.Errorf("failed to parse settings file: %w", err)
	}

	updated := false
	for k, v := range defaults() {
		if _, ok := user[k]; !ok {
			user[k] = v
			updated = true
		}
	}
	if updated {
		if err := r.writeUserFile(user); err != nil {
			return user, err
		}
	}
	return user, nil
}

// writeUserFile persists the editable subset atomically: write to a temp file
// in the same directory, then rename over the target.
func (r *Resolver) writeUserFile(user map[string]any) error {
	if err := os.MkdirAll(r.Dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	def := defaults()
	filtered := make(map[string]any, len(def))
	for k, v := range user {
		if _, ok := def[k]; ok {
			filtered[k] = v
		}
	}

	data, err := json.MarshalIndent(filtered, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to encode settings: %w", err)
	}
	data = append(data, '\n')

	tmp, err := os.CreateTemp(r.Dir, ".config-*.json")
	if err != nil {
		return fmt.Errorf("failed to create temp settings file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write settings: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to set settings file mode: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp settings file: %w", err)
	}
	if err := os.Rename(tmpName, r.filePath()); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace settings file: %w", err)
	}
	return nil
}

// ConvertValue coerces CLI/env string input to bool or int where it parses as
// one, otherwise leaves it a string.
func ConvertValue(val string) any {
	switch strings.ToLower(val) {
	case "true":
		return true
	case "false":
		return false
	}
	if n, err := strconv.Atoi(val); err == nil {
		return n
	}
	return val
}

// equalValue compares a value decoded from JSON (where numbers arrive as
// float64) with a freshly coerced one.
func equalValue(a, b any) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func fromMap(m map[string]any) (*Resolved, error) {
	res := &Resolved{}
	var err error
	get := func(key string) string { return asString(m[key]) }

	res.ComfyUIPath = get(KeyComfyUIPath)
	res.DBFilePath = get(KeyDBFilePath)
	res.UserSettingsFilePath = get(KeyUserSettingsFilePath)
	res.DockerHubTagsURL = get(KeyDockerHubTagsURL)
	res.LogLevel = strings.ToUpper(get(KeyLogLevel))
	res.FrontendImage = get(KeyFrontendImage)
	res.FrontendVersion = get(KeyFrontendVersion)
	res.FrontendContainerName = get(KeyFrontendContainerName)
	res.BackendHost = get(KeyBackendHost)

	if res.BackendPort, err = asInt(m[KeyBackendPort]); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyBackendPort, err)
	}
	if res.FrontendHostPort, err = asInt(m[KeyFrontendHostPort]); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyFrontendHostPort, err)
	}
	if res.FrontendContainerPort, err = asInt(m[KeyFrontendContainerPort]); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyFrontendContainerPort, err)
	}
	if res.UpdateCheckIntervalDays, err = asInt(m[KeyUpdateCheckIntervalDays]); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyUpdateCheckIntervalDays, err)
	}
	last, err := asInt(m[KeyLastUpdateCheck])
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyLastUpdateCheck, err)
	}
	res.LastUpdateCheck = int64(last)

	if res.AllowMultipleContainers, err = asBool(m[KeyAllowMultipleContainers]); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyAllowMultipleContainers, err)
	}
	if res.CheckForUpdates, err = asBool(m[KeyCheckForUpdates]); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", KeyCheckForUpdates, err)
	}
	return res, nil
}

func (r *Resolved) toMap() map[string]any {
	return map[string]any{
		KeyComfyUIPath:             r.ComfyUIPath,
		KeyDBFilePath:              r.DBFilePath,
		KeyUserSettingsFilePath:    r.UserSettingsFilePath,
		KeyBackendPort:             r.BackendPort,
		KeyFrontendHostPort:        r.FrontendHostPort,
		KeyAllowMultipleContainers: r.AllowMultipleContainers,
		KeyDockerHubTagsURL:        r.DockerHubTagsURL,
		KeyLogLevel:                r.LogLevel,
		KeyCheckForUpdates:         r.CheckForUpdates,
		KeyUpdateCheckIntervalDays: r.UpdateCheckIntervalDays,
		KeyLastUpdateCheck:         r.LastUpdateCheck,
		KeyFrontendImage:           r.FrontendImage,
		KeyFrontendVersion:         r.FrontendVersion,
		KeyFrontendContainerName:   r.FrontendContainerName,
		KeyBackendHost:             r.BackendHost,
		KeyFrontendContainerPort:   r.FrontendContainerPort,
	}
}

func asString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func asInt(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		return int(n), nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("expected a number, got %T", v)
	}
}

func asBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(strings.ToLower(b))
	default:
		return false, fmt.Errorf("expected a boolean, got %T", v)
	}
}
