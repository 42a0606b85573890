package config

import (
	"os"
	"path/filepath"
)

// Config keys users can edit with `comfydock config`.
const (
	KeyComfyUIPath             = "comfyui_path"
	KeyDBFilePath              = "db_file_path"
	KeyUserSettingsFilePath    = "user_settings_file_path"
	KeyBackendPort             = "backend_port"
	KeyFrontendHostPort        = "frontend_host_port"
	KeyAllowMultipleContainers = "allow_multiple_containers"
	KeyDockerHubTagsURL        = "dockerhub_tags_url"
)

// Advanced keys, editable but hidden from the default listing.
const (
	KeyLogLevel                = "log_level"
	KeyCheckForUpdates         = "check_for_updates"
	KeyUpdateCheckIntervalDays = "update_check_interval_days"
	KeyLastUpdateCheck         = "last_update_check"
)

// Managed keys, maintained by the tool itself. Not editable, but listable and
// overridable through COMFYDOCK_* environment variables.
const (
	KeyFrontendImage         = "frontend_image"
	KeyFrontendVersion       = "frontend_version"
	KeyFrontendContainerName = "frontend_container_name"
	KeyBackendHost           = "backend_host"
	KeyFrontendContainerPort = "frontend_container_port"
)

// Layer names reported by List for per-key provenance.
const (
	LayerDefault  = "default"
	LayerUserFile = "user file"
	LayerEnv      = "environment"
	LayerCLI      = "cli flag"
)

// defaults returns the built-in values for every user-editable key. The user
// settings file is seeded from this map on first access.
func defaults() map[string]any {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	dir := filepath.Join(home, ".comfydock")
	return map[string]any{
		KeyComfyUIPath:             home,
		KeyDBFilePath:              filepath.Join(dir, "environments.json"),
		KeyUserSettingsFilePath:    filepath.Join(dir, "user.settings.json"),
		KeyBackendPort:             5172,
		KeyFrontendHostPort:        8000,
		KeyAllowMultipleContainers: false,
		KeyDockerHubTagsURL:        "https://hub.docker.com/v2/namespaces/akatzai/repositories/comfydock-env/tags?page_size=100",
		KeyLogLevel:                "INFO",
		KeyCheckForUpdates:         true,
		KeyUpdateCheckIntervalDays: 1,
		KeyLastUpdateCheck:         0,
	}
}

// managedDefaults returns the values for keys the tool manages itself.
func managedDefaults() map[string]any {
	return map[string]any{
		KeyFrontendImage:         "akatzai/comfydock-frontend",
		KeyFrontendVersion:       "0.2.0",
		KeyFrontendContainerName: "comfydock-frontend",
		KeyBackendHost:           "localhost",
		KeyFrontendContainerPort: 8000,
	}
}

// advancedKeys marks which editable keys are hidden unless --all/--advanced.
var advancedKeys = map[string]bool{
	KeyLogLevel:                true,
	KeyCheckForUpdates:         true,
	KeyUpdateCheckIntervalDays: true,
	KeyLastUpdateCheck:         true,
}

// fieldHelp is shown next to each key in `comfydock config --list`.
var fieldHelp = map[string]string{
	KeyComfyUIPath:             "Filesystem path to your local ComfyUI clone or desired location.",
	KeyDBFilePath:              "Where to store known Docker environments (JSON).",
	KeyUserSettingsFilePath:    "Where to store user preferences for ComfyDock/ComfyUI.",
	KeyBackendPort:             "TCP port for the backend API server.",
	KeyFrontendHostPort:        "TCP port on your local machine for accessing the frontend.",
	KeyAllowMultipleContainers: "Whether to allow multiple ComfyUI containers to run at once.",
	KeyDockerHubTagsURL:        "URL to the Docker Hub API endpoint for retrieving available tags.",
	KeyLogLevel:                "Logging verbosity (DEBUG, INFO, WARNING, ERROR, CRITICAL).",
	KeyCheckForUpdates:         "Whether to automatically check for frontend updates.",
	KeyUpdateCheckIntervalDays: "Days between update checks.",
	KeyLastUpdateCheck:         "Unix timestamp of the last update check (internal use).",
	KeyFrontendImage:           "Docker image for the frontend container (managed automatically).",
	KeyFrontendVersion:         "Tag/version for the frontend container (managed automatically).",
	KeyFrontendContainerName:   "Name for the frontend Docker container (managed automatically).",
	KeyBackendHost:             "Host/IP for the backend API server (managed automatically).",
	KeyFrontendContainerPort:   "TCP port inside the frontend container (managed automatically).",
}

// listOrder fixes the display order of keys in List: editable keys first,
// advanced next, managed last.
var listOrder = []string{
	KeyComfyUIPath,
	KeyDBFilePath,
	KeyUserSettingsFilePath,
	KeyBackendPort,
	KeyFrontendHostPort,
	KeyAllowMultipleContainers,
	KeyDockerHubTagsURL,
	KeyLogLevel,
	KeyCheckForUpdates,
	KeyUpdateCheckIntervalDays,
	KeyLastUpdateCheck,
	KeyFrontendImage,
	KeyFrontendVersion,
	KeyFrontendContainerName,
	KeyBackendHost,
	KeyFrontendContainerPort,
}
