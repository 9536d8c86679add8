package main

import (
	"context"
	"strings"

	"github.com/goliatone/go-config/config"
	"github.com/goliatone/go-relay/core"
)

const (
	envPrefix    = "RELAY_"
	envDelimiter = "__"
)

// listKeys are comma separated when they arrive as a single string from env.
var listKeys = map[string]bool{
	"ip_allowlist": true,
}

// containerLoader reads an optional config file and overlays RELAY_*
// variables through a go-config container. A double underscore separates
// sections: RELAY_DATABASE__DSN sets database.dsn. Only keys that were
// actually set are returned, so an explicit zero still overrides a default.
type containerLoader struct {
	path string
}

func newContainerLoader(path string) containerLoader {
	return containerLoader{path: strings.TrimSpace(path)}
}

func (l containerLoader) LoadRaw(ctx context.Context) (map[string]any, error) {
	container := config.New(core.DefaultConfig()).
		WithDefaultTransformers(false).
		WithValidation(false)
	if l.path != "" {
		container.WithProvider(config.FileProvider[core.Config](l.path))
	}
	container.WithProvider(config.EnvProvider[core.Config](envPrefix, envDelimiter))
	if err := container.Load(ctx); err != nil {
		return nil, err
	}
	raw := container.K.Raw()
	splitLists(raw)
	return raw, nil
}

func splitLists(section map[string]any) {
	for key, value := range section {
		switch typed := value.(type) {
		case map[string]any:
			splitLists(typed)
		case string:
			if !listKeys[key] {
				continue
			}
			entries := []any{}
			for _, entry := range strings.Split(typed, ",") {
				if entry = strings.TrimSpace(entry); entry != "" {
					entries = append(entries, entry)
				}
			}
			section[key] = entries
		}
	}
}

func loadConfig(ctx context.Context, path string) (core.Config, error) {
	return core.NewCfgxConfigProvider(newContainerLoader(path)).Load(ctx, core.DefaultConfig())
}
