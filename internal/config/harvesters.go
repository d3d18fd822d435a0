package config

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/fsnotify/fsnotify"

	"github.com/jdp1ps/svp-harvester-go/internal/harvester"
)

// harvestersFile is the on-disk shape of harvesters.toml: a flat list
// under a `[[harvester]]` array-of-tables header.
type harvestersFile struct {
	Harvester []HarvesterSpec `toml:"harvester"`
}

// LoadHarvesters decodes path (a harvesters.toml file) into the
// `harvesters` registry list.
func LoadHarvesters(path string) ([]HarvesterSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read harvesters file: %w", err)
	}
	var f harvestersFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse harvesters file: %w", err)
	}
	return f.Harvester, nil
}

// ToRegistryConfigs converts specs to the harvester.Config list
// internal/harvester.Registry.InstantiateRelevant/ValidateConfigNames
// consume; Module/Class are dropped here since the registry dispatches by
// Name alone (see HarvesterSpec's doc comment).
func ToRegistryConfigs(specs []HarvesterSpec) []harvester.Config {
	out := make([]harvester.Config, len(specs))
	for i, s := range specs {
		out[i] = harvester.Config{Name: s.Name, Options: s.Options}
	}
	return out
}

// WatchHarvesters re-reads path on every filesystem write and calls onChange
// with the newly decoded list; decode errors are logged and the previous
// list is left in effect, so a bad edit never takes a running daemon down.
// The returned func stops the watch.
func WatchHarvesters(path string, logger *slog.Logger, onChange func([]HarvesterSpec)) (func() error, error) {
	if logger == nil {
		logger = slog.Default()
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create harvesters file watcher: %w", err)
	}
	if err := watcher.Add(path); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watch harvesters file: %w", err)
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				specs, err := LoadHarvesters(path)
				if err != nil {
					logger.Error("reload harvesters file failed, keeping previous configuration", "path", path, "error", err)
					continue
				}
				logger.Info("harvesters file reloaded", "path", path, "count", len(specs))
				onChange(specs)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Error("harvesters file watcher error", "error", err)
			}
		}
	}()

	return watcher.Close, nil
}
