package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"toolfleet/pkg/logging"

	"gopkg.in/yaml.v3"
)

const (
	userConfigDir  = ".config/toolfleet"
	configFileName = "config.yaml"
	workersDirName = "workers"
)

func GetDefaultConfigPathOrPanic() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		panic(fmt.Errorf("could not determine user config directory: %w", err))
	}

	return filepath.Join(homeDir, userConfigDir)
}

// WorkersDir returns the directory holding one-descriptor-per-file worker definitions.
func WorkersDir(configPath string) string {
	return filepath.Join(configPath, workersDirName)
}

// LoadConfig loads configuration from a single directory containing config.yaml
// and an optional workers/ directory. Inline workers come first, followed by
// workers/ files in lexical order. The result is validated; any error aborts.
func LoadConfig(configPath string) (FleetConfig, error) {
	configFilePath := filepath.Join(configPath, configFileName)
	config := GetDefaultConfig()

	data, err := os.ReadFile(configFilePath)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logging.Info("ConfigLoader", "No config.yaml found at %s, using defaults", configFilePath)
	case err != nil:
		return FleetConfig{}, fmt.Errorf("error reading %s: %w", configFilePath, err)
	default:
		if err := decodeStrict(data, &config); err != nil {
			return FleetConfig{}, fmt.Errorf("error loading config from %s: %w", configFilePath, err)
		}
		logging.Info("ConfigLoader", "Loaded configuration from %s", configFilePath)
	}

	for i := range config.Workers {
		config.Workers[i].Source = configFilePath
	}

	fileWorkers, err := LoadWorkerDescriptors(WorkersDir(configPath))
	if err != nil {
		return FleetConfig{}, err
	}
	config.Workers = append(config.Workers, fileWorkers...)

	for i := range config.Workers {
		config.Workers[i] = config.Workers[i].WithDefaults()
	}

	if err := config.Validate(); err != nil {
		return FleetConfig{}, FormatValidationError("configuration", configPath, err)
	}

	logging.Info("ConfigLoader", "Fleet configuration has %d workers", len(config.Workers))
	return config, nil
}

// LoadWorkerDescriptors reads every *.yaml / *.yml file in dir as a single
// WorkerDescriptor. A missing directory yields no descriptors. All file
// errors are collected before returning.
func LoadWorkerDescriptors(dir string) ([]WorkerDescriptor, error) {
	files, err := listYAMLFiles(dir)
	if err != nil {
		return nil, err
	}

	var descriptors []WorkerDescriptor
	errs := NewConfigurationErrorCollection()

	for _, path := range files {
		d, err := LoadWorkerDescriptorFile(path)
		if err != nil {
			var ce ConfigurationError
			if errors.As(err, &ce) {
				errs.Add(ce)
			} else {
				errs.AddError(path, filepath.Base(path), ErrorTypeIO, err.Error())
			}
			continue
		}
		descriptors = append(descriptors, d)
	}

	if errs.HasErrors() {
		logging.Error("ConfigLoader", errs, "Failed to load worker descriptors:\n%s", errs.GetDetailedReport())
		return nil, errs
	}
	return descriptors, nil
}

// LoadWorkerDescriptorFile parses one worker descriptor file.
func LoadWorkerDescriptorFile(path string) (WorkerDescriptor, error) {
	var d WorkerDescriptor

	data, err := os.ReadFile(path)
	if err != nil {
		return d, ConfigurationError{
			FilePath:  path,
			FileName:  filepath.Base(path),
			ErrorType: ErrorTypeIO,
			Message:   err.Error(),
		}
	}

	if err := decodeStrict(data, &d); err != nil {
		return d, ConfigurationError{
			FilePath:    path,
			FileName:    filepath.Base(path),
			ErrorType:   ErrorTypeParse,
			Message:     "invalid worker descriptor",
			Details:     err.Error(),
			Suggestions: []string{"each file under workers/ must hold exactly one descriptor mapping"},
		}
	}

	d.Source = path
	return d, nil
}

func decodeStrict(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	err := dec.Decode(out)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func listYAMLFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !IsYAMLFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// IsYAMLFile reports whether name has a YAML extension.
func IsYAMLFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
