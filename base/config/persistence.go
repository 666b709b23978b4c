package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ghodss/yaml"

	"github.com/safing/attention/base/log"
)

var (
	configFilePath     string
	configFilePathLock sync.Mutex

	loadedConfigValidationErrors     []*ValidationError
	loadedConfigValidationErrorsLock sync.Mutex
)

// SetConfigFile sets the file used for persisting user set values.
// Files ending in .yaml or .yml are read and written as YAML, everything
// else as JSON. An empty path disables persistence.
func SetConfigFile(filePath string) {
	configFilePathLock.Lock()
	defer configFilePathLock.Unlock()

	configFilePath = filePath
}

func getConfigFile() string {
	configFilePathLock.Lock()
	defer configFilePathLock.Unlock()

	return configFilePath
}

func isYAML(filePath string) bool {
	switch strings.ToLower(filepath.Ext(filePath)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}

// GetLoadedConfigValidationErrors returns the encountered validation errors
// from the last time loading config from disk.
func GetLoadedConfigValidationErrors() []*ValidationError {
	loadedConfigValidationErrorsLock.Lock()
	defer loadedConfigValidationErrorsLock.Unlock()

	return loadedConfigValidationErrors
}

// LoadConfig loads the config file, if one is set, and replaces the user
// defined config with its content. A missing file is not an error.
func LoadConfig(requireValidConfig bool) error {
	filePath := getConfigFile()
	if filePath == "" {
		return nil
	}

	// read config file
	data, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	if isYAML(filePath) {
		data, err = yaml.YAMLToJSON(data)
		if err != nil {
			return fmt.Errorf("failed to parse yaml config: %w", err)
		}
	}

	// convert to map
	newValues, err := JSONToMap(data)
	if err != nil {
		return err
	}

	validationErrors, _ := ReplaceConfig(newValues)
	if requireValidConfig && len(validationErrors) > 0 {
		return fmt.Errorf("encountered %d validation errors during config loading: %w",
			len(validationErrors), JoinValidationErrors(validationErrors))
	}
	for _, vErr := range validationErrors {
		log.Warningf("config: %s", vErr)
	}

	// Save validation errors.
	loadedConfigValidationErrorsLock.Lock()
	defer loadedConfigValidationErrorsLock.Unlock()
	loadedConfigValidationErrors = validationErrors

	return nil
}

// SaveConfig saves the current configuration to file.
// It will acquire a read-lock on the global options registry
// lock and must lock each option!
func SaveConfig() error {
	filePath := getConfigFile()
	if filePath == "" {
		return nil
	}

	optionsLock.RLock()
	defer optionsLock.RUnlock()

	// extract values
	activeValues := make(map[string]interface{})
	for key, option := range options {
		// Keep the option locked until marshaling finished,
		// slices are shared with the value cache.
		option.Lock()
		defer option.Unlock()

		if option.activeValue != nil {
			activeValues[key] = option.activeValue.getData(option)
		}
	}

	// convert to JSON
	data, err := MapToJSON(activeValues)
	if err != nil {
		log.Errorf("config: failed to save config: %s", err)
		return err
	}
	if isYAML(filePath) {
		data, err = yaml.JSONToYAML(data)
		if err != nil {
			log.Errorf("config: failed to save config: %s", err)
			return err
		}
	}

	// write file
	return os.WriteFile(filePath, data, 0o0600)
}

// JSONToMap parses and flattens a hierarchical json object.
func JSONToMap(jsonData []byte) (map[string]interface{}, error) {
	loaded := make(map[string]interface{})
	err := json.Unmarshal(jsonData, &loaded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidJSON, err)
	}

	return Flatten(loaded), nil
}

// Flatten returns a flattened copy of the given hierarchical config.
func Flatten(config map[string]interface{}) (flattenedConfig map[string]interface{}) {
	flattenedConfig = make(map[string]interface{})
	flattenMap(flattenedConfig, config, "")
	return flattenedConfig
}

func flattenMap(rootMap, subMap map[string]interface{}, subKey string) {
	for key, entry := range subMap {
		subbedKey := path.Join(subKey, key)

		if nextSub, ok := entry.(map[string]interface{}); ok {
			flattenMap(rootMap, nextSub, subbedKey)
		} else {
			rootMap[subbedKey] = entry
		}
	}
}

// MapToJSON expands a flattened map and returns it as json.
func MapToJSON(config map[string]interface{}) ([]byte, error) {
	return json.MarshalIndent(Expand(config), "", "  ")
}

// Expand returns a hierarchical copy of the given flattened config.
func Expand(flattenedConfig map[string]interface{}) (config map[string]interface{}) {
	config = make(map[string]interface{})
	for key, entry := range flattenedConfig {
		PutValueIntoHierarchicalConfig(config, key, entry)
	}
	return config
}

// PutValueIntoHierarchicalConfig injects a configuration entry into an hierarchical config map. Conflicting entries will be replaced.
func PutValueIntoHierarchicalConfig(config map[string]interface{}, key string, value interface{}) {
	parts := strings.Split(key, "/")

	// create/check maps for all parts except the last one
	subMap := config
	for _, part := range parts[:len(parts)-1] {
		nextSubMap, ok := subMap[part].(map[string]interface{})
		if !ok {
			nextSubMap = make(map[string]interface{})
			subMap[part] = nextSubMap
		}
		subMap = nextSubMap
	}

	// assign value to last submap
	subMap[parts[len(parts)-1]] = value
}
