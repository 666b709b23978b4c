package config

import (
	"errors"
	"sync"

	"github.com/tevino/abool"

	"github.com/safing/attention/service/mgr"
)

var (
	// ErrUnknownOption is returned when an option key is not registered.
	ErrUnknownOption = errors.New("config option not registered")

	// ErrInvalidJSON is returned by the loaders if they receive invalid json.
	ErrInvalidJSON = errors.New("json string invalid")

	// EventConfigChange is submitted whenever any option value changes.
	EventConfigChange = mgr.NewEventMgr[struct{}]("config change", nil)

	validityFlag     = abool.NewBool(true)
	validityFlagLock sync.RWMutex
)

// getValidityFlag returns a flag that signifies if the configuration has been changed. This flag must not be changed, only read.
func getValidityFlag() *abool.AtomicBool {
	validityFlagLock.RLock()
	defer validityFlagLock.RUnlock()
	return validityFlag
}

// signalChanges marks the configs validtityFlag as dirty and
// triggers a config change event.
func signalChanges() {
	// reset validity flag
	validityFlagLock.Lock()
	validityFlag.SetTo(false)
	validityFlag = abool.NewBool(true)
	validityFlagLock.Unlock()

	EventConfigChange.Submit(struct{}{})
}

// ValidateConfig validates the given configuration and returns all validation
// errors as well as whether the given configuration contains unknown keys.
func ValidateConfig(newValues map[string]interface{}) (validationErrors []*ValidationError, requiresRestart bool, containsUnknown bool) {
	// RLock the options because we are not adding or removing
	// options from the registration but rather only checking the
	// options value which is guarded by the option's lock itself.
	optionsLock.RLock()
	defer optionsLock.RUnlock()

	var checked int
	for key, option := range options {
		newValue, ok := newValues[key]
		if ok {
			checked++

			func() {
				option.Lock()
				defer option.Unlock()

				_, err := validateValue(option, newValue)
				if err != nil {
					validationErrors = append(validationErrors, err)
				}

				if option.RequiresRestart {
					requiresRestart = true
				}
			}()
		}
	}

	return validationErrors, requiresRestart, checked < len(newValues)
}

// ReplaceConfig sets the user defined config.
// Options missing from newValues are reset to their default.
func ReplaceConfig(newValues map[string]interface{}) (validationErrors []*ValidationError, requiresRestart bool) {
	func() {
		optionsLock.RLock()
		defer optionsLock.RUnlock()

		for key, option := range options {
			newValue, ok := newValues[key]

			func() {
				option.Lock()
				defer option.Unlock()

				option.activeValue = nil
				if ok {
					valueCache, err := validateValue(option, newValue)
					if err == nil {
						option.activeValue = valueCache
					} else {
						validationErrors = append(validationErrors, err)
					}
				}

				if option.RequiresRestart {
					requiresRestart = true
				}
			}()
		}
	}()

	signalChanges()

	return validationErrors, requiresRestart
}

// SetConfigOption sets a single value in the user defined config.
// Setting nil resets the option to its default.
func SetConfigOption(key string, value any) error {
	option, err := GetOption(key)
	if err != nil {
		return err
	}

	option.Lock()
	if value == nil {
		option.activeValue = nil
	} else {
		valueCache, vErr := validateValue(option, value)
		if vErr == nil {
			option.activeValue = valueCache
		} else {
			err = vErr
		}
	}

	// Add the "restart pending" annotation if the settings requires a restart.
	if err == nil && option.RequiresRestart {
		option.setAnnotation(RestartPendingAnnotation, true)
	}
	option.Unlock()

	if err != nil {
		return err
	}

	// finalize change, activate triggers
	signalChanges()

	return SaveConfig()
}
