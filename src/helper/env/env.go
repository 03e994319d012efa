package env

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// GetString extracts a String value from the given environment variable
func GetString(name string, defaultValue ...string) string {
	value := os.Getenv(name)
	if value == "" && len(defaultValue) > 0 {
		value = defaultValue[0]
	}
	return value
}

// MustGetString extracts a String value from the given environment variable
// It panics if the environment variable is not present
func MustGetString(name string) string {
	value := os.Getenv(name)
	if value == "" {
		panic(fmt.Sprintf("%s can't be empty", name))
	}
	return value
}

// GetInt extracts an Int value from the given environment variable
func GetInt(name string, defaultValue ...int) int {
	value, err := strconv.Atoi(os.Getenv(name))
	if err != nil && len(defaultValue) > 0 {
		value = defaultValue[0]
	}
	return value
}

// MustGetInt extracts an Int value from the given environment variable
// It panics if the environment variable is not present or not an integer
func MustGetInt(name string) int {
	value, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		panic(fmt.Sprintf("%s must contain a int value!", name))
	}
	return value
}

// GetBool extracts a Bool value from the given environment variable
func GetBool(name string, defaultValue ...bool) bool {
	value, err := strconv.ParseBool(os.Getenv(name))
	if err != nil && len(defaultValue) > 0 {
		value = defaultValue[0]
	}
	return value
}

// GetSeconds reads an integer number of seconds and returns it as a duration
func GetSeconds(name string, defaultValue ...time.Duration) time.Duration {
	value, err := strconv.Atoi(os.Getenv(name))
	if err != nil {
		if len(defaultValue) > 0 {
			return defaultValue[0]
		}
		return 0
	}
	return time.Duration(value) * time.Second
}

// IsSet reports whether the variable is present and non-empty
func IsSet(name string) bool {
	return os.Getenv(name) != ""
}
