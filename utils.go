package lexiread

import (
	"os"
	"strings"
	"time"
)

func getEnvWithDefault(env, defaultValue string) string {
	v := os.Getenv(env)
	if v == "" {
		return defaultValue
	}
	return v
}

func getEnvDuration(env string, defaultValue time.Duration) (time.Duration, error) {
	v := os.Getenv(env)
	if v == "" {
		return defaultValue, nil
	}
	return time.ParseDuration(v)
}

func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + strings.TrimLeft(path, "/")
}
