package main

import (
	"os"
	"strings"
)

func applyEnvFallback(target *string, envKey string) {
	if target == nil || *target != "" {
		return
	}
	if val := os.Getenv(envKey); val != "" {
		*target = val
	}
}

func overrideString(dst *string, flagValue string) {
	if flagValue != "" {
		*dst = flagValue
	}
}

func splitArgs(s string) []string {
	return strings.Fields(s)
}
