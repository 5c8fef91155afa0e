package main

import (
	"os"
	"path/filepath"
)

// projectRoot resolves the project directory a daemon or client command
// operates against: CLIER_PROJECT_ROOT if set, else the working directory.
func projectRoot() (string, error) {
	if v := os.Getenv("CLIER_PROJECT_ROOT"); v != "" {
		return filepath.Abs(v)
	}
	return os.Getwd()
}

func clierDir(root string) string {
	return filepath.Join(root, ".clier")
}

func socketPath(root string) string {
	return filepath.Join(clierDir(root), "clier.sock")
}

func pidFilePath(root string) string {
	return filepath.Join(clierDir(root), "daemon.pid")
}

func daemonLogDir(root string) string {
	return filepath.Join(clierDir(root), "logs", "daemon")
}

func processLogDir(root, name string) string {
	return filepath.Join(clierDir(root), "logs", name)
}

func configPath() string {
	if configFlagValue != "" {
		return configFlagValue
	}
	if v := os.Getenv("CLIER_CONFIG_PATH"); v != "" {
		return v
	}
	return "clier.yaml"
}
