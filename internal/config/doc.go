// Package config defines settings used by the wakewatch binaries and provides
// helpers to load, validate and save them in YAML format.
//
// A single Config type carries both the sync-server fields (listen address,
// auth secret, alarms file) and the execution-agent fields (server URL, token,
// timezone, alarm script), so one file can configure a whole deployment.
package config
