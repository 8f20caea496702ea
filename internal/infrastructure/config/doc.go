// Package config loads the taskingd configuration.
//
// Values are resolved in three layers: built-in defaults, then a YAML file,
// then TASKING_* environment variables. Validate rejects combinations the
// service cannot run with, such as a pgx driver without a DSN or a pool of
// fewer than two connections. Secrets (the PostgreSQL DSN, broker and InfluxDB
// credentials) are best supplied through the environment.
//
//	cfg, err := config.Load("/etc/taskingd/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
