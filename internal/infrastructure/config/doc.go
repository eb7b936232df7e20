// Package config handles loading and validating Gray Logic Access configuration.
//
// One YAML file serves both binaries. Load applies defaults, the file and
// GRAYLOGIC_* environment overrides, then checks the shared sections; the
// access server and the badge station each call their own role validator.
//
// Security Considerations:
//   - The retention key, station token and MQTT/InfluxDB credentials should
//     be supplied through environment variables
//   - The config file should have restricted permissions (0600)
//
// Usage:
//
//	cfg, err := config.Load("configs/access.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	if err := cfg.ValidateServer(); err != nil {
//	    log.Fatal(err)
//	}
package config
