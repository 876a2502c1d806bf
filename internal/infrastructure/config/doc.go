// Package config handles loading and validating graysim configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables (GRAYSIM_*)
//   - Validation of required fields
//   - Default value handling
//
// Process configuration is separate from scenario parameters: this package
// says where to persist, listen and publish; the scenario file says what to
// simulate.
//
// Usage:
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.API.Port)
package config
