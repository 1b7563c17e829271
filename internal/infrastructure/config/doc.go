// Package config handles loading and validating statehub configuration.
//
// This package manages:
//   - Loading configuration from YAML files
//   - Overriding with environment variables
//   - Validation of required fields
//   - Default value handling
//
// Security Considerations:
//   - The API key should be set via API_KEY or STATEHUB_API_KEY, not in the file
//   - Setting a key gates writes; require_auth: false opens them again
//
// Usage:
//
//	cfg, err := config.Load("configs/statehub.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Println(cfg.Addr())
package config
