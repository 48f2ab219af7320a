// Package config loads replog server configuration. Default() is the
// baseline; Load layers a JSON or YAML file and REPLOG_* environment
// variables on top with viper and validates the result.
//
// Example:
//
//	cfg, err := config.Load("/etc/replog.yaml")
//	if err != nil {
//	    return err
//	}
//	rt, err := runtime.Open(runtime.Options{Config: cfg})
package config
