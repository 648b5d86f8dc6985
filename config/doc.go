// Package config handles application configuration.
//
// Configuration is loaded with viper from a config.yaml in the working
// directory or ./config, with sane defaults for every option, and is
// validated before the application starts.
package config
