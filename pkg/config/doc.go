// Package config loads commissioner settings from a YAML file.
//
// Every key is optional. Load decodes the file over Default, so a file only
// needs to name what it changes. Command-line flags are applied on top by
// the caller before Validate.
package config
