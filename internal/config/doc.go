// Package config handles YAML configuration loading with environment variable substitution.
//
// Configuration files support ${VAR} syntax for environment variable interpolation.
// Symbols may be grouped: a node with a nested symbols list passes its market,
// time and start down to every symbol below it.
package config
