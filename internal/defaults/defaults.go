// Package defaults provides embedded copies of the example
// configuration files for the stead init subcommand.
package defaults

import _ "embed"

//go:generate sh -c "cp ../../examples/config.example.yaml ../../examples/env.example ."

//go:embed config.example.yaml
var ConfigYAML []byte

//go:embed env.example
var EnvExample []byte
