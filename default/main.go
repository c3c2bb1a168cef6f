// Package defaults provides embedded default assets.
package defaults

import _ "embed"

//go:embed default_config.toml
var ConfigTOML []byte
