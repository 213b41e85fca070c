// Package backend registriert alle eingebauten Backends.
package backend

import (
	_ "github.com/ollama/kvworker/ml/backend/emulator"
)
