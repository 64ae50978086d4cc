// Package all is a meta-package that imports every store backend so
// their factories register themselves.
package all

import (
	_ "github.com/ipsleuth/ipsleuth/lib/store/bbolt"
	_ "github.com/ipsleuth/ipsleuth/lib/store/memory"
	_ "github.com/ipsleuth/ipsleuth/lib/store/valkey"
)
