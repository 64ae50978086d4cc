// Package data carries embedded defaults that describe the upstream
// service's observable shapes. They live in data files rather than code
// so a vendor-side change is a one-line edit.
package data

import _ "embed"

//go:embed markers.yaml
var Markers []byte
