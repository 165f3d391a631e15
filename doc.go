// Package golly is the upload-lifecycle backend: a distributed lock
// service, a lease-backed task scheduler, pluggable object storage and
// scan-service adapters, and the HTTP API tying them together, built on a
// set of reusable lower-level utilities.
//
// Each sub-package is independently importable:
//
//	import "github.com/defra/pafs-backend/rest"       // REST client and server
//	import "github.com/defra/pafs-backend/l3"         // Logging
//	import "github.com/defra/pafs-backend/codec"      // Encoding/decoding (JSON, XML, YAML)
//	import "github.com/defra/pafs-backend/config"     // Application configuration
//	import "github.com/defra/pafs-backend/messaging"  // Generic messaging API
//	import "github.com/defra/pafs-backend/uploads"     // Upload lifecycle engine
//
// For a complete list of packages and documentation, see:
// https://pkg.go.dev/github.com/defra/pafs-backend
package golly
