// Package core defines the shared language of the fmdata packages.
//
// This package contains:
//   - The error taxonomy (ValidationError, SessionError, RemoteError, TransportError)
//   - FileMaker Data API error codes and their classification
//
// The Golden Rule: pkg/core imports only stdlib.
// All other packages depend on core, not the reverse.
package core
