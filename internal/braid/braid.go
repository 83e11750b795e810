// Package braid holds the shared domain types for the multi-camera 3D
// tracking pipeline: synchronized frame identifiers, raw 2D detections,
// per-frame camera data, tracking parameters, and the row types persisted
// into archive files.
//
// Packages deeper in the pipeline (tracker, coord, archive, modelserver)
// all speak in terms of these types; this package has no dependencies on
// any of them.
package braid

import "log"

// Logf is the logging function used by this package and, by convention,
// by the packages built on top of it that do not carry their own log
// streams. Replace it with SetLogger to redirect or silence output.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logging function. Passing nil installs
// a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(format string, v ...interface{}) {}
		return
	}
	Logf = f
}
