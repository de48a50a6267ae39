// Package server hosts the Fiber HTTP service that plays the role of the
// playback engine boundary for Go players: GET /stream answers byte-range
// reads from the disk cache, from a live loading proxy, or by redirecting to
// the source. It also owns the shared upstream http.Client. Command routes
// (begin/stop/resolve/clear) live in the routes subpackage so callers can
// mount them on the same app.
package server
