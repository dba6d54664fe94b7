// Package preflight provides readiness checks for the binaries, directories,
// and inference endpoints a worker depends on.
//
// Workers call RunAll before consuming their queue and refuse to start when
// a check fails. The CLI "derbyflow doctor" command prints the same results.
package preflight
