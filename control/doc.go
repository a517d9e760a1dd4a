// Package control
// Author: momentics <momentics@gmail.com>
//
// Operator-facing configuration and metrics for hioload-loop daemons.
package control
