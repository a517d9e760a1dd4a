// Package pool
// Author: momentics <momentics@gmail.com>
//
// Buffer pooling for hioload-loop. Receive buffers are reused across
// connection tasks so a busy echo loop allocates only at warm-up.
package pool
