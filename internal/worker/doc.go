// Package worker runs the queue consumer loop for one pipeline stage.
//
// A Worker long-polls its stage queue, decodes each work message, and hands
// the referenced asset to a stage runner. Every received message is deleted
// once handled, whether the run succeeded, failed, or the body could not be
// decoded. A stop command ends the loop after it is acknowledged.
//
// Workers hold an advisory lock on their scratch directory so two consumers
// for the same stage cannot share it, and expose a small /healthz endpoint.
package worker
