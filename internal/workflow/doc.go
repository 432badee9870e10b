// Package workflow drains the upload queue.
//
// The Worker loops over reachability check, dequeue, and upload. A job is
// acknowledged only after the backend answered 2xx and its staged files were
// deleted; any other outcome releases the lease so the job returns to the
// head of the queue with its attempt count bumped. There is no retry ceiling:
// an offline device simply accumulates work until the uplink returns.
//
// A job whose primary file is already gone is treated as delivered by an
// earlier run that crashed between deleting and acknowledging, and is
// acknowledged with a warning. On shutdown the daemon calls Drain for one
// final bounded pass.
package workflow
