// Package daemon coordinates the long-running memorycam process.
//
// It wires configuration, the queue store, the capture producers, and the
// upload worker into a single lifecycle with flock-based locking to prevent
// multiple instances sharing one queue. Start recovers leases left by a
// crashed run and sweeps unfinished staging files before any producer runs.
// Stop cancels the producers, lets them finish their in-flight artifacts,
// and gives the upload worker one bounded drain before releasing the lock.
//
// Producers that die on a device error are restarted when udev reports the
// matching device subsystem again. An optional HTTP listener serves
// Prometheus metrics and a JSON status view.
package daemon
