// Package camera captures still frames and runs the face-presence gate that
// decides when a snapshot is worth uploading.
//
// A Capturer probes the camera at a fixed cadence into a scratch file that is
// overwritten every cycle and never uploaded. When the probe shows at least
// one face and the snapshot cooldown has elapsed, a separate full frame is
// captured into the artifact store, tagged with the identities recognised in
// it, and enqueued for upload.
package camera
