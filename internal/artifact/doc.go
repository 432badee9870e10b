// Package artifact owns the local staging directory where captured images and
// audio wait for upload.
//
// Writes go to a hidden ".part" file that is synced and renamed into place
// only after the producer finishes, so a crash never leaves a truncated file
// under a final name. Leftover part files from an interrupted run are swept
// at startup.
package artifact
