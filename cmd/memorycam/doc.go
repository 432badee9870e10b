// Command memorycam runs the capture pipeline and provides maintenance
// commands for the upload queue, the enrolled identity table, and the
// configuration file.
package main
