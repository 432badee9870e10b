// Package audio records microphone clips.
//
// A Recorder moves between Idle and Recording. StartRecording opens the
// input stream and hands it to one reader goroutine that appends every frame
// in arrival order. StopRecording interrupts the device, waits for the reader
// to drain the last buffered frame, and writes the whole clip as a single
// WAV artifact, so a clip is either complete on disk or absent.
package audio
