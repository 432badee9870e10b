// Package chunker pairs images with the audio chunk recorded around them.
//
// Audio is recorded in back-to-back chunks while images are captured on a
// shorter period into a shared Buffer. When a chunk completes the Matcher
// takes every buffered image up to the chunk end in one locked swap, sends
// those inside the closed interval [Start, End] as a single batch job, and
// sends anything older as standalone image jobs. Later images wait for the
// next chunk.
package chunker
