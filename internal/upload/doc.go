// Package upload sends queued jobs to the backend as multipart POSTs.
//
// Each job kind maps to one endpoint under the configured base URL:
// /upload/image, /upload/audio and /upload/batch. File bodies are streamed
// from the staging directory rather than buffered, and only a 2xx status
// counts as delivery.
package upload
