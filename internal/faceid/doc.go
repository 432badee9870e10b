// Package faceid matches face embeddings against a table of enrolled
// identities and wraps the external helper that extracts embeddings from an
// image.
//
// An Identifier is built once from a Table and is safe for concurrent use;
// its data never changes after construction. A face is reported as a known
// identity only when its Euclidean distance to the nearest enrolled embedding
// is strictly below the threshold. Equal distances resolve to the identity
// that appears first in the table.
package faceid
