// Package frame defines the shared domain types and ports of the ingestion pipeline.
//
// A Frame is one image's pixel (or pre-encoded) bytes lifted out of an ingress payload. Frames travel from the
// ingress adapter through a bounded queue to the persistence workers, which turn each one into an Artifact.
package frame
