// Package s3 provides an S3 implementation of the blobstore.BlobStore
// interface, used for sealed audit segments and engine snapshots.
//
// # Usage
//
//	client := s3.NewFromConfig(cfg)
//	store := s3blob.NewStore(client, "my-bucket", "resolver/")
//
// # Features
//
//   - Range reads for partial segment fetches
//   - Streaming multipart uploads with CRC32C integrity validation
//   - Automatic pagination for listing
//   - Configurable prefix for multi-tenant isolation
//   - Optional DynamoDB anchoring of the audit chain head
package s3
