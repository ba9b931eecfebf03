// Package publish ships archives to S3 and loads them back.
//
// A published archive is stored content-addressed at
// s3://{bucket}/{prefix}/{sha256}.war with an optional KMS signature beside
// it ({sha256}.war.sig). The SSM parameter holds the hash of the current
// release, so publishing is: upload, sign, then flip the pointer.
//
// Loader reverses this and verifies the digest (and signature, when a
// verifier is configured) before importing. Watcher polls the SSM pointer
// and hot-swaps the Manager's active Snapshot when it changes.
package publish
