// Package cryptoutil provides the integrity primitives used when publishing
// and loading archives.
//
// It supports:
//   - KMS-backed signing of archive bytes (ECDSA or RSA-PSS, digest mode)
//   - KMS-backed signature verification (ECDSA P-256/P-384, RSA-PSS with optional PKCS1v15 fallback)
//   - Constant-time hash comparison to prevent timing side-channels
//   - SHA-256 hashing utilities
package cryptoutil
