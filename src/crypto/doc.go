// Package crypto holds the hashing and encoding helpers shared by the pool
// client. Key material lives in the keys sub-package and BLS multi-signatures
// in the bls sub-package.
package crypto
