// Package password hashes secrets with argon2id for the reference daemon's
// user directory. The authcore engine never sees password hashes; it only
// consumes a CredentialVerifier.
//
// Hashes use the PHC string format:
//
//	$argon2id$v=19$m=<memory>,t=<time>,p=<threads>$<salt>$<hash>
//
// [Hasher.NeedsRehash] reports hashes produced with weaker parameters so
// the caller can re-hash after the next successful verification.
package password
