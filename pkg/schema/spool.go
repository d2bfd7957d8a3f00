package schema

// GenesisDigest is the sentinel prev_entry_digest for the first entry in a
// capture spool: 64 zero hex characters, deliberately distinct from
// SHA-256("") so a chain can never be mistaken for having an empty-string
// predecessor, spec §3.7.
const GenesisDigest = "0000000000000000000000000000000000000000000000000000000000000000"

// DigestAlgSHA256 is used for payloads ≤ 1 MiB; DigestAlgTruncated1M for
// larger ones, which store only the first-MiB hash and record true size.
const (
	DigestAlgSHA256     = "sha-256"
	DigestAlgTruncated1M = "sha-256:trunc-1m"
)

// TruncationBoundaryBytes is the 1 MiB cutoff past which SpoolEntry digests
// switch to DigestAlgTruncated1M, spec §3.7.
const TruncationBoundaryBytes = 1 << 20

// SpoolEntry is one hash-chained capture record, spec §3.7. EntryDigest is
// always computed over the entry WITH this field still empty — omitempty
// drops it from the canonical hash input; pkg/capture fills it in only on
// the copy it actually persists/emits.
type SpoolEntry struct {
	CapturedAt      string  `json:"captured_at"`
	Action          string  `json:"action"`
	InputDigest     *Digest `json:"input_digest,omitempty"`
	OutputDigest    *Digest `json:"output_digest,omitempty"`
	PrevEntryDigest string  `json:"prev_entry_digest"`
	EntryDigest     string  `json:"entry_digest,omitempty"`
	Sequence        int64   `json:"sequence"`
}

// Digest names the hashing algorithm actually used, per the 1 MiB
// truncation rule.
type Digest struct {
	Alg   string `json:"alg"`
	Value string `json:"value"`
	Bytes int64  `json:"bytes,omitempty"`
}

// NewDigest builds a Digest from the full payload length and its (possibly
// truncated) hash hex string, choosing the alg per the truncation boundary.
func NewDigest(totalBytes int64, hashHex string) Digest {
	if totalBytes <= TruncationBoundaryBytes {
		return Digest{Alg: DigestAlgSHA256, Value: hashHex}
	}
	return Digest{Alg: DigestAlgTruncated1M, Value: hashHex, Bytes: totalBytes}
}
