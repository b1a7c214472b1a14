package snapshot

// AnchorRecord maps a published batch to where its artifacts landed: the
// primary store locations and the two ledger transactions that anchor them.
// Written once per batch after a successful publication, never deleted.
type AnchorRecord struct {
	Batch            uint64 `json:"batch"`
	ManifestLocation string `json:"manifest_location"`
	BlobLocation     string `json:"blob_location"`
	ManifestTx       string `json:"manifest_tx"`
	BlobTx           string `json:"blob_tx"`
	PublishedAt      string `json:"published_at"`
}
