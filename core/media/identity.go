package media

// Identity addresses one piece of content across queue, cache and storage.
// Two references are the same media iff both fields match exactly.
type Identity struct {
	Platform string `json:"platform"`
	ID       string `json:"id"`
}

// Key returns a stable string form usable as a map or storage key.
func (id Identity) Key() string {
	return id.Platform + "@" + id.ID
}

// IsZero reports whether the identity carries no platform and no id.
func (id Identity) IsZero() bool {
	return id.Platform == "" && id.ID == ""
}

// IsSame reports whether a and b reference the same media.
// A nil reference is never the same as anything.
func IsSame(a, b *MusicItem) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Identity() == b.Identity()
}
