package embedding

// Handle refers to an embedding set that is either already in memory or
// still in a blob store. Resolve it once through a Resolver before scoring.
type Handle struct {
	matrix *Matrix
	key    string
}

// Loaded wraps an in-memory matrix.
func Loaded(m *Matrix) Handle {
	return Handle{matrix: m}
}

// OnDisk refers to an embedding file by blob-store key.
func OnDisk(key string) Handle {
	return Handle{key: key}
}

// IsLoaded reports whether the handle already holds a matrix.
func (h Handle) IsLoaded() bool { return h.matrix != nil }

// Key returns the blob-store key, or "" for loaded handles.
func (h Handle) Key() string { return h.key }

// Matrix returns the in-memory matrix, or nil for on-disk handles.
func (h Handle) Matrix() *Matrix { return h.matrix }

func (h Handle) String() string {
	if h.matrix != nil {
		return "<loaded>"
	}
	return h.key
}
