package spawncache

// DefaultOptions returns the recommended set of options for production use.
// New applies them before any caller options, so callers only pass what they
// want to change.
func DefaultOptions() []Option {
	return []Option{
		WithRequestCoalescing(true),
		WithPersistFallbackVectors(true),
	}
}
