package persist

// Persister handles I/O for a specific state type stored at a fixed path.
type Persister[T any] struct {
	path  string
	codec Codec
}

// NewPersister creates a persister for the file at path using codec.
func NewPersister[T any](path string, codec Codec) *Persister[T] {
	return &Persister[T]{
		path:  path,
		codec: codec,
	}
}

// Path returns the file the persister reads and writes.
func (p *Persister[T]) Path() string {
	return p.path
}

// Exists reports whether the persisted file is present.
func (p *Persister[T]) Exists() bool {
	return Exists(p.path)
}

// Save atomically writes state to the persister's path.
func (p *Persister[T]) Save(state *T) error {
	return SaveFile(p.path, p.codec, state)
}

// Load reads the persisted state. A missing file yields ErrNotExist.
func (p *Persister[T]) Load() (*T, error) {
	var state T

	err := LoadFile(p.path, p.codec, &state)
	if err != nil {
		return nil, err
	}

	return &state, nil
}
