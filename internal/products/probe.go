package products

import "os"

// Prober reports whether a predicted product path exists.
// Implementations must be safe for concurrent use.
type Prober interface {
	Exists(path string) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(path string) bool

func (f ProberFunc) Exists(path string) bool { return f(path) }

// OSProber checks the local filesystem. Any stat error counts as absent.
type OSProber struct{}

func (OSProber) Exists(path string) bool {
	if path == "" {
		return false
	}
	_, err := os.Stat(path)
	return err == nil
}

// Probe returns ref with all three existence flags recomputed by p.
func Probe(p Prober, ref Reference) Reference {
	ref.NBARExists = p.Exists(ref.NBARPath)
	ref.NBARTExists = p.Exists(ref.NBARTPath)
	ref.PQExists = p.Exists(ref.PQPath)
	return ref
}
