package simref

import "fmt"

// Loader resolves program names to byte images from an in-memory
// registry. Parsing a real program file format is out of scope for this
// module (spec.md's Non-goals); this loader exists so the kernel's SPAWN
// path and tests have a concrete Load to call.
type Loader struct {
	programs map[string][]byte
}

func NewLoader() *Loader {
	return &Loader{programs: make(map[string][]byte)}
}

// Register installs name's image, overwriting any previous one.
func (l *Loader) Register(name string, image []byte) {
	l.programs[name] = image
}

func (l *Loader) Load(name string) ([]byte, error) {
	img, ok := l.programs[name]
	if !ok {
		return nil, fmt.Errorf("simref: no such program %q", name)
	}
	out := make([]byte, len(img))
	copy(out, img)
	return out, nil
}
