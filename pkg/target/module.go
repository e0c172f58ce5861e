package target

// Module is a binary image mapped into a process.
type Module struct {
	Name string // display name, usually the file base name
	Path string // path of the image on the agent host
	Base uint64 // load bias added to link-time addresses
	Size uint64 // size of the mapped range starting at Base
}

// Contains reports whether addr lies in [Base, Base+Size).
func (m Module) Contains(addr uint64) bool {
	return addr >= m.Base && addr-m.Base < m.Size
}
