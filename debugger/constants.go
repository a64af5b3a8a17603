package debugger

// Memory Display Constants
const (
	// MemoryDisplayRows is the number of rows to show in the memory hex dump view
	MemoryDisplayRows = 16

	// MemoryDisplayBytesPerRow is the number of bytes displayed per row
	MemoryDisplayBytesPerRow = 16
)
