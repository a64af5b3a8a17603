package machine

// ReplaceFlashDrive swaps the backing image for the flash drive at
// (start, length) with newData. The replaced region is marked fully
// dirty so the next UpdateMerkleTree rehashes it from scratch.
func (m *Machine) ReplaceFlashDrive(start, length uint64, newData []byte) error {
	if err := m.table.Replace(start, length, newData); err != nil {
		return newError(InvalidArgument, "%v", err)
	}
	for i := range m.cfg.FlashDrives {
		if m.cfg.FlashDrives[i].Start == start && m.cfg.FlashDrives[i].Length == length {
			m.cfg.FlashDrives[i].Image = newData
		}
	}
	m.UpdateMerkleTree()
	return nil
}
