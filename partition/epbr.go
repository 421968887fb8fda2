package partition

import "fmt"

// epbrSector is one parsed Extended Boot Record sector: a logical
// partition's own entry, and an optional link to the next EPBR in the
// chain. Per spec.md 3.5, the link entry's StartingLBA is relative to the
// chain's base (the extended partition's own starting sector), while the
// logical-partition entry's StartingLBA is relative to this EPBR sector.
type epbrSector struct {
	sectorLBA uint32 // absolute LBA this EPBR sector occupies
	logical   Entry  // first entry: the logical partition itself
	link      Entry  // second entry: link to the next EPBR, or empty
}

func (e epbrSector) hasLink() bool {
	return !e.link.IsEmpty()
}

// readEPBRChain walks the extended partition's EPBR chain starting at
// chainBase (the extended partition's own starting LBA), returning one
// epbrSector per logical partition in chain order.
func readEPBRChain(disk diskReader, chainBase uint32) ([]epbrSector, error) {
	var chain []epbrSector
	nextRelative := uint32(0)

	for {
		sectorLBA := chainBase + nextRelative
		sector, err := disk.readSector(sectorLBA)
		if err != nil {
			return chain, fmt.Errorf("partition: reading EPBR at LBA %d: %w", sectorLBA, err)
		}
		table, err := parseTable(sector)
		if err != nil {
			return chain, fmt.Errorf("partition: parsing EPBR at LBA %d: %w", sectorLBA, err)
		}

		entry := epbrSector{
			sectorLBA: sectorLBA,
			logical:   table.Entries[0],
			link:      table.Entries[1],
		}
		chain = append(chain, entry)

		if !entry.hasLink() {
			return chain, nil
		}
		nextRelative = entry.link.StartingLBA
		if len(chain) > maxEPBRChainLength {
			return chain, fmt.Errorf("partition: EPBR chain exceeds %d entries, probably corrupt", maxEPBRChainLength)
		}
	}
}

// maxEPBRChainLength bounds the EPBR walk so a chain with a cyclic link
// (corrupted disk) can't loop forever.
const maxEPBRChainLength = 1024

// diskReader is the minimal sector-read surface epbr.go and context.go need
// from the underlying disk stream.
type diskReader interface {
	readSector(lba uint32) ([]byte, error)
}
