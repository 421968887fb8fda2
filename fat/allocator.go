package fat

import (
	"syscall"

	"github.com/arkavault/voltfs"
)

// ClusterAllocator hands out and reclaims clusters against a TableAccessor.
// It keeps a running free-cluster count and a "next free" hint the way
// FAT32's FSInfo sector does, so repeated allocations don't rescan the whole
// table from cluster 2 every time; FAT12/16 volumes get the same behavior in
// memory even though they have no FSInfo sector to persist it in.
type ClusterAllocator struct {
	table        *TableAccessor
	firstCluster ClusterID
	lastCluster  ClusterID
	freeCount    uint32
	nextFree     ClusterID
}

// NewClusterAllocator builds an allocator over the data-bearing cluster
// range [2, 2+totalClusters). If fsInfo is non-nil and its FreeCount/NextFree
// fields aren't the "unknown" sentinel (0xFFFFFFFF), they seed the allocator
// instead of forcing a full-table scan.
func NewClusterAllocator(table *TableAccessor, totalClusters uint, fsInfo *FSInfo) (*ClusterAllocator, error) {
	alloc := &ClusterAllocator{
		table:        table,
		firstCluster: 2,
		lastCluster:  ClusterID(2 + totalClusters - 1),
		nextFree:     2,
	}

	if fsInfo != nil && fsInfo.FreeCount != 0xFFFFFFFF && fsInfo.NextFree != 0xFFFFFFFF {
		alloc.freeCount = fsInfo.FreeCount
		if fsInfo.NextFree >= uint32(alloc.firstCluster) && fsInfo.NextFree <= uint32(alloc.lastCluster) {
			alloc.nextFree = ClusterID(fsInfo.NextFree)
		}
		return alloc, nil
	}

	return alloc, alloc.rescan()
}

// rescan recomputes freeCount by walking the entire table. Used when no
// FSInfo hint is available or trusted.
func (a *ClusterAllocator) rescan() error {
	count := uint32(0)
	for c := a.firstCluster; c <= a.lastCluster; c++ {
		value, err := a.table.Get(c)
		if err != nil {
			return err
		}
		if a.table.IsFree(value) {
			count++
		}
	}
	a.freeCount = count
	return nil
}

// FreeCount returns the number of unallocated clusters known to the
// allocator.
func (a *ClusterAllocator) FreeCount() uint32 {
	return a.freeCount
}

// Allocate reserves a single free cluster, marks it EOC, and returns its ID.
// Returns ErrNoSpace if the volume has no free clusters.
func (a *ClusterAllocator) Allocate() (ClusterID, error) {
	if a.freeCount == 0 {
		return 0, voltfs.ErrNoSpace
	}

	candidate := a.nextFree
	for i := uint(0); i < uint(a.lastCluster-a.firstCluster)+1; i++ {
		value, err := a.table.Get(candidate)
		if err != nil {
			return 0, err
		}
		if a.table.IsFree(value) {
			if err := a.table.Set(candidate, a.table.EndOfChainMarker()); err != nil {
				return 0, err
			}
			a.freeCount--
			a.nextFree = candidate + 1
			if a.nextFree > a.lastCluster {
				a.nextFree = a.firstCluster
			}
			return candidate, nil
		}
		candidate++
		if candidate > a.lastCluster {
			candidate = a.firstCluster
		}
	}

	// freeCount said there was room but the scan found none; the cached
	// count has drifted from reality. Treat it as corruption rather than
	// silently under-reporting free space.
	return 0, voltfs.NewDriverErrorWithMessage(
		syscall.ENOSPC, "free cluster count is out of sync with the allocation table")
}

// AllocateChain allocates `count` clusters and links them into a single
// chain, returning the first cluster. If allocation fails partway through,
// the clusters already taken are freed before returning the error.
func (a *ClusterAllocator) AllocateChain(count uint) (ClusterID, error) {
	if count == 0 {
		return 0, voltfs.ErrInvalidArgument
	}

	clusters := make([]ClusterID, 0, count)
	for i := uint(0); i < count; i++ {
		c, err := a.Allocate()
		if err != nil {
			for _, taken := range clusters {
				_ = a.Free(taken)
			}
			return 0, err
		}
		clusters = append(clusters, c)
	}

	for i := 0; i < len(clusters)-1; i++ {
		if err := a.table.Set(clusters[i], uint32(clusters[i+1])); err != nil {
			return 0, err
		}
	}

	return clusters[0], nil
}

// Free releases every cluster in the chain beginning at `start`, setting
// each entry to 0 (unallocated) and updating the free count.
func (a *ClusterAllocator) Free(start ClusterID) error {
	chain, err := a.table.ListChain(start)
	if err != nil {
		// Free what we were able to enumerate anyway; a broken chain
		// shouldn't leak every cluster in it.
		for _, c := range chain {
			_ = a.table.Set(c, 0)
			a.freeCount++
		}
		return err
	}

	for _, c := range chain {
		if err := a.table.Set(c, 0); err != nil {
			return err
		}
		a.freeCount++
	}
	return nil
}

// ExtendChain grows the chain ending at `lastCluster` by `count` additional
// clusters and returns the ID of the first newly allocated cluster.
func (a *ClusterAllocator) ExtendChain(lastCluster ClusterID, count uint) (ClusterID, error) {
	newChainStart, err := a.AllocateChain(count)
	if err != nil {
		return 0, err
	}
	if err := a.table.Set(lastCluster, uint32(newChainStart)); err != nil {
		return 0, err
	}
	return newChainStart, nil
}

// Snapshot returns the values to persist back into the FSInfo sector, for
// drivers that want to write it out on Dismount.
func (a *ClusterAllocator) Snapshot() FSInfo {
	return FSInfo{
		LeadSignature:   fsInfoLeadSignature,
		StructSignature: fsInfoStructSignature,
		FreeCount:       a.freeCount,
		NextFree:        uint32(a.nextFree),
		TrailSignature:  fsInfoTrailSignature,
	}
}
