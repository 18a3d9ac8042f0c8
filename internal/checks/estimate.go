package checks

// EstimateSnapshotSize projects the size of the next snapshot.
// History beats arithmetic: when a previous snapshot size is known,
// use it with a growth allowance; otherwise derive from the cluster
// size and the configured compression.
func EstimateSnapshotSize(lastSnapshotBytes int64, clusterBytes int64, compression string, level int) uint64 {
	if lastSnapshotBytes > 0 {
		// 20% growth allowance between runs
		return uint64(float64(lastSnapshotBytes) * 1.2)
	}
	if clusterBytes <= 0 {
		return 0
	}

	ratio := compressionRatio(compression, level)
	estimated := float64(clusterBytes) * ratio

	// WAL collected during the copy plus the manifest
	return uint64(estimated * 1.1)
}

// compressionRatio maps algorithm and level to a typical output ratio
func compressionRatio(compression string, level int) float64 {
	switch compression {
	case "gzip":
		if level >= 7 {
			return 0.25
		}
		if level >= 4 {
			return 0.35
		}
		return 0.5
	case "zstd":
		if level >= 10 {
			return 0.25
		}
		return 0.3
	default:
		return 1.0
	}
}

// RequiredHeadroom is the free space a snapshot run should see before
// it starts: the estimate plus the same again for retention overlap,
// since the new snapshot lands before the old ones are pruned.
func RequiredHeadroom(estimated uint64) uint64 {
	return estimated * 2
}
