package cmd

import (
	"walvault/internal/catalog"
	"walvault/internal/compression"
	"walvault/internal/wal"
)

// openVault opens the two halves of the vault the commands share: the
// catalog ledger and the segment store. The caller closes the catalog.
func openVault() (*catalog.SQLiteCatalog, *wal.Store, error) {
	algo, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.NewSQLiteCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, nil, err
	}
	store := wal.NewStore(cfg.ArchiveDir(), algo, cfg.CompressionLevel, log)
	return cat, store, nil
}

// openStore opens just the segment store, for the archive commands that
// never touch the ledger.
func openStore() (*wal.Store, error) {
	algo, err := compression.ParseAlgorithm(cfg.Compression)
	if err != nil {
		return nil, err
	}
	return wal.NewStore(cfg.ArchiveDir(), algo, cfg.CompressionLevel, log), nil
}
