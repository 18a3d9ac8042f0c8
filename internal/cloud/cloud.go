// Package cloud ships finished snapshots off the host. A Backend
// abstracts the remote (S3-compatible object stores, SFTP servers);
// the Syncer walks a snapshot directory and uploads whatever the
// remote is missing.
package cloud

import (
	"context"
	"fmt"
	"io"

	"github.com/schollz/progressbar/v3"

	"walvault/internal/config"
	errs "walvault/internal/errors"
	"walvault/internal/logger"
)

// ProgressFunc receives transfer progress while a file uploads.
type ProgressFunc func(transferred, total int64)

// Backend is one remote store. Implementations retry transient
// failures internally; a returned error is final.
type Backend interface {
	Name() string
	// Put uploads localPath to remotePath, creating remote parents as
	// needed. Re-put of an existing path overwrites it.
	Put(ctx context.Context, localPath, remotePath string, progress ProgressFunc) error
	// Stat reports the size stored at remotePath and whether the path
	// exists at all.
	Stat(ctx context.Context, remotePath string) (size int64, exists bool, err error)
	Close() error
}

// NewBackend builds the provider named by the configuration.
func NewBackend(ctx context.Context, cfg *config.Config, log logger.Logger) (Backend, error) {
	limit, err := ParseBandwidth(cfg.CloudBandwidth)
	if err != nil {
		return nil, errs.NewConfigError(errs.ErrCodeInvalidConfig,
			fmt.Sprintf("invalid cloud bandwidth %q", cfg.CloudBandwidth),
			"Use a rate like 10MB/s, or leave it empty for unlimited")
	}
	if limit > 0 {
		log.Info("Upload bandwidth capped", "limit", FormatBandwidth(limit))
	}

	switch cfg.CloudProvider {
	case "s3":
		return newS3Backend(ctx, cfg, log, limit)
	case "sftp":
		return newSFTPBackend(cfg, log, limit)
	default:
		return nil, errs.NewConfigError(errs.ErrCodeInvalidConfig,
			fmt.Sprintf("unknown cloud provider %q", cfg.CloudProvider),
			"Set CLOUD_PROVIDER to s3 or sftp")
	}
}

// ConsoleProgress draws a byte progress bar per uploaded file. Handed
// to Syncer.SetProgress by the interactive CLI paths.
func ConsoleProgress(name string, total int64) ProgressFunc {
	bar := progressbar.NewOptions64(
		total,
		progressbar.OptionSetDescription(name),
		progressbar.OptionShowBytes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionClearOnFinish(),
	)
	return func(transferred, _ int64) {
		_ = bar.Set64(transferred)
	}
}

// progressReader reports cumulative bytes read to a ProgressFunc.
type progressReader struct {
	r     io.Reader
	total int64
	done  int64
	fn    ProgressFunc
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.done += int64(n)
		p.fn(p.done, p.total)
	}
	return n, err
}

// copyWithContext copies in chunks, honoring cancellation between
// writes. SFTP writers have no context support of their own.
func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	buf := make([]byte, 128*1024)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		n, rerr := src.Read(buf)
		if n > 0 {
			wn, werr := dst.Write(buf[:n])
			written += int64(wn)
			if werr != nil {
				return written, werr
			}
			if wn < n {
				return written, io.ErrShortWrite
			}
		}
		if rerr == io.EOF {
			return written, nil
		}
		if rerr != nil {
			return written, rerr
		}
	}
}
