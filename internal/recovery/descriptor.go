package recovery

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"walvault/internal/config"
	"walvault/internal/fs"
)

// Descriptor is the replay contract handed to the engine: where to
// fetch segments from and where to stop.
type Descriptor struct {
	// RestoreCommand fetches one segment; %f and %p are the engine's
	// placeholders for segment name and destination path.
	RestoreCommand string

	// TargetTime stops replay at an instant; zero means no time target.
	TargetTime time.Time

	// Immediate stops replay at the snapshot's own consistency point,
	// which is how a named-backup restore avoids rolling forward into
	// later history.
	Immediate bool

	// TargetAction is what the engine does on reaching the target.
	TargetAction string
}

// NewDescriptor maps a recovery target onto engine settings. The
// restore command points back at this binary so the engine pulls
// segments straight out of the vault.
func NewDescriptor(cfg *config.Config, target Target) *Descriptor {
	exe, err := os.Executable()
	if err != nil {
		exe = "walvault"
	}
	d := &Descriptor{
		RestoreCommand: fmt.Sprintf("%s --root %s archive get %%f %%p", exe, cfg.Root),
		TargetAction:   cfg.TargetAction,
	}
	switch target.Kind {
	case TargetTimestamp:
		d.TargetTime = target.Timestamp
	case TargetNamed:
		d.Immediate = true
	}
	return d
}

// render produces the configuration block appended to the engine's
// auto-configuration file.
func (d *Descriptor) render() string {
	var b strings.Builder
	b.WriteString("\n# walvault recovery\n")
	fmt.Fprintf(&b, "restore_command = '%s'\n", d.RestoreCommand)
	if !d.TargetTime.IsZero() {
		// the engine wants a plain timestamp with an explicit zone
		fmt.Fprintf(&b, "recovery_target_time = '%s+00'\n",
			d.TargetTime.UTC().Format("2006-01-02 15:04:05.999999"))
	}
	if d.Immediate {
		b.WriteString("recovery_target = 'immediate'\n")
	}
	fmt.Fprintf(&b, "recovery_target_action = '%s'\n", d.TargetAction)
	return b.String()
}

// Apply writes the descriptor into dataDir: settings appended to
// postgresql.auto.conf, plus the recovery.signal file that switches
// the engine into replay on next start.
func (d *Descriptor) Apply(dataDir string) error {
	confPath := filepath.Join(dataDir, "postgresql.auto.conf")

	var existing []byte
	ok, err := fs.Exists(confPath)
	if err != nil {
		return fmt.Errorf("checking %s: %w", confPath, err)
	}
	if ok {
		existing, err = fs.ReadFile(confPath)
		if err != nil {
			return fmt.Errorf("reading %s: %w", confPath, err)
		}
	}

	data := append(existing, []byte(d.render())...)
	if err := fs.WriteFileAtomic(confPath, data, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", confPath, err)
	}

	signalPath := filepath.Join(dataDir, "recovery.signal")
	if err := fs.WriteFile(signalPath, nil, 0600); err != nil {
		return fmt.Errorf("writing %s: %w", signalPath, err)
	}
	return nil
}
