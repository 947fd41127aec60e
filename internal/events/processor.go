package events

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/mattjoyce/stimforge/internal/funscript"
	"github.com/mattjoyce/stimforge/internal/workspace"
)

// linkedAxes maps a primary axis to the secondary channel that mirrors it.
var linkedAxes = map[string]string{
	"volume": "volume-prostate",
	"alpha":  "alpha-prostate",
	"beta":   "beta-prostate",
}

// MaxHeadroom bounds Options.Headroom.
const MaxHeadroom = 20

// Options configures one Process call.
type Options struct {
	EventsPath      string
	DefinitionsPath string
	// ChannelDir holds the {base}.{role}.funscript files; defaults to the
	// directory of EventsPath.
	ChannelDir    string
	Interval      float64 // seconds
	Headroom      float64 // percent of full scale kept free on volume
	ApplyToLinked bool
	Backup        bool
	Now           func() time.Time
}

// Report summarizes what Process changed.
type Report struct {
	Base     string   `json:"base"`
	Events   int      `json:"events"`
	Applied  int      `json:"applied"`
	Modified []string `json:"modified"`
	Missing  []string `json:"missing,omitempty"`
	Backup   string   `json:"backup,omitempty"`
}

// Process applies an event file to the channel files of its base name. All
// events are resolved before any channel is touched, so a bad definition or
// reference leaves every file unchanged.
func Process(ctx context.Context, opts Options, logger *slog.Logger) (*Report, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "events")
	if opts.Interval <= 0 {
		return nil, fmt.Errorf("resample interval must be positive, got %v", opts.Interval)
	}
	if opts.Headroom < 0 || opts.Headroom > MaxHeadroom {
		return nil, fmt.Errorf("volume headroom must be within [0,%d], got %v", MaxHeadroom, opts.Headroom)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	base, err := BaseName(opts.EventsPath)
	if err != nil {
		return nil, err
	}
	dir := opts.ChannelDir
	if dir == "" {
		dir = filepath.Dir(opts.EventsPath)
	}

	defs, err := LoadDefinitions(opts.DefinitionsPath)
	if err != nil {
		return nil, err
	}
	timeline, err := LoadTimeline(opts.EventsPath)
	if err != nil {
		return nil, err
	}
	effects, err := defs.Resolve(timeline)
	if err != nil {
		return nil, err
	}

	paths, roles, err := workspace.Channels(dir, base)
	if err != nil {
		return nil, err
	}
	if len(roles) == 0 {
		return nil, fmt.Errorf("no %s.*%s channel files in %s", base, workspace.Ext, dir)
	}
	channels := make(map[string]*Channel, len(roles))
	for _, role := range roles {
		script, err := funscript.Load(paths[role])
		if err != nil {
			return nil, err
		}
		channels[role] = &Channel{Role: role, Path: paths[role], Script: script}
	}
	logger = logger.With("base", base)
	logger.Info("applying events", "events", len(timeline.Events), "steps", len(effects), "channels", len(roles))

	report := &Report{Base: base, Events: len(timeline.Events)}
	if opts.Backup {
		files := make([]string, 0, len(roles)+1)
		for _, role := range roles {
			files = append(files, paths[role])
		}
		files = append(files, opts.EventsPath)
		name := filepath.Join(dir, fmt.Sprintf("%s.%s.zip", base, opts.Now().Format("20060102-150405")))
		if err := writeBackup(name, files); err != nil {
			return nil, err
		}
		report.Backup = name
		logger.Info("backup written", "path", name, "files", len(files))
	}

	if vol, ok := channels["volume"]; ok && opts.Headroom > 0 {
		if shift := vol.ApplyHeadroom(1 - opts.Headroom/100); shift > 0 {
			logger.Info("volume shifted for headroom", "headroom", opts.Headroom, "shift", shift)
		}
	}

	intervalMS := opts.Interval * 1000
	missing := map[string]struct{}{}
	for _, effect := range effects {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		targets := []string{effect.Axis}
		if secondary, ok := linkedAxes[effect.Axis]; ok && opts.ApplyToLinked {
			if _, exists := channels[secondary]; exists {
				targets = append(targets, secondary)
			}
		}
		if effect.Operation == OpModulation && aliases(effect.Frequency, opts.Interval) {
			logger.Warn("modulation frequency is close to a multiple of the sample rate; the effect may alias to a near-constant value",
				"event", effect.Event, "axis", effect.Axis, "frequency", effect.Frequency, "sample_rate", 1/opts.Interval)
		}
		for _, role := range targets {
			ch, ok := channels[role]
			if !ok {
				missing[role] = struct{}{}
				logger.Warn("event targets a missing channel, skipping", "event", effect.Event, "axis", role)
				continue
			}
			n := ch.Apply(effect, defs.Scale(role), intervalMS)
			logger.Debug("event step applied",
				"event", effect.Event,
				"operation", effect.Operation,
				"axis", role,
				"start_ms", effect.StartMS,
				"duration_ms", effect.Duration,
				"samples", n,
			)
			if n > 0 {
				report.Applied++
			}
		}
	}

	for _, role := range roles {
		ch := channels[role]
		if !ch.Dirty {
			continue
		}
		if err := funscript.Save(ch.Path, ch.Script); err != nil {
			return report, fmt.Errorf("write channel %s: %w", role, err)
		}
		report.Modified = append(report.Modified, role)
	}
	for role := range missing {
		report.Missing = append(report.Missing, role)
	}
	sort.Strings(report.Missing)
	logger.Info("events applied", "applied", report.Applied, "modified", len(report.Modified))
	return report, nil
}

// writeBackup stores files flat in a new zip archive at path.
func writeBackup(path string, files []string) (err error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("create backup: %w", err)
	}
	defer func() {
		if cerr := out.Close(); err == nil && cerr != nil {
			err = fmt.Errorf("close backup: %w", cerr)
		}
		if err != nil {
			_ = os.Remove(path)
		}
	}()

	zw := zip.NewWriter(out)
	for _, file := range files {
		if err := addToZip(zw, file); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finish backup: %w", err)
	}
	return nil
}

func addToZip(zw *zip.Writer, file string) error {
	in, err := os.Open(file)
	if err != nil {
		return fmt.Errorf("backup %s: %w", file, err)
	}
	defer in.Close()
	info, err := in.Stat()
	if err != nil {
		return fmt.Errorf("backup %s: %w", file, err)
	}
	header, err := zip.FileInfoHeader(info)
	if err != nil {
		return fmt.Errorf("backup %s: %w", file, err)
	}
	header.Name = filepath.Base(file)
	header.Method = zip.Deflate
	w, err := zw.CreateHeader(header)
	if err != nil {
		return fmt.Errorf("backup %s: %w", file, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("backup %s: %w", file, err)
	}
	return nil
}
