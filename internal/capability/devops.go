package capability

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/ShayCichocki/crew/internal/dispatch"
	"github.com/ShayCichocki/crew/internal/logging"
	"github.com/ShayCichocki/crew/internal/release"
	"github.com/ShayCichocki/crew/internal/tracker"
	"github.com/ShayCichocki/crew/pkg/models"
)

// DefaultAssets are uploaded when present and no explicit list is configured.
var DefaultAssets = []string{"app-release.apk", "web.zip"}

// DevOpsConfig configures releases.
type DevOpsConfig struct {
	Project string
	// AssetsDir holds build outputs to attach to a release.
	AssetsDir string
	// Assets lists file names inside AssetsDir; empty means DefaultAssets.
	Assets []string
}

// DevOps cuts a release with the next patch version.
type DevOps struct {
	cfg      DevOpsConfig
	releases tracker.Releases
	log      *slog.Logger
}

// NewDevOps returns a release handler.
func NewDevOps(cfg DevOpsConfig, releases tracker.Releases, logger *slog.Logger) *DevOps {
	if len(cfg.Assets) == 0 {
		cfg.Assets = DefaultAssets
	}
	return &DevOps{cfg: cfg, releases: releases, log: logging.Component(logger, "devops")}
}

// ReleaseResult describes a published release.
type ReleaseResult struct {
	Version  string
	Release  tracker.Release
	Uploaded []string
	Missing  []string
}

// Release publishes the next version. A branch without commits is an error.
func (d *DevOps) Release(ctx context.Context) (*ReleaseResult, error) {
	sha, found, err := d.releases.HeadCommit(ctx)
	if err != nil {
		return nil, fmt.Errorf("read head commit: %w", err)
	}
	if !found {
		return nil, fmt.Errorf("no commit to release")
	}

	tags, err := d.releases.ListTags(ctx)
	if err != nil {
		return nil, fmt.Errorf("list releases: %w", err)
	}
	version := release.NextVersion(tags)

	name := strings.TrimSpace(d.cfg.Project + " " + version)
	rel, err := d.releases.CreateRelease(ctx, version, name, releaseBody(d.cfg.Project, version))
	if err != nil {
		return nil, fmt.Errorf("create release %s: %w", version, err)
	}
	d.log.Info("release created", "version", version, "commit", sha)

	res := &ReleaseResult{Version: version, Release: rel}
	for _, asset := range d.cfg.Assets {
		p := filepath.Join(d.cfg.AssetsDir, asset)
		data, err := os.ReadFile(p)
		if err != nil {
			if os.IsNotExist(err) {
				d.log.Warn("asset missing", "asset", asset)
				res.Missing = append(res.Missing, asset)
				continue
			}
			return res, fmt.Errorf("read asset %s: %w", asset, err)
		}
		if err := d.releases.UploadAsset(ctx, rel, filepath.Base(asset), data); err != nil {
			return res, fmt.Errorf("upload asset %s: %w", asset, err)
		}
		d.log.Info("asset uploaded", "asset", asset, "bytes", len(data))
		res.Uploaded = append(res.Uploaded, asset)
	}
	sort.Strings(res.Missing)
	return res, nil
}

// Run implements dispatch.Handler. The task only triggers the release.
func (d *DevOps) Run(ctx context.Context, task models.Task, _ dispatch.RunContext) (*dispatch.Result, error) {
	res, err := d.Release(ctx)
	if err != nil {
		return nil, fmt.Errorf("release for #%d: %w", task.ID, err)
	}
	detail := fmt.Sprintf("released %s with %d asset(s)", res.Version, len(res.Uploaded))
	if len(res.Missing) > 0 {
		detail += fmt.Sprintf(", missing %s", strings.Join(res.Missing, ", "))
	}
	return &dispatch.Result{Detail: detail}, nil
}
