package modules

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"sysmate/internal/bus"
	"sysmate/internal/dispatch"
	"sysmate/internal/logging"
	"sysmate/internal/model"
	"sysmate/internal/names"
)

// Package is one APT package line.
type Package struct {
	Name        string `json:"name"`
	Version     string `json:"version"`
	Current     string `json:"current,omitempty"`
	Arch        string `json:"arch,omitempty"`
	Description string `json:"description,omitempty"`
}

// PackageStats summarizes the package database.
type PackageStats struct {
	Installed     int `json:"installed"`
	Upgradable    int `json:"upgradable"`
	AutoRemovable int `json:"auto_removable"`
}

// PackageManager queries APT and submits package actions.
type PackageManager struct {
	base
	runner dispatch.CommandRunner

	mu         sync.Mutex
	upgradable []Package
	valid      bool
}

func NewPackageManager(runner dispatch.CommandRunner, log logging.Logger) *PackageManager {
	if runner == nil {
		runner = dispatch.ExecRunner{}
	}
	return &PackageManager{base: newBase("packages", log), runner: runner}
}

func (p *PackageManager) Interest() bus.Filter {
	return bus.Filter{Kinds: []model.EventKind{model.EventActionResult}, OwnActionsOnly: true}
}

func (p *PackageManager) Run(ctx context.Context, port *bus.Port) error {
	return p.loop(ctx, port, func(ev model.ChangeEvent) {
		if ev.Kind == model.EventActionResult {
			p.mu.Lock()
			p.valid = false
			p.mu.Unlock()
		}
	})
}

// Upgradable lists packages with a newer candidate version.
func (p *PackageManager) Upgradable(ctx context.Context, refresh bool) ([]Package, error) {
	p.mu.Lock()
	if p.valid && !refresh {
		out := append([]Package(nil), p.upgradable...)
		p.mu.Unlock()
		return out, nil
	}
	p.mu.Unlock()

	out, err := p.runner.Run(ctx, "apt", "list", "--upgradable")
	if err != nil {
		return nil, fmt.Errorf("apt list --upgradable: %w", err)
	}
	pkgs := parseUpgradable(out)

	p.mu.Lock()
	p.upgradable, p.valid = pkgs, true
	p.mu.Unlock()
	return append([]Package(nil), pkgs...), nil
}

// parseUpgradable reads lines like
// "curl/noble-updates 8.5.0-2ubuntu10.6 amd64 [upgradable from: 8.5.0-2ubuntu10.5]".
func parseUpgradable(out []byte) []Package {
	var pkgs []Package
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := sc.Text()
		if !strings.Contains(line, "upgradable from") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 3 {
			continue
		}
		name, _, _ := strings.Cut(fields[0], "/")
		pkg := Package{Name: name, Version: fields[1], Arch: fields[2]}
		if i := strings.Index(line, "upgradable from: "); i >= 0 {
			pkg.Current = strings.TrimSuffix(line[i+len("upgradable from: "):], "]")
		}
		pkgs = append(pkgs, pkg)
	}
	return pkgs
}

// Stats counts installed, upgradable and auto-removable packages. Counts
// that cannot be read are left at zero.
func (p *PackageManager) Stats(ctx context.Context) (PackageStats, error) {
	var st PackageStats
	out, err := p.runner.Run(ctx, "dpkg-query", "-W", "-f", "${db:Status-Abbrev}\n")
	if err != nil {
		return st, fmt.Errorf("dpkg-query: %w", err)
	}
	for _, line := range strings.Split(string(out), "\n") {
		if strings.HasPrefix(line, "ii") {
			st.Installed++
		}
	}

	if up, err := p.Upgradable(ctx, false); err == nil {
		st.Upgradable = len(up)
	} else {
		p.log.Warn("count upgradable", logging.Err(err))
	}

	if out, err := p.runner.Run(ctx, "apt-get", "--simulate", "autoremove"); err == nil {
		for _, line := range strings.Split(string(out), "\n") {
			if strings.HasPrefix(line, "Remv ") {
				st.AutoRemovable++
			}
		}
	} else {
		p.log.Warn("count auto-removable", logging.Err(err))
	}
	return st, nil
}

// Search runs apt-cache search and returns at most 50 matches.
func (p *PackageManager) Search(ctx context.Context, query string) ([]Package, error) {
	query = strings.TrimSpace(query)
	if query == "" || strings.HasPrefix(query, "-") {
		return nil, fmt.Errorf("%w: search query %q", names.ErrInvalid, query)
	}
	out, err := p.runner.Run(ctx, "apt-cache", "search", "--", query)
	if err != nil {
		return nil, fmt.Errorf("apt-cache search: %w", err)
	}
	var pkgs []Package
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() && len(pkgs) < 50 {
		name, desc, ok := strings.Cut(sc.Text(), " - ")
		if !ok {
			continue
		}
		pkgs = append(pkgs, Package{Name: strings.TrimSpace(name), Description: strings.TrimSpace(desc)})
	}
	return pkgs, nil
}

func (p *PackageManager) Install(ctx context.Context, name string) (dispatch.Report, error) {
	return p.submit(ctx, dispatch.KindPackageInstall, dispatch.Target{Package: name})
}

func (p *PackageManager) Remove(ctx context.Context, name string) (dispatch.Report, error) {
	return p.submit(ctx, dispatch.KindPackageRemove, dispatch.Target{Package: name})
}

func (p *PackageManager) Upgrade(ctx context.Context) (dispatch.Report, error) {
	return p.submit(ctx, dispatch.KindPackageUpgrade, dispatch.Target{})
}

func (p *PackageManager) Autoremove(ctx context.Context) (dispatch.Report, error) {
	return p.submit(ctx, dispatch.KindPackageAutoremove, dispatch.Target{})
}
