package modules

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"sysmate/internal/bus"
	"sysmate/internal/dispatch"
	"sysmate/internal/logging"
	"sysmate/internal/model"
)

// Category is a group of reclaimable files cleaned together.
type Category string

const (
	CategoryPackageCache Category = "package-cache"
	CategoryThumbnails   Category = "thumbnails"
	CategoryTrash        Category = "trash"
	CategoryLogs         Category = "logs"
	CategoryOldKernels   Category = "old-kernels"
	CategoryBrowserCache Category = "browser-cache"
	CategoryTempFiles    Category = "temp-files"
)

// CleanupItem is one scanned category.
type CleanupItem struct {
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Size        uint64   `json:"size"`
	Files       int      `json:"files"`
	Paths       []string `json:"paths"`
}

type categorySpec struct {
	category    Category
	description string
	paths       func(home string) []string
	// actions lists what cleaning the category submits; nil means one
	// clean-path per existing path.
	actions []dispatch.Kind
}

var categories = []categorySpec{
	{
		category:    CategoryPackageCache,
		description: "APT package cache and downloaded .deb files",
		paths:       func(string) []string { return []string{"/var/cache/apt/archives"} },
		actions:     []dispatch.Kind{dispatch.KindCleanPackageCache},
	},
	{
		category:    CategoryThumbnails,
		description: "Cached thumbnail images",
		paths:       func(home string) []string { return []string{filepath.Join(home, ".cache/thumbnails")} },
	},
	{
		category:    CategoryTrash,
		description: "Files in the trash bin",
		paths: func(home string) []string {
			return []string{filepath.Join(home, ".local/share/Trash/files"), filepath.Join(home, ".local/share/Trash/info")}
		},
	},
	{
		category:    CategoryLogs,
		description: "Journal entries older than seven days",
		paths:       func(string) []string { return []string{"/var/log/journal"} },
		actions:     []dispatch.Kind{dispatch.KindVacuumJournal},
	},
	{
		category:    CategoryOldKernels,
		description: "Kernels and packages no longer required",
		paths:       func(string) []string { return nil },
		actions:     []dispatch.Kind{dispatch.KindPackageAutoremove},
	},
	{
		category:    CategoryBrowserCache,
		description: "Firefox and Chrome cache files",
		paths: func(home string) []string {
			return []string{filepath.Join(home, ".cache/mozilla/firefox"), filepath.Join(home, ".cache/google-chrome")}
		},
	},
	{
		category:    CategoryTempFiles,
		description: "Temporary files in /tmp and /var/tmp",
		paths:       func(string) []string { return []string{"/tmp", "/var/tmp"} },
	},
}

// ParseCategory validates a category name.
func ParseCategory(s string) (Category, error) {
	for _, c := range categories {
		if string(c.category) == s {
			return c.category, nil
		}
	}
	return "", fmt.Errorf("unknown cleanup category %q", s)
}

// Cleaner scans for reclaimable space and cleans it category by category.
type Cleaner struct {
	base
	home string

	mu      sync.Mutex
	scanned []CleanupItem
	valid   bool
}

// NewCleaner returns a cleaner scanning under home. An empty home uses the
// current user's home directory.
func NewCleaner(home string, log logging.Logger) *Cleaner {
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return &Cleaner{base: newBase("cleaner", log), home: home}
}

func (c *Cleaner) Interest() bus.Filter {
	return bus.Filter{Kinds: []model.EventKind{model.EventActionResult}, OwnActionsOnly: true}
}

func (c *Cleaner) Run(ctx context.Context, port *bus.Port) error {
	return c.loop(ctx, port, func(ev model.ChangeEvent) {
		if ev.Kind == model.EventActionResult {
			c.invalidate()
		}
	})
}

func (c *Cleaner) invalidate() {
	c.mu.Lock()
	c.valid = false
	c.mu.Unlock()
}

// Scan measures every category. Results are cached until the module's next
// action completes or rescan is set.
func (c *Cleaner) Scan(ctx context.Context, rescan bool) ([]CleanupItem, error) {
	c.mu.Lock()
	if c.valid && !rescan {
		items := cloneItems(c.scanned)
		c.mu.Unlock()
		return items, nil
	}
	c.mu.Unlock()

	var items []CleanupItem
	for _, spec := range categories {
		item := CleanupItem{Category: spec.category, Description: spec.description}
		for _, p := range spec.paths(c.home) {
			size, files, err := measure(ctx, p)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, err
			}
			item.Size += size
			item.Files += files
			item.Paths = append(item.Paths, p)
		}
		if len(item.Paths) == 0 && spec.actions == nil {
			continue
		}
		items = append(items, item)
	}

	c.mu.Lock()
	c.scanned, c.valid = items, true
	c.mu.Unlock()
	return cloneItems(items), nil
}

// Clean submits the actions for one category and returns their reports in
// submission order. It stops at the first failed action.
func (c *Cleaner) Clean(ctx context.Context, cat Category) ([]dispatch.Report, error) {
	var spec *categorySpec
	for i := range categories {
		if categories[i].category == cat {
			spec = &categories[i]
		}
	}
	if spec == nil {
		return nil, fmt.Errorf("unknown cleanup category %q", cat)
	}

	var reports []dispatch.Report
	if spec.actions != nil {
		for _, kind := range spec.actions {
			r, err := c.submit(ctx, kind, dispatch.Target{})
			reports = append(reports, r)
			if err != nil {
				return reports, err
			}
		}
		return reports, nil
	}
	for _, p := range spec.paths(c.home) {
		if _, err := os.Lstat(p); err != nil {
			continue
		}
		r, err := c.submit(ctx, dispatch.KindCleanPath, dispatch.Target{Path: p})
		reports = append(reports, r)
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// measure sums regular file sizes under root. Unreadable subtrees are skipped.
func measure(ctx context.Context, root string) (uint64, int, error) {
	if _, err := os.Lstat(root); err != nil {
		return 0, 0, err
	}
	var size uint64
	files := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		size += uint64(info.Size())
		files++
		return nil
	})
	return size, files, err
}

func cloneItems(items []CleanupItem) []CleanupItem {
	out := make([]CleanupItem, len(items))
	for i, it := range items {
		it.Paths = append([]string(nil), it.Paths...)
		out[i] = it
	}
	return out
}

// FormatSize renders a byte count with binary units.
func FormatSize(bytes uint64) string {
	const (
		kb = 1 << 10
		mb = 1 << 20
		gb = 1 << 30
	)
	switch {
	case bytes >= gb:
		return fmt.Sprintf("%.2f GB", float64(bytes)/gb)
	case bytes >= mb:
		return fmt.Sprintf("%.2f MB", float64(bytes)/mb)
	case bytes >= kb:
		return fmt.Sprintf("%.2f KB", float64(bytes)/kb)
	}
	return fmt.Sprintf("%d bytes", bytes)
}

// Categories lists the known category names.
func Categories() []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c.category)
	}
	return out
}
