package modules

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"sysmate/internal/bus"
	"sysmate/internal/dispatch"
	"sysmate/internal/logging"
	"sysmate/internal/model"
	"sysmate/internal/names"
)

// Unit is one systemd service as reported by systemctl.
type Unit struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Load        string `json:"load"`
	Active      string `json:"active"`
	Sub         string `json:"sub"`
	Enablement  string `json:"enablement,omitempty"`
}

// Enabled reports whether the unit starts at boot.
func (u Unit) Enabled() bool { return u.Enablement == "enabled" }

// ServiceManager lists systemd services and changes their state.
type ServiceManager struct {
	base
	runner dispatch.CommandRunner

	mu    sync.Mutex
	units []Unit
	valid bool
}

func NewServiceManager(runner dispatch.CommandRunner, log logging.Logger) *ServiceManager {
	if runner == nil {
		runner = dispatch.ExecRunner{}
	}
	return &ServiceManager{base: newBase("services", log), runner: runner}
}

func (s *ServiceManager) Interest() bus.Filter {
	return bus.Filter{Kinds: []model.EventKind{model.EventActionResult}, OwnActionsOnly: true}
}

func (s *ServiceManager) Run(ctx context.Context, port *bus.Port) error {
	return s.loop(ctx, port, func(ev model.ChangeEvent) {
		if ev.Kind == model.EventActionResult {
			s.mu.Lock()
			s.valid = false
			s.mu.Unlock()
		}
	})
}

// List returns service units, active ones first, then by name. Units whose
// name contains query (case-insensitive) are kept when query is set.
func (s *ServiceManager) List(ctx context.Context, query string, refresh bool) ([]Unit, error) {
	s.mu.Lock()
	cached, ok := s.units, s.valid && !refresh
	s.mu.Unlock()

	if !ok {
		units, err := s.load(ctx)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.units, s.valid = units, true
		s.mu.Unlock()
		cached = units
	}

	out := make([]Unit, 0, len(cached))
	q := strings.ToLower(query)
	for _, u := range cached {
		if q == "" || strings.Contains(strings.ToLower(u.Name), q) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (s *ServiceManager) load(ctx context.Context) ([]Unit, error) {
	out, err := s.runner.Run(ctx, "systemctl", "list-units", "--type=service", "--all", "--no-pager", "--no-legend", "--plain")
	if err != nil {
		return nil, fmt.Errorf("systemctl list-units: %w", err)
	}
	units := parseListUnits(out)

	files, err := s.runner.Run(ctx, "systemctl", "list-unit-files", "--type=service", "--no-pager", "--no-legend")
	if err != nil {
		s.log.Warn("enablement unavailable", logging.Err(err))
	} else {
		states := parseUnitFiles(files)
		for i := range units {
			units[i].Enablement = states[units[i].Name]
		}
	}

	slices.SortFunc(units, func(a, b Unit) int {
		aa, ba := a.Active == "active", b.Active == "active"
		if aa != ba {
			if aa {
				return -1
			}
			return 1
		}
		return strings.Compare(a.Name, b.Name)
	})
	return units, nil
}

// parseListUnits reads "UNIT LOAD ACTIVE SUB DESCRIPTION..." lines.
func parseListUnits(out []byte) []Unit {
	var units []Unit
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(strings.TrimPrefix(strings.TrimSpace(sc.Text()), "● "))
		if len(fields) < 4 || !strings.HasSuffix(fields[0], ".service") {
			continue
		}
		units = append(units, Unit{
			Name:        fields[0],
			Load:        fields[1],
			Active:      fields[2],
			Sub:         fields[3],
			Description: strings.Join(fields[4:], " "),
		})
	}
	return units
}

// parseUnitFiles reads "UNIT STATE [PRESET]" lines.
func parseUnitFiles(out []byte) map[string]string {
	states := make(map[string]string)
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 2 {
			states[fields[0]] = fields[1]
		}
	}
	return states
}

// Act submits one of the service-* actions for unit.
func (s *ServiceManager) Act(ctx context.Context, kind dispatch.Kind, unit string) (dispatch.Report, error) {
	if !strings.HasPrefix(string(kind), "service-") {
		return dispatch.Report{}, fmt.Errorf("%s is not a service action", kind)
	}
	return s.submit(ctx, kind, dispatch.Target{Service: unit})
}

// Logs returns the last lines of the unit's journal.
func (s *ServiceManager) Logs(ctx context.Context, unit string, lines int) (string, error) {
	name, err := names.Unit(unit)
	if err != nil {
		return "", err
	}
	if lines <= 0 {
		lines = 50
	}
	out, err := s.runner.Run(ctx, "journalctl", "-u", name, "-n", strconv.Itoa(lines), "--no-pager")
	if err != nil {
		return "", fmt.Errorf("journalctl -u %s: %w", name, err)
	}
	return string(out), nil
}
