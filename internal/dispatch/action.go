package dispatch

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"time"

	"sysmate/internal/model"
	"sysmate/internal/names"
)

// Kind names a privileged operation.
type Kind string

const (
	KindKillProcess       Kind = "kill-process"
	KindForceKillProcess  Kind = "force-kill-process"
	KindServiceStart      Kind = "service-start"
	KindServiceStop       Kind = "service-stop"
	KindServiceRestart    Kind = "service-restart"
	KindServiceEnable     Kind = "service-enable"
	KindServiceDisable    Kind = "service-disable"
	KindCleanPath         Kind = "clean-path"
	KindCleanPackageCache Kind = "clean-package-cache"
	KindVacuumJournal     Kind = "vacuum-journal"
	KindPackageInstall    Kind = "package-install"
	KindPackageRemove     Kind = "package-remove"
	KindPackageUpgrade    Kind = "package-upgrade"
	KindPackageAutoremove Kind = "package-autoremove"
)

// targetKind says which Target field an action kind requires.
type targetKind int

const (
	targetNone targetKind = iota
	targetProcess
	targetService
	targetPath
	targetPackage
)

var kindTargets = map[Kind]targetKind{
	KindKillProcess:       targetProcess,
	KindForceKillProcess:  targetProcess,
	KindServiceStart:      targetService,
	KindServiceStop:       targetService,
	KindServiceRestart:    targetService,
	KindServiceEnable:     targetService,
	KindServiceDisable:    targetService,
	KindCleanPath:         targetPath,
	KindCleanPackageCache: targetNone,
	KindVacuumJournal:     targetNone,
	KindPackageInstall:    targetPackage,
	KindPackageRemove:     targetPackage,
	KindPackageUpgrade:    targetNone,
	KindPackageAutoremove: targetNone,
}

// Kinds lists every supported action kind.
func Kinds() []Kind {
	out := make([]Kind, 0, len(kindTargets))
	for k := range kindTargets {
		out = append(out, k)
	}
	return out
}

// ParseKind validates a textual kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := kindTargets[k]; !ok {
		return "", fmt.Errorf("unknown action kind %q", s)
	}
	return k, nil
}

// Target is what an action operates on. Exactly one field is meaningful,
// as determined by the action kind.
type Target struct {
	Process model.ProcessIdentity `json:"process,omitzero"`
	Service string                `json:"service,omitempty"`
	Path    string                `json:"path,omitempty"`
	Package string                `json:"package,omitempty"`
}

func (t Target) String() string {
	switch {
	case !t.Process.IsZero():
		return "process " + t.Process.String()
	case t.Service != "":
		return "unit " + t.Service
	case t.Path != "":
		return "path " + t.Path
	case t.Package != "":
		return "package " + t.Package
	}
	return "system"
}

// PrivilegedAction is an immutable request. Retrying requires a new action
// (see Retry), which carries a fresh identity.
type PrivilegedAction struct {
	id          string
	kind        Kind
	target      Target
	requestedBy string
	createdAt   time.Time
}

// NewAction validates and normalizes a request.
func NewAction(kind Kind, target Target, requestedBy string) (PrivilegedAction, error) {
	want, ok := kindTargets[kind]
	if !ok {
		return PrivilegedAction{}, invalid("unknown action kind %q", kind)
	}
	module, err := names.ModuleID(requestedBy)
	if err != nil {
		return PrivilegedAction{}, invalid("requested by: %v", err)
	}

	var norm Target
	switch want {
	case targetProcess:
		if target.Process.PID <= 0 {
			return PrivilegedAction{}, invalid("%s needs a process target", kind)
		}
		if target.Process.PID == 1 {
			return PrivilegedAction{}, invalid("refusing to signal pid 1")
		}
		norm.Process = target.Process
	case targetService:
		unit, err := names.Unit(target.Service)
		if err != nil {
			return PrivilegedAction{}, invalid("%v", err)
		}
		norm.Service = unit
	case targetPath:
		if target.Path == "" || !filepath.IsAbs(target.Path) {
			return PrivilegedAction{}, invalid("%s needs an absolute path", kind)
		}
		norm.Path = filepath.Clean(target.Path)
	case targetPackage:
		pkg, err := names.Package(target.Package)
		if err != nil {
			return PrivilegedAction{}, invalid("%v", err)
		}
		norm.Package = pkg
	}

	return PrivilegedAction{
		id:          newActionID(),
		kind:        kind,
		target:      norm,
		requestedBy: module,
		createdAt:   time.Now(),
	}, nil
}

func (a PrivilegedAction) ID() string           { return a.id }
func (a PrivilegedAction) Kind() Kind           { return a.kind }
func (a PrivilegedAction) Target() Target       { return a.target }
func (a PrivilegedAction) RequestedBy() string  { return a.requestedBy }
func (a PrivilegedAction) CreatedAt() time.Time { return a.createdAt }

// Retry returns a copy of the request with a fresh identity.
func (a PrivilegedAction) Retry() PrivilegedAction {
	a.id = newActionID()
	a.createdAt = time.Now()
	return a
}

func (a PrivilegedAction) String() string {
	return fmt.Sprintf("%s %s (%s, by %s)", a.kind, a.target, a.id, a.requestedBy)
}

func newActionID() string {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		panic(fmt.Sprintf("read random action id: %v", err))
	}
	return hex.EncodeToString(b[:])
}
