package executor

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
)

// ParamClass is how a resource-agent parameter affects digest computation.
type ParamClass int

const (
	// ClassReloadable parameters can change without a restart; a digest
	// computed over non-reloadable parameters only lets the transition
	// engine tell a true restart-worthy change from a lighter reload.
	ClassReloadable ParamClass = iota
	ClassUnique
	ClassPrivate
)

// ParamSpec classifies one resource-agent parameter for digest purposes.
type ParamSpec struct {
	Name  string
	Class ParamClass
}

func digestOf(params map[string]string, include func(name string) bool) string {
	names := make([]string, 0, len(params))
	for name := range params {
		if include(name) {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte('=')
		b.WriteString(params[name])
		b.WriteByte('\n')
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// RestartDigest hashes every parameter except reloadable ones: a change
// here means the resource must be restarted, not merely reloaded.
func RestartDigest(params map[string]string, specs []ParamSpec) string {
	reloadable := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Class == ClassReloadable {
			reloadable[s.Name] = true
		}
	}
	return digestOf(params, func(name string) bool { return !reloadable[name] })
}

// SecureDigest hashes every parameter except private ones, so a
// difference here can be logged and compared without exposing secrets.
func SecureDigest(params map[string]string, specs []ParamSpec) string {
	private := make(map[string]bool, len(specs))
	for _, s := range specs {
		if s.Class == ClassPrivate {
			private[s.Name] = true
		}
	}
	return digestOf(params, func(name string) bool { return !private[name] })
}
