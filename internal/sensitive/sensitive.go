// Package sensitive supplies the shared sensitive-name matcher used by the
// source scanner, CFG analyzer and MIR analyzer; the assembly analyzer uses
// only its Descriptor type.
//
// Go's stdlib regexp is RE2-backed and cannot express the lookaround the
// original patterns rely on (`(?<![a-zA-Z])token(?![a-zA-Z])` so that
// `secret_key` matches but `monkey`/`tokenize` do not). dlclark/regexp2
// implements .NET-style regex semantics, including lookaround, and is
// already an indirect dependency of the teacher's module — promoted here to
// a direct, heavily used one.
package sensitive

import (
	"regexp"
	"strings"

	"github.com/dlclark/regexp2"
)

// defaultPattern is SENSITIVE_NAME_RE from find_dangerous_apis.py, reused
// verbatim (as a regexp2 pattern) by the source scanner and CFG analyzer per
// spec.md §3's "Sensitive-object descriptor" note that an empty descriptor
// list falls back to this built-in pattern.
const defaultPattern = `(?i)(?:\b(Key|PrivateKey|SecretKey|SigningKey|MasterKey|HmacKey|` +
	`Password|Passphrase|Pin|Token|AuthToken|BearerToken|ApiKey|` +
	`Secret|SharedSecret|PreSharedKey|Nonce|Seed|Entropy|` +
	`Credential|SessionKey|DerivedKey)\b` +
	`|(?<![a-zA-Z])(key|secret|password|token|nonce|seed|private|master|credential)(?![a-zA-Z]))`

// localPattern is SENSITIVE_LOCAL_RE from check_mir_patterns.py: the
// lowercase-lookaround branch only, no PascalCase alternation (MIR locals
// are never PascalCase).
const localPattern = `(?i)(?<![a-zA-Z])(key|secret|password|token|nonce|seed|private|master|credential)(?![a-zA-Z])`

// Descriptor is one entry of the sensitive-object list accepted by the
// MIR/ASM analyzers (spec.md §3/§6): a language tag plus a symbol or type
// name to additionally treat as sensitive.
type Descriptor struct {
	Language string `json:"language"`
	Name     string `json:"name"`
}

// Matcher wraps one compiled regexp2 pattern plus the set of extra names
// composed into it. It must be built once per analyzer run and shared
// across detector functions (spec.md §9 "Dynamic regex composition"), never
// recompiled per line.
type Matcher struct {
	re *regexp2.Regexp
}

// NewDefault builds the matcher for the source scanner and CFG analyzer
// (PascalCase + lowercase-lookaround).
func NewDefault(extra []Descriptor) *Matcher {
	return build(defaultPattern, extra)
}

// NewLocal builds the matcher for the MIR analyzer (lowercase-lookaround
// only, matching Rust's snake_case local-variable convention).
func NewLocal(extra []Descriptor) *Matcher {
	return build(localPattern, extra)
}

func build(base string, extra []Descriptor) *Matcher {
	pattern := base
	if len(extra) > 0 {
		var names []string
		for _, d := range extra {
			names = append(names, regexp.QuoteMeta(d.Name))
		}
		pattern = pattern + `|\b(?:` + strings.Join(names, "|") + `)\b`
	}
	re := regexp2.MustCompile(pattern, regexp2.None)
	return &Matcher{re: re}
}

// MatchString reports whether s contains a sensitive name.
func (m *Matcher) MatchString(s string) bool {
	ok, _ := m.re.MatchString(s)
	return ok
}

// IsZeroizingType reports whether a Rust type name is one of the
// zeroize-crate family that the MIR analyzer treats as already safe
// (Zeroiz(e|ing)?|ZeroizeOnDrop|SecretBox).
func IsZeroizingType(name string) bool {
	re := regexp2.MustCompile(`(?i)(Zeroiz|ZeroizeOnDrop|SecretBox|Zeroizing)`, regexp2.None)
	ok, _ := re.MatchString(name)
	return ok
}
