package hierarchy

import "fmt"

// Kind is the structural role of a node in the taxonomy.
type Kind int

const (
	// KindRoot is the single top-level node.
	KindRoot Kind = iota
	// KindDomain groups categories (for example "Cybersecurity & Data Protection Governance").
	KindDomain
	// KindCategory groups controls inside a domain.
	KindCategory
	// KindControl is a single control. It is a container when it has mappings.
	KindControl
	// KindMapping is a leaf carrying one requirement token of one regime.
	KindMapping
)

var kindNames = [...]string{
	KindRoot:     "root",
	KindDomain:   "domain",
	KindCategory: "category",
	KindControl:  "control",
	KindMapping:  "mapping",
}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// ParseKind is the inverse of [Kind.String].
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown node kind %q", s)
}

// MarshalText encodes the kind by name so JSON output stays readable.
func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText decodes a kind name.
func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}
