package compiler

import (
	"sort"
	"strings"
)

// FeatureSet is a bitmask of opt-in language features.
type FeatureSet uint32

// Known features.
const (
	// FeatureGoto permits goto statements and labels.
	FeatureGoto FeatureSet = 1 << iota
	// FeatureVarargs permits '...' in the main chunk.
	FeatureVarargs
)

var featureNames = map[string]FeatureSet{
	"goto":    FeatureGoto,
	"varargs": FeatureVarargs,
}

// LookupFeature returns the feature named name.
func LookupFeature(name string) (FeatureSet, bool) {
	f, ok := featureNames[name]
	return f, ok
}

// Has reports whether every feature in f is in s.
func (s FeatureSet) Has(f FeatureSet) bool {
	return s&f == f
}

// Names returns the sorted names of the features in s.
func (s FeatureSet) Names() []string {
	var names []string
	for name, f := range featureNames {
		if s.Has(f) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (s FeatureSet) String() string {
	if s == 0 {
		return "none"
	}
	return strings.Join(s.Names(), ",")
}
