package migration

import (
	"fmt"
	"sort"
)

// Plan is a validated, ordered set of units.
type Plan struct {
	units []Unit
	index map[string]int
}

// Resolve validates units and orders them. Empty names, missing up operations
// and names rejected by the ordering are configuration errors; so are
// duplicate names, all of which are reported together.
func Resolve(units []Unit, ordering Ordering) (*Plan, error) {
	if ordering == nil {
		ordering = LexicalOrder{}
	}

	seen := make(map[string]int, len(units))
	var duplicates []string
	for i, unit := range units {
		if unit.Name == "" {
			return nil, &ConfigError{Op: "resolve", Err: fmt.Errorf("%w: unit %d has an empty name", ErrInvalidUnit, i)}
		}
		if unit.Up == nil {
			return nil, &ConfigError{Op: "resolve", Names: []string{unit.Name}, Err: fmt.Errorf("%w: no up operation", ErrInvalidUnit)}
		}
		if err := ordering.Check(unit.Name); err != nil {
			return nil, &ConfigError{Op: "resolve", Names: []string{unit.Name}, Err: err}
		}
		seen[unit.Name]++
		if seen[unit.Name] == 2 {
			duplicates = append(duplicates, unit.Name)
		}
	}
	if len(duplicates) > 0 {
		sort.Strings(duplicates)
		return nil, &ConfigError{Op: "resolve", Names: duplicates, Err: ErrDuplicateName}
	}

	ordered := append([]Unit(nil), units...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordering.Less(ordered[i].Name, ordered[j].Name)
	})

	index := make(map[string]int, len(ordered))
	for i, unit := range ordered {
		index[unit.Name] = i
	}

	return &Plan{units: ordered, index: index}, nil
}

// Units returns the ordered units.
func (p *Plan) Units() []Unit {
	return append([]Unit(nil), p.units...)
}

// Names returns the ordered unit names.
func (p *Plan) Names() []string {
	names := make([]string, len(p.units))
	for i, unit := range p.units {
		names[i] = unit.Name
	}
	return names
}

// Len returns the number of units in the plan.
func (p *Plan) Len() int {
	return len(p.units)
}

// Lookup returns the unit with the given name.
func (p *Plan) Lookup(name string) (Unit, bool) {
	i, ok := p.index[name]
	if !ok {
		return Unit{}, false
	}
	return p.units[i], true
}

// Index returns the position of name in the plan, or -1.
func (p *Plan) Index(name string) int {
	if i, ok := p.index[name]; ok {
		return i
	}
	return -1
}

// split partitions the plan against an executed snapshot. executed and pending
// keep plan order; unknown keeps snapshot order.
func (p *Plan) split(snapshot []string) (executed, pending []Unit, unknown []string) {
	done := make(map[string]bool, len(snapshot))
	for _, name := range snapshot {
		if _, ok := p.index[name]; !ok {
			if !done[name] {
				unknown = append(unknown, name)
			}
			done[name] = true
			continue
		}
		done[name] = true
	}
	for _, unit := range p.units {
		if done[unit.Name] {
			executed = append(executed, unit)
		} else {
			pending = append(pending, unit)
		}
	}
	return executed, pending, unknown
}

func unitNames(units []Unit) []string {
	names := make([]string, len(units))
	for i, unit := range units {
		names[i] = unit.Name
	}
	return names
}
