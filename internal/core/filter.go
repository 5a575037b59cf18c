package core

import "strings"

// Predicate tests a single user. New filter kinds implement this interface;
// Evaluate never needs to change.
type Predicate interface {
	Kind() string
	Match(user *SpaceUser) bool
}

// PredicateKindContainsName identifies the ContainsName predicate on the wire.
const PredicateKindContainsName = "contains_name"

// ContainsName matches users whose display name contains Value (case-sensitive).
type ContainsName struct {
	Value string
}

func (ContainsName) Kind() string { return PredicateKindContainsName }

func (p ContainsName) Match(user *SpaceUser) bool {
	return strings.Contains(user.Name, p.Value)
}

// UnsupportedPredicate stands in for a filter kind this relay does not know.
// It never matches.
type UnsupportedPredicate struct {
	Name string
}

func (p UnsupportedPredicate) Kind() string { return p.Name }

func (UnsupportedPredicate) Match(*SpaceUser) bool { return false }

// SpaceFilter is a named predicate scoped to one space.
type SpaceFilter struct {
	Name      string
	Space     string
	Predicate Predicate
}

// Evaluate reports whether user passes filter. A missing predicate or user
// fails closed.
func Evaluate(filter SpaceFilter, user *SpaceUser) bool {
	if filter.Predicate == nil || user == nil {
		return false
	}
	return filter.Predicate.Match(user)
}
