// Package factors orders and selects sign-in factors. Everything here is pure:
// the functions take factor lists and return new ones.
package factors

import (
	"slices"

	"github.com/wondertwin-ai/clerkflow/pkg/resources"
)

// Comparator orders two factors the way slices.SortStableFunc expects.
type Comparator func(a, b resources.Factor) int

// Preference is the instance-wide preferred first factor.
type Preference string

const (
	PreferOTP      Preference = "otp"
	PreferPassword Preference = "password"
)

// rank returns a factor's position in order; strategies not listed share the
// last position so their server order is kept.
func rank(order []resources.Strategy, f resources.Factor) int {
	if i := slices.Index(order, f.Strategy()); i >= 0 {
		return i
	}
	return len(order)
}

func byOrder(order ...resources.Strategy) Comparator {
	return func(a, b resources.Factor) int {
		return rank(order, a) - rank(order, b)
	}
}

var (
	// OTPPreferred puts magic links and one-time codes, email before phone,
	// ahead of passwords.
	OTPPreferred = byOrder(
		resources.StrategyEmailLink,
		resources.StrategyEmailCode,
		resources.StrategyPhoneCode,
		resources.StrategyPassword,
	)

	// PasswordPreferred puts passwords first, then magic links, then codes.
	PasswordPreferred = byOrder(
		resources.StrategyPassword,
		resources.StrategyEmailLink,
		resources.StrategyEmailCode,
		resources.StrategyPhoneCode,
	)

	// AllStrategies is the display order for the full list of alternatives.
	// It does not depend on the configured preference.
	AllStrategies = byOrder(
		resources.StrategyEmailLink,
		resources.StrategyEmailCode,
		resources.StrategyPhoneCode,
		resources.StrategyPassword,
	)
)

// ComparatorFor maps the preferred_sign_in_strategy setting to a comparator.
// Anything other than "password" prefers one-time codes.
func ComparatorFor(p Preference) Comparator {
	if p == PreferPassword {
		return PasswordPreferred
	}
	return OTPPreferred
}

// Sort returns a stably sorted copy of list.
func Sort(list []resources.Factor, cmp Comparator) []resources.Factor {
	out := slices.Clone(list)
	slices.SortStableFunc(out, cmp)
	return out
}

// Same reports whether cur is the factor that was last prepared. A nil prev
// never matches. Factors bound to different identifications never match.
func Same(prev, cur resources.Factor) bool {
	if prev == nil || cur == nil {
		return false
	}
	if prev.Strategy() != cur.Strategy() {
		return false
	}
	a, b := resources.FactorTarget(prev), resources.FactorTarget(cur)
	if a != "" && b != "" && a != b {
		return false
	}
	return true
}

// NeedsPrepare reports whether the server has to send something before the
// factor can be attempted.
func NeedsPrepare(f resources.Factor) bool {
	switch f.(type) {
	case resources.EmailCodeFactor, resources.PhoneCodeFactor, resources.EmailLinkFactor:
		return true
	}
	return false
}

// IsPassword reports whether f is the password factor.
func IsPassword(f resources.Factor) bool {
	_, ok := f.(resources.PasswordFactor)
	return ok
}

// IsDisplayable reports whether a factor can be offered in the first factor
// step: redirect-based and unknown factors are handled outside of it.
func IsDisplayable(f resources.Factor) bool {
	switch f.(type) {
	case resources.PasswordFactor, resources.EmailCodeFactor, resources.PhoneCodeFactor, resources.EmailLinkFactor:
		return true
	}
	return false
}

// StartingFirstFactor picks the factor the first factor step opens with.
// Among the factors ranked first by the preference, one that targets the
// identifier the user typed wins.
func StartingFirstFactor(list []resources.Factor, identifier string, p Preference) resources.Factor {
	candidates := make([]resources.Factor, 0, len(list))
	for _, f := range list {
		if IsDisplayable(f) {
			candidates = append(candidates, f)
		}
	}
	if len(candidates) == 0 {
		return nil
	}
	sorted := Sort(candidates, ComparatorFor(p))

	if p == PreferPassword && IsPassword(sorted[0]) {
		return sorted[0]
	}
	if identifier != "" {
		for _, f := range sorted {
			if !IsPassword(f) && resources.SafeIdentifier(f) == identifier {
				return f
			}
		}
	}
	return sorted[0]
}

// StartingSecondFactor picks the second factor: an authenticator app if the
// user has one, then the default phone, then whatever the server listed first.
func StartingSecondFactor(list []resources.Factor) resources.Factor {
	if len(list) == 0 {
		return nil
	}
	for _, f := range list {
		if _, ok := f.(resources.TOTPFactor); ok {
			return f
		}
	}
	for _, f := range list {
		if p, ok := f.(resources.PhoneCodeFactor); ok && p.Default {
			return f
		}
	}
	return list[0]
}

// Alternatives lists every factor other than current in display order.
func Alternatives(list []resources.Factor, current resources.Factor) []resources.Factor {
	out := make([]resources.Factor, 0, len(list))
	for _, f := range list {
		if current != nil && f.Strategy() == current.Strategy() &&
			resources.FactorTarget(f) == resources.FactorTarget(current) {
			continue
		}
		out = append(out, f)
	}
	return Sort(out, AllStrategies)
}
