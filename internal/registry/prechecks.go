package registry

import (
	"fmt"
	"slices"
	"strings"
	"unicode"

	goahocorasick "github.com/anknown/ahocorasick"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"

	"github.com/danmuck/relaychat/internal/session"
)

var validate = validator.New()

// UniqueUsername rejects a candidate whose name is already held by a
// member. Comparison is case-sensitive.
func UniqueUsername() Precheck {
	return func(candidate *session.Session, members []*session.Session) Verdict {
		name := candidate.Name()
		taken := lo.ContainsBy(members, func(m *session.Session) bool {
			return m.Name() == name
		})
		if taken {
			return Reject(fmt.Sprintf("Username %s is already in use.", name))
		}
		return Accept()
	}
}

// UsernameRules rejects blank, overlong or unprintable names.
func UsernameRules(maxLen int) Precheck {
	tag := "required"
	if maxLen > 0 {
		tag = fmt.Sprintf("required,max=%d", maxLen)
	}
	return func(candidate *session.Session, _ []*session.Session) Verdict {
		name := candidate.Name()
		if strings.TrimSpace(name) == "" {
			return Reject("Username must not be empty.")
		}
		if err := validate.Var(name, tag); err != nil {
			return Reject(fmt.Sprintf("Username must be at most %d characters.", maxLen))
		}
		if strings.IndexFunc(name, func(r rune) bool { return !unicode.IsPrint(r) }) >= 0 {
			return Reject("Username contains unprintable characters.")
		}
		return Accept()
	}
}

// BannedNames rejects names containing any of words. Matching ignores
// case, punctuation and common leet substitutions.
func BannedNames(words []string) (Precheck, error) {
	patterns := make([][]rune, 0, len(words))
	for _, w := range words {
		if p := normalizeName(w); len(p) > 0 {
			patterns = append(patterns, p)
		}
	}
	slices.SortFunc(patterns, slices.Compare[[]rune])
	patterns = slices.CompactFunc(patterns, slices.Equal[[]rune])
	if len(patterns) == 0 {
		return func(*session.Session, []*session.Session) Verdict { return Accept() }, nil
	}
	m := new(goahocorasick.Machine)
	if err := m.Build(patterns); err != nil {
		return nil, fmt.Errorf("registry: build banned names matcher: %w", err)
	}
	return func(candidate *session.Session, _ []*session.Session) Verdict {
		name := candidate.Name()
		norm := normalizeName(name)
		if len(norm) == 0 {
			return Accept()
		}
		if hits := m.MultiPatternSearch(norm, true); len(hits) > 0 {
			return Reject(fmt.Sprintf("Username %s is not allowed.", name))
		}
		return Accept()
	}, nil
}

func normalizeName(s string) []rune {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		r = unleet(r)
		if unicode.IsPunct(r) || unicode.IsSpace(r) || unicode.IsSymbol(r) {
			continue
		}
		out = append(out, unicode.ToLower(r))
	}
	return out
}

func unleet(r rune) rune {
	switch r {
	case '4', '@':
		return 'a'
	case '3', '€':
		return 'e'
	case '1', '!', '|':
		return 'i'
	case '0':
		return 'o'
	case '5', '$':
		return 's'
	case '7':
		return 't'
	default:
		return r
	}
}
