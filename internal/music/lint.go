package music

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// Problem is one advisory finding about a record field.
type Problem struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (p Problem) String() string {
	return p.Field + ": " + p.Message
}

// Field length limits.
const (
	maxName   = 128
	maxShort  = 64
	minYear   = 1900
	maxYear   = 2099
	minScore  = 1
	maxScore  = 6
	maxTracks = 64
)

type linter struct {
	problems []Problem
}

func (l *linter) add(field, format string, args ...any) {
	l.problems = append(l.problems, Problem{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (l *linter) required(field string, v jsonvalue.Value, max int) {
	s, ok := v.AsText()
	switch {
	case !ok || s == "":
		l.add(field, "required")
	case utf8.RuneCountInString(s) > max:
		l.add(field, "must be %d characters or less", max)
	}
}

func (l *linter) optional(field string, v jsonvalue.Value, max int) {
	if v.IsNull() {
		return
	}
	s, ok := v.AsText()
	if !ok {
		l.add(field, "must be a string")
		return
	}
	if utf8.RuneCountInString(s) > max {
		l.add(field, "must be %d characters or less", max)
	}
}

// Lint checks a record against the editor's form rules and returns the
// problems sorted by field. An empty result means the record is clean.
func Lint(v jsonvalue.Value) []Problem {
	l := &linter{}
	if v.Kind() != jsonvalue.KindObject {
		l.add("$", "record must be a JSON object")
		return l.problems
	}

	l.required("title", v.Lookup("title"), maxName)
	if v.Lookup("janre", "main").Text() == "" {
		l.add("janre.main", "select a main genre")
	}
	if v.Lookup("janre", "sub").Len() == 0 {
		l.add("janre.sub", "select at least one sub genre")
	}
	l.required("label", v.Lookup("label"), maxShort)
	l.required("id", v.Lookup("id"), maxShort)

	if y, ok := intOf(v.Lookup("release_year")); !ok || !validYear(y) {
		l.add("release_year", "must be an integer between %d and %d", minYear, maxYear)
	}
	years := v.Lookup("record_year")
	if years.Len() == 0 {
		l.add("record_year", "at least one recording year is required")
	}
	for _, y := range years.Items() {
		if n, ok := intOf(y); !ok || !validYear(n) {
			l.add("record_year", "each year must be between %d and %d", minYear, maxYear)
			break
		}
	}

	l.personnel(v.Lookup("personnel"))
	l.tracks(v.Lookup("tracks"))

	if s, ok := intOf(v.Lookup("score")); !ok || s < minScore || s > maxScore {
		l.add("score", "must be between %d and %d", minScore, maxScore)
	}
	if !validDate(v.Lookup("date").Text()) {
		l.add("date", "must be YYYY/MM/DD")
	}
	for i, ref := range v.Lookup("references").Items() {
		field := fmt.Sprintf("references[%d]", i)
		l.optional(field+".name", ref.Lookup("name"), maxName)
		if !validURL(ref.Lookup("url").Text()) {
			l.add(field+".url", "must be an http or https URL")
		}
	}

	sort.SliceStable(l.problems, func(i, j int) bool {
		return l.problems[i].Field < l.problems[j].Field
	})
	return l.problems
}

func (l *linter) personnel(p jsonvalue.Value) {
	for _, role := range []string{"conductor", "orchestra", "company", "leader", "sidemen", "soloists"} {
		for i, member := range p.Lookup(role).Items() {
			field := fmt.Sprintf("personnel.%s[%d]", role, i)
			l.optional(field+".name", member.Lookup("name"), maxName)
			l.optional(field+".instruments", member.Lookup("instruments"), maxName)
			l.optional(field+".tracks", member.Lookup("tracks"), maxTracks)
		}
	}
	for gi, group := range p.Lookup("group").Items() {
		field := fmt.Sprintf("personnel.group[%d]", gi)
		l.required(field+".name", group.Lookup("name"), maxName)
		l.required(field+".abbr", group.Lookup("abbr"), maxShort)
		for mi, member := range group.Lookup("members").Items() {
			mfield := fmt.Sprintf("%s.members[%d]", field, mi)
			l.required(mfield+".name", member.Lookup("name"), maxName)
			l.required(mfield+".instruments", member.Lookup("instruments"), maxName)
			l.required(mfield+".tracks", member.Lookup("tracks"), maxTracks)
		}
	}
}

func (l *linter) tracks(tracks jsonvalue.Value) {
	if tracks.Len() == 0 {
		l.add("tracks", "at least one track is required")
		return
	}
	for i, track := range tracks.Items() {
		field := fmt.Sprintf("tracks[%d]", i)
		l.optional(field+".title", track.Lookup("title"), maxName)
		// composer may be a string or a list of names.
		composer := track.Lookup("composer")
		if composer.Kind() == jsonvalue.KindArray {
			var names []string
			for _, c := range composer.Items() {
				names = append(names, c.Text())
			}
			composer = jsonvalue.String(strings.Join(names, ", "))
		}
		l.optional(field+".composer", composer, maxName)
		if !validLength(track.Lookup("length").Text()) {
			l.add(field+".length", "must be minutes:seconds, e.g. 4:46")
		}
	}
}

func intOf(v jsonvalue.Value) (int, bool) {
	n, ok := v.AsNumber()
	if !ok {
		return 0, false
	}
	i, err := strconv.Atoi(string(n))
	if err != nil {
		return 0, false
	}
	return i, true
}

func validYear(y int) bool {
	return y >= minYear && y <= maxYear
}

func validLength(s string) bool {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return false
	}
	for _, p := range parts {
		if _, err := strconv.Atoi(strings.TrimSpace(p)); err != nil {
			return false
		}
	}
	return true
}

func validDate(s string) bool {
	parts := strings.Split(s, "/")
	if len(parts) != 3 || len(parts[0]) != 4 || len(parts[1]) != 2 || len(parts[2]) != 2 {
		return false
	}
	for _, p := range parts {
		if _, err := strconv.ParseUint(p, 10, 32); err != nil {
			return false
		}
	}
	return true
}

func validURL(s string) bool {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "http://") && !strings.HasPrefix(s, "https://") {
		return false
	}
	return len(s) > 10 && strings.IndexFunc(s, unicode.IsSpace) < 0
}
