// Package music knows the shape of a music record well enough to label,
// summarize and lint it. Nothing here is enforced on save: the store accepts
// any valid JSON.
package music

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// ArtistTitleSep separates the artist (or label) from the title in display
// labels, e.g. "Bill Evans: Alone".
const ArtistTitleSep = ": "

// UnknownArtist stands in when a record names no performer.
const UnknownArtist = "[Artist Unknown]"

// GenreGame is the main genre whose records are labelled by publisher.
const GenreGame = "Game"

// DisplayLabel computes the sidebar label for a record.
//
// Game records are labelled "{label}: {title}". Everything else uses the
// first performer found in this order: a single leader, several leaders
// ("name et al."), group, soloists, conductor, orchestra.
func DisplayLabel(v jsonvalue.Value) string {
	title := v.Lookup("title").Text()

	if v.Lookup("janre", "main").Text() == GenreGame {
		return clean(v.Lookup("label").Text() + ArtistTitleSep + title)
	}

	personnel := v.Lookup("personnel")
	leaders := personnel.Lookup("leader")

	var artist string
	switch {
	case leaders.Kind() == jsonvalue.KindArray && leaders.Len() == 1:
		artist = firstName(leaders)
	case leaders.Kind() == jsonvalue.KindArray && leaders.Len() > 1:
		artist = firstName(leaders) + " et al."
	default:
		artist = UnknownArtist
		for _, role := range []string{"group", "soloists", "conductor", "orchestra"} {
			if name, ok := firstNameOK(personnel.Lookup(role)); ok {
				artist = name
				break
			}
		}
	}
	return clean(artist + ArtistTitleSep + title)
}

func firstName(list jsonvalue.Value) string {
	name, _ := firstNameOK(list)
	return name
}

func firstNameOK(list jsonvalue.Value) (string, bool) {
	if list.Kind() != jsonvalue.KindArray || list.Len() == 0 {
		return "", false
	}
	return list.Index(0).Lookup("name").AsText()
}

func clean(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// PrimaryArtist returns the first soloist or leader, or "".
func PrimaryArtist(v jsonvalue.Value) string {
	personnel := v.Lookup("personnel")
	for _, role := range []string{"soloists", "leader"} {
		if name, ok := firstNameOK(personnel.Lookup(role)); ok {
			return name
		}
	}
	return ""
}

// PersonnelText summarizes the personnel block for full-text search, e.g.
// "Personnel: Leader: Bill Evans; Sidemen: Scott LaFaro. ".
func PersonnelText(v jsonvalue.Value) string {
	personnel := v.Lookup("personnel")
	roles := []struct{ key, title string }{
		{"leader", "Leader"},
		{"sidemen", "Sidemen"},
		{"conductor", "Conductor"},
		{"orchestra", "Orchestra"},
		{"soloists", "Soloists"},
	}

	var parts []string
	for _, role := range roles {
		list := personnel.Lookup(role.key)
		if list.Len() == 0 {
			continue
		}
		var names []string
		for _, member := range list.Items() {
			if name, ok := member.Lookup("name").AsText(); ok {
				names = append(names, name)
			}
		}
		if len(names) > 0 {
			parts = append(parts, role.title+": "+strings.Join(names, ", "))
		}
	}
	if len(parts) == 0 {
		return ""
	}
	return "Personnel: " + strings.Join(parts, "; ") + ". "
}

// SearchText is the text indexed for search: label, genres, personnel,
// track titles and comment.
func SearchText(v jsonvalue.Value) string {
	var b strings.Builder
	b.WriteString(DisplayLabel(v))
	b.WriteString(". ")

	if main := v.Lookup("janre", "main").Text(); main != "" {
		b.WriteString("Genre: " + main)
		for _, sub := range v.Lookup("janre", "sub").Items() {
			if s, ok := sub.AsText(); ok {
				b.WriteString(", " + s)
			}
		}
		b.WriteString(". ")
	}
	b.WriteString(PersonnelText(v))
	for _, track := range v.Lookup("tracks").Items() {
		if title := track.Lookup("title").Text(); title != "" {
			b.WriteString(title + ". ")
		}
	}
	if comment := v.Lookup("comment").Text(); comment != "" {
		b.WriteString(comment)
	}
	return norm.NFC.String(strings.TrimSpace(b.String()))
}
