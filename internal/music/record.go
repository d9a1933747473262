package music

import (
	"time"

	"github.com/nekokan/musicwa/internal/jsonvalue"
)

// DateLayout is the record date format, e.g. 2024/03/09.
const DateLayout = "2006/01/02"

// NewRecord returns the skeleton the editor starts a new record from: one
// empty track, release year 2000, score 1 and the given date.
func NewRecord(title string, date time.Time) jsonvalue.Value {
	empty := jsonvalue.Array()
	str := jsonvalue.String

	track := jsonvalue.Object(map[string]jsonvalue.Value{
		"disc_no":  jsonvalue.Int(1),
		"no":       jsonvalue.Int(1),
		"title":    str(""),
		"composer": str(""),
		"length":   str(""),
	})

	return jsonvalue.Object(map[string]jsonvalue.Value{
		"title": str(title),
		"janre": jsonvalue.Object(map[string]jsonvalue.Value{
			"main": str(""),
			"sub":  empty,
		}),
		"label":        str(""),
		"id":           str(""),
		"release_year": jsonvalue.Int(2000),
		"record_year":  empty,
		"personnel": jsonvalue.Object(map[string]jsonvalue.Value{
			"conductor": empty,
			"orchestra": empty,
			"company":   empty,
			"leader":    empty,
			"sidemen":   empty,
		}),
		"tracks":     jsonvalue.Array(track),
		"score":      jsonvalue.Int(1),
		"comment":    str(""),
		"date":       str(date.Format(DateLayout)),
		"references": empty,
	})
}
