package dweb

import (
	"reflect"

	"github.com/e-e-e/dweb-transport/codec"
)

// Match reports whether the record satisfies every predicate in pred.
//
// Special keys:
//
//	.instanceof   a type tag or a Record whose tag must equal this one's;
//	              SmartDictTag matches every record
//	_urls         a URL set that must intersect the record's URLs
//	_publicurls   a URL set that must intersect the record's public URLs
//
// Every other key compares the field for equality after both sides are
// normalised to their decoded shapes.
func (d *SmartDict) Match(pred Fields) bool {
	if len(pred) == 0 {
		return true
	}
	fields := d.self.Fields()
	for k, want := range pred {
		switch k {
		case ".instanceof":
			if !d.instanceOf(want) {
				return false
			}
		case "_urls":
			if !intersects(d.URLs(), toStrings(want)) {
				return false
			}
		case "_publicurls":
			pu, ok := d.self.(interface{ PublicURLs() []string })
			if !ok || !intersects(pu.PublicURLs(), toStrings(want)) {
				return false
			}
		default:
			got, ok := fields[k]
			if !ok || !equalValues(got, want) {
				return false
			}
		}
	}
	return true
}

// instanceOf matches the record's own tag. Every record type embeds
// SmartDict, so SmartDictTag matches any record.
func (d *SmartDict) instanceOf(want any) bool {
	var tag string
	switch x := want.(type) {
	case string:
		tag = x
	case Record:
		tag = x.Dict().Table()
	default:
		return false
	}
	return tag == SmartDictTag || tag == d.table
}

func intersects(a, b []string) bool {
	set := make(map[string]struct{}, len(a))
	for _, s := range a {
		set[s] = struct{}{}
	}
	for _, s := range b {
		if _, ok := set[s]; ok {
			return true
		}
	}
	return false
}

func equalValues(a, b any) bool {
	ea, err := encodeValue(a)
	if err != nil {
		return false
	}
	eb, err := encodeValue(b)
	if err != nil {
		return false
	}
	na, err := codec.Normalize(ea)
	if err != nil {
		return false
	}
	nb, err := codec.Normalize(eb)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(na, nb)
}
