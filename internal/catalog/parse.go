package catalog

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// primaryElement names the outer XML element that yields one result
// record per occurrence, for each opcode.
var primaryElement = map[Opcode]string{
	OpSearch:           "song",
	OpBrowseRoot:       "artist",
	OpBrowseArtist:     "album",
	OpBrowseAlbum:      "song",
	OpPlaylistRoot:     "playlist",
	OpPlaylistSongs:    "song",
	OpRadioStations:    "live_stream",
	OpTags:             "tag",
	OpShuffleFavorites: "song",
	OpShuffleArtist:    "song",
	OpShuffleRecent:    "song",
	OpShuffleTags:      "song",
	OpSong:             "song",
}

// multiValuedFields are joined with "|" into tags/genres rather than
// overwritten when an element repeats within one record.
var multiValuedFields = map[string]string{
	"tag":   "tags",
	"genre": "genres",
}

// recognizedFields is the flat element vocabulary the SAX walk collects.
var recognizedFields = map[string]bool{
	"album": true, "art": true, "artist": true, "flag": true,
	"name": true, "tag": true, "genre": true, "time": true,
	"title": true, "track": true, "url": true, "year": true,
}

// OpResult is one normalized result record: element attributes plus
// collected child text fields.
type OpResult map[string]string

// ParseReply walks r as a flat SAX pass, producing one OpResult per
// occurrence of op's primary element, or an error if the reply
// contains <error>/<errorMessage>.
func ParseReply(r io.Reader, op Opcode) ([]OpResult, error) {
	primary, ok := primaryElement[op]
	if !ok {
		return nil, fmt.Errorf("catalog: no primary element configured for opcode %d", op)
	}

	dec := xml.NewDecoder(r)
	var results []OpResult
	var current OpResult
	var currentField string
	var textBuf strings.Builder
	var errorText strings.Builder
	inError := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: xml decode: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			switch {
			case name == "error":
				inError = true
				for _, a := range t.Attr {
					if a.Name.Local == "code" {
						errorText.WriteString("code=" + a.Value + " ")
					}
				}
			case name == "errorMessage":
				inError = true
			case name == primary:
				current = OpResult{}
				for _, a := range t.Attr {
					if a.Name.Local == "id" {
						current["id"] = a.Value
					}
				}
			case recognizedFields[name]:
				currentField = name
				textBuf.Reset()
			}
		case xml.CharData:
			if inError {
				errorText.Write(t)
			} else if currentField != "" {
				textBuf.Write(t)
			}
		case xml.EndElement:
			name := t.Name.Local
			switch {
			case name == "error" || name == "errorMessage":
				inError = false
			case name == primary:
				if current != nil {
					results = append(results, current)
					current = nil
				}
			case recognizedFields[name] && currentField == name:
				if current != nil {
					value := strings.TrimSpace(textBuf.String())
					if dest, multi := multiValuedFields[name]; multi {
						if existing, ok := current[dest]; ok && existing != "" {
							current[dest] = existing + "|" + value
						} else {
							current[dest] = value
						}
					} else {
						current[name] = value
					}
				}
				currentField = ""
			}
		}
	}

	if errorText.Len() > 0 {
		return nil, fmt.Errorf("catalog: server error: %s", strings.TrimSpace(errorText.String()))
	}

	return results, nil
}

// parseHandshake walks a handshake reply's flat top-level elements
// (auth, api, songs) into a map, or returns the server's error text.
func parseHandshake(r io.Reader) (map[string]string, error) {
	dec := xml.NewDecoder(r)
	fields := map[string]bool{"auth": true, "api": true, "songs": true}
	out := map[string]string{}
	var current string
	var buf strings.Builder
	var errorText strings.Builder
	inError := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: xml decode: %w", err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			name := t.Name.Local
			switch {
			case name == "error" || name == "errorMessage":
				inError = true
			case fields[name]:
				current = name
				buf.Reset()
			}
		case xml.CharData:
			if inError {
				errorText.Write(t)
			} else if current != "" {
				buf.Write(t)
			}
		case xml.EndElement:
			name := t.Name.Local
			switch {
			case name == "error" || name == "errorMessage":
				inError = false
			case fields[name] && current == name:
				out[name] = strings.TrimSpace(buf.String())
				current = ""
			}
		}
	}

	if errorText.Len() > 0 {
		return nil, fmt.Errorf("catalog: handshake error: %s", strings.TrimSpace(errorText.String()))
	}
	return out, nil
}

// synthesizeTags backfills a result's "tags" field from "genres" when
// the server's API version returns genre elements instead of tag
// elements, per the tag-normalization contract.
func synthesizeTags(results []OpResult) {
	for _, r := range results {
		if _, ok := r["tags"]; !ok {
			if g, ok := r["genres"]; ok {
				r["tags"] = g
			}
		}
	}
}
