package models

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jmtorr3/blog/internal/apperr"
)

// BlockType tags the kind of a content block.
type BlockType string

const (
	BlockText     BlockType = "text"
	BlockImage    BlockType = "image"
	BlockVideo    BlockType = "video"
	BlockCode     BlockType = "code"
	BlockHeading  BlockType = "heading"
	BlockImageRow BlockType = "image-row"
)

// Valid reports whether t is one of the known block kinds.
func (t BlockType) Valid() bool {
	switch t {
	case BlockText, BlockImage, BlockVideo, BlockCode, BlockHeading, BlockImageRow:
		return true
	}
	return false
}

// Block is one unit of a post's content.
//
// Only image and image-row blocks carry media references, exposed as typed
// fields. Every other key (content, caption, language, columns, ...) is kept
// verbatim in Extra so that editor payloads round-trip untouched.
type Block struct {
	ID     string
	Type   BlockType
	Src    string       // image only
	Images []ImageEntry // image-row only
	Extra  map[string]json.RawMessage
}

// ImageEntry is one image inside an image-row block.
type ImageEntry struct {
	Src   string
	Extra map[string]json.RawMessage
}

// MediaURL returns the media URL held at entry; entry -1 addresses the
// block's own src.
func (b *Block) MediaURL(entry int) string {
	if entry < 0 {
		return b.Src
	}
	return b.Images[entry].Src
}

// SetMediaURL replaces the media URL held at entry (see MediaURL).
func (b *Block) SetMediaURL(entry int, url string) {
	if entry < 0 {
		b.Src = url
		return
	}
	b.Images[entry].Src = url
}

// UnmarshalJSON decodes a block object, rejecting missing ids and unknown types.
func (b *Block) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil || raw == nil {
		return apperr.Invalid("", "each block must be an object")
	}

	var id string
	if v, ok := raw["id"]; !ok || json.Unmarshal(v, &id) != nil || id == "" {
		return apperr.Invalid("id", "each block must have an id")
	}
	var typ BlockType
	v, ok := raw["type"]
	if !ok || json.Unmarshal(v, &typ) != nil || typ == "" {
		return apperr.Invalid("type", "each block must have a type")
	}
	if !typ.Valid() {
		return apperr.Invalid("type", "invalid block type: %s", typ)
	}
	delete(raw, "id")
	delete(raw, "type")

	out := Block{ID: id, Type: typ}
	switch typ {
	case BlockImage:
		src, err := stringField(raw, "src")
		if err != nil {
			return apperr.Invalid("src", "%v", err)
		}
		out.Src = src
		delete(raw, "src")
	case BlockImageRow:
		if v, ok := raw["images"]; ok {
			var entries []map[string]json.RawMessage
			if err := json.Unmarshal(v, &entries); err != nil {
				return apperr.Invalid("images", "must be a list of objects")
			}
			for i, e := range entries {
				src, err := stringField(e, "src")
				if err != nil {
					return apperr.Invalid(fmt.Sprintf("images[%d].src", i), "%v", err)
				}
				delete(e, "src")
				out.Images = append(out.Images, ImageEntry{Src: src, Extra: e})
			}
			delete(raw, "images")
		}
	}
	if len(raw) > 0 {
		out.Extra = raw
	}
	*b = out
	return nil
}

// MarshalJSON re-assembles the block object from its typed fields and Extra.
func (b Block) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(b.Extra)+3)
	for k, v := range b.Extra {
		obj[k] = v
	}
	obj["id"] = b.ID
	obj["type"] = b.Type
	switch b.Type {
	case BlockImage:
		obj["src"] = b.Src
	case BlockImageRow:
		images := make([]map[string]any, 0, len(b.Images))
		for _, e := range b.Images {
			m := make(map[string]any, len(e.Extra)+1)
			for k, v := range e.Extra {
				m[k] = v
			}
			m["src"] = e.Src
			images = append(images, m)
		}
		obj["images"] = images
	}
	return json.Marshal(obj)
}

func stringField(m map[string]json.RawMessage, key string) (string, error) {
	v, ok := m[key]
	if !ok || string(v) == "null" {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", fmt.Errorf("must be a string")
	}
	return s, nil
}

// Blocks is the ordered block sequence of a post.
type Blocks []Block

// UnmarshalJSON decodes the sequence, prefixing validation errors with the
// offending block index.
func (bs *Blocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return apperr.Invalid("blocks", "blocks must be a list")
	}
	out := make(Blocks, 0, len(raws))
	for i, r := range raws {
		var b Block
		if err := json.Unmarshal(r, &b); err != nil {
			return prefixField(fmt.Sprintf("blocks[%d]", i), err)
		}
		out = append(out, b)
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*bs = out
	return nil
}

// Validate checks that block ids are unique within the sequence.
func (bs Blocks) Validate() error {
	seen := make(map[string]int, len(bs))
	for i, b := range bs {
		if b.ID == "" {
			return apperr.Invalid(fmt.Sprintf("blocks[%d].id", i), "each block must have an id")
		}
		if !b.Type.Valid() {
			return apperr.Invalid(fmt.Sprintf("blocks[%d].type", i), "invalid block type: %s", b.Type)
		}
		if j, dup := seen[b.ID]; dup {
			return apperr.Invalid(fmt.Sprintf("blocks[%d].id", i), "duplicate block id %q (also blocks[%d])", b.ID, j)
		}
		seen[b.ID] = i
	}
	return nil
}

// Clone returns a deep copy of the media-bearing parts of the sequence.
// Extra payloads are shared since they are never mutated in place.
func (bs Blocks) Clone() Blocks {
	if bs == nil {
		return nil
	}
	out := make(Blocks, len(bs))
	for i, b := range bs {
		out[i] = b
		if b.Images != nil {
			out[i].Images = append([]ImageEntry(nil), b.Images...)
		}
	}
	return out
}

func prefixField(prefix string, err error) error {
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		field := prefix
		if ve.Field != "" {
			field += "." + ve.Field
		}
		return &apperr.ValidationError{Field: field, Message: ve.Message}
	}
	return apperr.Invalid(prefix, "%v", err)
}
